package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pixelcredit/internal/ledger/domain"
	userdomain "github.com/smallbiznis/pixelcredit/internal/user/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Debit(ctx context.Context, db *gorm.DB, userID snowflake.ID, amount int64, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&userdomain.User{}).
		Where("id = ? AND is_active = ? AND credit_balance >= ?", userID, true, amount).
		UpdateColumns(map[string]any{
			"credit_balance": gorm.Expr("credit_balance - ?", amount),
			"updated_at":     now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) Credit(ctx context.Context, db *gorm.DB, userID snowflake.ID, amount int64, requireActive bool, now time.Time) (bool, error) {
	stmt := db.WithContext(ctx).
		Model(&userdomain.User{}).
		Where("id = ?", userID)
	if requireActive {
		stmt = stmt.Where("is_active = ?", true)
	}
	res := stmt.UpdateColumns(map[string]any{
		"credit_balance": gorm.Expr("credit_balance + ?", amount),
		"updated_at":     now,
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) FindAccount(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.Account, error) {
	var user userdomain.User
	err := db.WithContext(ctx).
		Select("id", "credit_balance", "initial_grant", "is_active").
		Where("id = ?", userID).
		Limit(1).
		Find(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, nil
	}
	return &domain.Account{
		ID:            user.ID,
		CreditBalance: user.CreditBalance,
		InitialGrant:  user.InitialGrant,
		IsActive:      user.IsActive,
	}, nil
}

func (r *repo) InsertEntry(ctx context.Context, db *gorm.DB, entry *domain.Entry) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) ListEntries(ctx context.Context, db *gorm.DB, filter domain.ListEntryFilter) ([]*domain.Entry, error) {
	var entries []*domain.Entry
	stmt := db.WithContext(ctx).
		Model(&domain.Entry{}).
		Where("user_id = ?", filter.UserID)
	if filter.Reason != "" {
		stmt = stmt.Where("reason = ?", filter.Reason)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}
	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}
	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) SumEntries(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, int64, error) {
	var row struct {
		Total int64
		Count int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Entry{}).
		Select("COALESCE(SUM(amount), 0) AS total, COUNT(*) AS count").
		Where("user_id = ?", userID).
		Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return row.Total, row.Count, nil
}

func (r *repo) InsertReservation(ctx context.Context, db *gorm.DB, reservation *domain.Reservation) error {
	return db.WithContext(ctx).Create(reservation).Error
}

func (r *repo) FindReservation(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Reservation, error) {
	var reservation domain.Reservation
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&reservation).Error
	if err != nil {
		return nil, err
	}
	if reservation.ID == 0 {
		return nil, nil
	}
	return &reservation, nil
}

func (r *repo) Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, to domain.ReservationStatus, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Reservation{}).
		Where("id = ? AND status = ?", id, domain.ReservationReserved).
		UpdateColumns(map[string]any{
			"status":     to,
			"settled_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ListStale(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]*domain.Reservation, error) {
	var reservations []*domain.Reservation
	stmt := db.WithContext(ctx).
		Where("status = ? AND created_at < ?", domain.ReservationReserved, before).
		Order("created_at asc, id asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&reservations).Error; err != nil {
		return nil, err
	}
	return reservations, nil
}

func (r *repo) CountByStatus(ctx context.Context, db *gorm.DB) (map[domain.ReservationStatus]int64, error) {
	var rows []struct {
		Status domain.ReservationStatus
		Count  int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Reservation{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[domain.ReservationStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
