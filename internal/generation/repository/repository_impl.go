package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pixelcredit/internal/generation/domain"
	ledgerdomain "github.com/smallbiznis/pixelcredit/internal/ledger/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.Record) error {
	return db.WithContext(ctx).Create(record).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListRecordFilter) ([]*domain.Record, error) {
	var records []*domain.Record
	stmt := db.WithContext(ctx).
		Model(&domain.Record{}).
		Where("user_id = ?", filter.UserID)
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
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
	if err := stmt.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) ExistsSucceeded(ctx context.Context, db *gorm.DB, reservationID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Record{}).
		Where("reservation_id = ? AND status = ?", reservationID, domain.StatusSucceeded).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) Stats(ctx context.Context, db *gorm.DB) (domain.RecordStats, error) {
	var rows []struct {
		Status domain.Status
		Count  int64
		Cost   int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Record{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(cost), 0) AS cost").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return domain.RecordStats{}, err
	}

	var stats domain.RecordStats
	for _, row := range rows {
		stats.Total += row.Count
		switch row.Status {
		case domain.StatusSucceeded:
			stats.Succeeded = row.Count
			stats.CreditsSpent = row.Cost
		case domain.StatusFailed:
			stats.Failed = row.Count
		}
	}
	return stats, nil
}

// OutcomeLookup lets the ledger sweeper ask whether a reservation's generation succeeded.
type OutcomeLookup struct {
	db   *gorm.DB
	repo domain.Repository
}

func NewOutcomeLookup(db *gorm.DB, repo domain.Repository) *OutcomeLookup {
	return &OutcomeLookup{db: db, repo: repo}
}

func (o *OutcomeLookup) Succeeded(ctx context.Context, reservationID snowflake.ID) (bool, error) {
	return o.repo.ExistsSucceeded(ctx, o.db, reservationID)
}

var _ ledgerdomain.OutcomeLookup = (*OutcomeLookup)(nil)
