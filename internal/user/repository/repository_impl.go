package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pixelcredit/internal/user/domain"
	"gorm.io/gorm"
)

var sortColumns = map[string]string{
	"created_at":      "created_at asc, id asc",
	"-created_at":     "created_at desc, id desc",
	"email":           "email asc",
	"-email":          "email desc",
	"credit_balance":  "credit_balance asc, id asc",
	"-credit_balance": "credit_balance desc, id desc",
}

// ValidSort reports whether the sort key is supported by List.
func ValidSort(sort string) bool {
	if strings.TrimSpace(sort) == "" {
		return true
	}
	_, ok := sortColumns[strings.TrimSpace(sort)]
	return ok
}

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, user *domain.User) error {
	return db.WithContext(ctx).Create(user).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.User, error) {
	var user domain.User
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, nil
	}
	return &user, nil
}

func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	var user domain.User
	err := db.WithContext(ctx).
		Where("email = ?", email).
		Limit(1).
		Find(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, nil
	}
	return &user, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListUserFilter) ([]*domain.User, int64, error) {
	stmt := db.WithContext(ctx).Model(&domain.User{})
	if email := strings.TrimSpace(filter.Email); email != "" {
		stmt = stmt.Where("email LIKE ?", "%"+strings.ToLower(email)+"%")
	}
	if filter.Active != nil {
		stmt = stmt.Where("is_active = ?", *filter.Active)
	}

	var total int64
	if err := stmt.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order, ok := sortColumns[strings.TrimSpace(filter.Sort)]
	if !ok {
		order = sortColumns["-created_at"]
	}

	var users []*domain.User
	err := stmt.
		Order(order).
		Offset(filter.Offset).
		Limit(filter.Limit).
		Find(&users).Error
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (r *repo) UpdateProfile(ctx context.Context, db *gorm.DB, user *domain.User) error {
	return db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]any{
			"display_name": user.DisplayName,
			"updated_at":   user.UpdatedAt,
		}).Error
}

// SetActive flips is_active only when the row is still in the opposite state.
func (r *repo) SetActive(ctx context.Context, db *gorm.DB, user *domain.User) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ? AND is_active = ?", user.ID, !user.IsActive).
		Updates(map[string]any{
			"is_active":      user.IsActive,
			"deactivated_at": user.DeactivatedAt,
			"deactivated_by": user.DeactivatedBy,
			"updated_at":     user.UpdatedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) CountByActive(ctx context.Context, db *gorm.DB) (int64, int64, error) {
	var active, inactive int64
	if err := db.WithContext(ctx).Model(&domain.User{}).Where("is_active = ?", true).Count(&active).Error; err != nil {
		return 0, 0, err
	}
	if err := db.WithContext(ctx).Model(&domain.User{}).Where("is_active = ?", false).Count(&inactive).Error; err != nil {
		return 0, 0, err
	}
	return active, inactive, nil
}
