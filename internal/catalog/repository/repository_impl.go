package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pixelcredit/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) GetSettings(ctx context.Context, db *gorm.DB) (*domain.SystemSettings, error) {
	var settings domain.SystemSettings
	err := db.WithContext(ctx).
		Where("id = ?", domain.SettingsRowID).
		Limit(1).
		Find(&settings).Error
	if err != nil {
		return nil, err
	}
	if settings.ID == 0 {
		return nil, nil
	}
	return &settings, nil
}

func (r *repo) SaveSettings(ctx context.Context, db *gorm.DB, settings *domain.SystemSettings) error {
	return db.WithContext(ctx).Create(settings).Error
}

// BumpSettingsVersion writes new settings only if nobody else moved the version since expected was read.
func (r *repo) BumpSettingsVersion(ctx context.Context, db *gorm.DB, expected int64, settings *domain.SystemSettings) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.SystemSettings{}).
		Where("id = ? AND version = ?", domain.SettingsRowID, expected).
		Updates(map[string]any{
			"conversion_rate": settings.ConversionRate,
			"initial_credits": settings.InitialCredits,
			"version":         expected + 1,
			"updated_at":      settings.UpdatedAt,
			"updated_by":      settings.UpdatedBy,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	settings.Version = expected + 1
	return true, nil
}

func (r *repo) ListServices(ctx context.Context, db *gorm.DB) ([]domain.Service, error) {
	var services []domain.Service
	err := db.WithContext(ctx).
		Order("variant asc, code asc").
		Find(&services).Error
	return services, err
}

func (r *repo) FindServiceByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Service, error) {
	var svc domain.Service
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&svc).Error
	if err != nil {
		return nil, err
	}
	if svc.ID == 0 {
		return nil, nil
	}
	return &svc, nil
}

func (r *repo) InsertService(ctx context.Context, db *gorm.DB, svc *domain.Service) error {
	return db.WithContext(ctx).Create(svc).Error
}

func (r *repo) UpdateService(ctx context.Context, db *gorm.DB, svc *domain.Service) error {
	return db.WithContext(ctx).
		Model(&domain.Service{}).
		Where("id = ?", svc.ID).
		Updates(map[string]any{
			"name":          svc.Name,
			"variant":       svc.Variant,
			"supplier_cost": svc.SupplierCost,
			"customer_cost": svc.CustomerCost,
			"is_active":     svc.IsActive,
			"updated_at":    svc.UpdatedAt,
		}).Error
}

func (r *repo) CountActiveByVariant(ctx context.Context, db *gorm.DB, variant string, excludeID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Service{}).
		Where("variant = ? AND is_active = ? AND id <> ?", variant, true, excludeID).
		Count(&count).Error
	return count, err
}

func (r *repo) ListPromotions(ctx context.Context, db *gorm.DB) ([]domain.Promotion, error) {
	var promotions []domain.Promotion
	err := db.WithContext(ctx).
		Order("min_spend asc").
		Find(&promotions).Error
	return promotions, err
}

func (r *repo) ReplacePromotions(ctx context.Context, db *gorm.DB, promotions []domain.Promotion) error {
	if err := db.WithContext(ctx).Where("1 = 1").Delete(&domain.Promotion{}).Error; err != nil {
		return err
	}
	if len(promotions) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&promotions).Error
}

func (r *repo) InsertSettingsVersion(ctx context.Context, db *gorm.DB, version *domain.SettingsVersion) error {
	return db.WithContext(ctx).Create(version).Error
}

func (r *repo) ListSettingsVersions(ctx context.Context, db *gorm.DB, limit int) ([]domain.SettingsVersion, error) {
	var versions []domain.SettingsVersion
	err := db.WithContext(ctx).
		Order("version desc").
		Limit(limit).
		Find(&versions).Error
	return versions, err
}
