package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	GetSettings(ctx context.Context, db *gorm.DB) (*SystemSettings, error)
	SaveSettings(ctx context.Context, db *gorm.DB, settings *SystemSettings) error
	BumpSettingsVersion(ctx context.Context, db *gorm.DB, expected int64, settings *SystemSettings) (bool, error)

	ListServices(ctx context.Context, db *gorm.DB) ([]Service, error)
	FindServiceByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Service, error)
	InsertService(ctx context.Context, db *gorm.DB, svc *Service) error
	UpdateService(ctx context.Context, db *gorm.DB, svc *Service) error
	CountActiveByVariant(ctx context.Context, db *gorm.DB, variant string, excludeID snowflake.ID) (int64, error)

	ListPromotions(ctx context.Context, db *gorm.DB) ([]Promotion, error)
	ReplacePromotions(ctx context.Context, db *gorm.DB, promotions []Promotion) error

	InsertSettingsVersion(ctx context.Context, db *gorm.DB, version *SettingsVersion) error
	ListSettingsVersions(ctx context.Context, db *gorm.DB, limit int) ([]SettingsVersion, error)
}
