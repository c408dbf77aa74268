package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pixelcredit/internal/config"
)

type CreateServiceRequest struct {
	Code         string  `json:"code"`
	Name         string  `json:"name"`
	Variant      string  `json:"variant"`
	SupplierCost float64 `json:"supplier_cost"`
	CustomerCost float64 `json:"customer_cost"`
	Active       *bool   `json:"is_active"`
}

// UpdateServiceRequest applies only the fields that are set.
type UpdateServiceRequest struct {
	Name         *string  `json:"name"`
	Variant      *string  `json:"variant"`
	SupplierCost *float64 `json:"supplier_cost"`
	CustomerCost *float64 `json:"customer_cost"`
}

type UpdateSettingsRequest struct {
	ConversionRate float64 `json:"conversion_rate"`
	InitialCredits int64   `json:"initial_credits"`
}

type PromotionInput struct {
	MinSpend     float64 `json:"min_spend"`
	BonusCredits int64   `json:"bonus_credits"`
}

// Store is the admin-facing catalog. Every write invalidates the cached snapshot.
type Store interface {
	GetCatalog(ctx context.Context) (Catalog, error)
	ListServices(ctx context.Context) ([]Service, error)
	GetSettings(ctx context.Context) (SystemSettings, error)
	ListSettingsVersions(ctx context.Context, limit int) ([]SettingsVersion, error)

	CreateService(ctx context.Context, actorID snowflake.ID, req CreateServiceRequest) (Service, error)
	UpdateService(ctx context.Context, actorID, id snowflake.ID, req UpdateServiceRequest) (Service, error)
	SetServiceActive(ctx context.Context, actorID, id snowflake.ID, active bool) (Service, error)
	UpdateSettings(ctx context.Context, actorID snowflake.ID, req UpdateSettingsRequest) (SystemSettings, error)
	ReplacePromotions(ctx context.Context, actorID snowflake.ID, promotions []PromotionInput) ([]Promotion, error)

	EnsureDefaults(ctx context.Context, defaults config.CatalogDefaults) error
}

// Cache holds the latest catalog snapshot.
type Cache interface {
	Get(ctx context.Context) (Catalog, bool)
	Set(ctx context.Context, catalog Catalog)
	Invalidate(ctx context.Context)
}

var (
	ErrServiceNotFound    = errors.New("service_not_found")
	ErrSettingsMissing    = errors.New("settings_not_initialized")
	ErrInvalidRate        = errors.New("invalid_conversion_rate")
	ErrInvalidInitial     = errors.New("invalid_initial_credits")
	ErrInvalidName        = errors.New("invalid_service_name")
	ErrInvalidCode        = errors.New("invalid_service_code")
	ErrInvalidVariant     = errors.New("invalid_variant")
	ErrInvalidCost        = errors.New("invalid_cost")
	ErrInvalidPromotion   = errors.New("invalid_promotion")
	ErrDuplicateCode      = errors.New("duplicate_service_code")
	ErrDuplicatePromotion = errors.New("duplicate_promotion_threshold")
	ErrVariantConflict    = errors.New("variant_already_active")
	ErrConcurrentUpdate   = errors.New("concurrent_settings_update")
)
