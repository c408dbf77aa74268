// Package pricing turns catalog entries into credit prices.
package pricing

import (
	"context"
	"errors"
	"math"
	"strings"

	catalogdomain "github.com/smallbiznis/pixelcredit/internal/catalog/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("pricing",
	fx.Provide(NewResolver),
)

var (
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrInvalidVariant     = errors.New("invalid_variant")
	ErrInvalidAmount      = errors.New("invalid_amount")
)

// Quote is a price locked against one catalog snapshot.
type Quote struct {
	ServiceCode     string  `json:"service_code"`
	ServiceName     string  `json:"service_name"`
	Variant         string  `json:"variant"`
	CustomerCost    float64 `json:"customer_cost"`
	ConversionRate  float64 `json:"conversion_rate"`
	SettingsVersion int64   `json:"settings_version"`
	Credits         int64   `json:"credits"`
}

type Bonus struct {
	MinSpend     float64 `json:"min_spend"`
	BonusCredits int64   `json:"bonus_credits"`
}

type Resolver interface {
	PriceFor(ctx context.Context, variant string) (Quote, error)
	Quotes(ctx context.Context) ([]Quote, error)
	PromotionFor(ctx context.Context, spend float64) (Bonus, bool, error)
	CreditsToCurrency(ctx context.Context, credits int64) (float64, error)
}

type CatalogReader interface {
	GetCatalog(ctx context.Context) (catalogdomain.Catalog, error)
}

type resolver struct {
	catalog CatalogReader
	log     *zap.Logger
}

func NewResolver(catalog catalogdomain.Store, log *zap.Logger) Resolver {
	return New(catalog, log)
}

func New(catalog CatalogReader, log *zap.Logger) Resolver {
	return &resolver{catalog: catalog, log: log.Named("pricing.resolver")}
}

// PriceFor quotes a variant. Variants are matched case-insensitively, the same way
// the catalog stores them and generation requests name them.
func (r *resolver) PriceFor(ctx context.Context, variant string) (Quote, error) {
	variant = strings.ToLower(strings.TrimSpace(variant))
	if variant == "" {
		return Quote{}, ErrInvalidVariant
	}
	catalog, err := r.snapshot(ctx)
	if err != nil {
		return Quote{}, err
	}
	svc, ok := catalog.ActiveServiceFor(variant)
	if !ok {
		return Quote{}, ErrServiceUnavailable
	}
	return quote(svc, catalog.Settings)
}

// Quotes lists prices for every active service. Misconfigured entries are skipped.
func (r *resolver) Quotes(ctx context.Context) ([]Quote, error) {
	catalog, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	quotes := make([]Quote, 0, len(catalog.Services))
	for _, svc := range catalog.Services {
		if !svc.IsActive {
			continue
		}
		q, err := quote(svc, catalog.Settings)
		if err != nil {
			r.log.Warn("skipping unpriceable service", zap.String("code", svc.Code), zap.Error(err))
			continue
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func (r *resolver) PromotionFor(ctx context.Context, spend float64) (Bonus, bool, error) {
	if spend < 0 || math.IsNaN(spend) {
		return Bonus{}, false, ErrInvalidAmount
	}
	catalog, err := r.snapshot(ctx)
	if err != nil {
		return Bonus{}, false, err
	}
	promo, ok := catalog.PromotionFor(spend)
	if !ok {
		return Bonus{}, false, nil
	}
	return Bonus{MinSpend: promo.MinSpend, BonusCredits: promo.BonusCredits}, true, nil
}

func (r *resolver) CreditsToCurrency(ctx context.Context, credits int64) (float64, error) {
	if credits <= 0 {
		return 0, ErrInvalidAmount
	}
	catalog, err := r.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	if catalog.Settings.ConversionRate <= 0 {
		return 0, ErrServiceUnavailable
	}
	return snap(float64(credits) / catalog.Settings.ConversionRate), nil
}

// snapshot maps a missing catalog to ServiceUnavailable so callers never charge against it.
func (r *resolver) snapshot(ctx context.Context) (catalogdomain.Catalog, error) {
	catalog, err := r.catalog.GetCatalog(ctx)
	if errors.Is(err, catalogdomain.ErrSettingsMissing) {
		return catalogdomain.Catalog{}, ErrServiceUnavailable
	}
	return catalog, err
}

func quote(svc catalogdomain.Service, settings catalogdomain.SystemSettings) (Quote, error) {
	credits := Credits(svc.CustomerCost, settings.ConversionRate)
	if credits <= 0 {
		return Quote{}, ErrServiceUnavailable
	}
	return Quote{
		ServiceCode:     svc.Code,
		ServiceName:     svc.Name,
		Variant:         svc.Variant,
		CustomerCost:    svc.CustomerCost,
		ConversionRate:  settings.ConversionRate,
		SettingsVersion: settings.Version,
		Credits:         credits,
	}, nil
}

// Credits prices a cost at a rate, rounding half up.
// The product is snapped to 1e-6 first so 0.16*50 lands on 8 and not 7.999999.
func Credits(customerCost, conversionRate float64) int64 {
	if customerCost <= 0 || conversionRate <= 0 {
		return 0
	}
	return int64(math.Floor(snap(customerCost*conversionRate) + 0.5))
}

func snap(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
