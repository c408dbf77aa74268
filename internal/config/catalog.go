package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// CatalogDefaults seeds pricing for an empty database.
type CatalogDefaults struct {
	ConversionRate float64            `mapstructure:"conversionRate"`
	InitialCredits int64              `mapstructure:"initialCredits"`
	Services       []ServiceDefault   `mapstructure:"services"`
	Promotions     []PromotionDefault `mapstructure:"promotions"`
}

type ServiceDefault struct {
	Code         string  `mapstructure:"code"`
	Name         string  `mapstructure:"name"`
	Variant      string  `mapstructure:"variant"`
	SupplierCost float64 `mapstructure:"supplierCost"`
	CustomerCost float64 `mapstructure:"customerCost"`
	Active       bool    `mapstructure:"active"`
}

type PromotionDefault struct {
	MinSpend     float64 `mapstructure:"minSpend"`
	BonusCredits int64   `mapstructure:"bonusCredits"`
}

func DefaultCatalogDefaults() CatalogDefaults {
	return CatalogDefaults{
		ConversionRate: 50,
		InitialCredits: 100,
		Services: []ServiceDefault{
			{Code: "image_1024", Name: "Standard image", Variant: "1024x1024", SupplierCost: 0.08, CustomerCost: 0.16, Active: true},
			{Code: "image_2048", Name: "Large image", Variant: "2048x2048", SupplierCost: 0.16, CustomerCost: 0.32, Active: true},
		},
		Promotions: []PromotionDefault{},
	}
}

type CatalogDefaultsHolder struct {
	current atomic.Value // holds CatalogDefaults
}

func NewCatalogDefaultsHolder(log *zap.Logger) (*CatalogDefaultsHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.catalog")

	v := viper.New()
	v.SetConfigName("catalog")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/pixelcredit")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PIXELCREDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &CatalogDefaultsHolder{}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		holder.current.Store(DefaultCatalogDefaults())
		return holder, nil
	}

	cfg, err := decodeCatalogDefaults(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeCatalogDefaults(v)
		if err != nil {
			log.Warn("catalog defaults reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("catalog defaults reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// NewStaticCatalogDefaultsHolder returns a holder that never reloads.
func NewStaticCatalogDefaultsHolder(cfg CatalogDefaults) *CatalogDefaultsHolder {
	holder := &CatalogDefaultsHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *CatalogDefaultsHolder) Get() CatalogDefaults {
	if h == nil {
		return DefaultCatalogDefaults()
	}
	return h.current.Load().(CatalogDefaults)
}

func decodeCatalogDefaults(v *viper.Viper) (CatalogDefaults, error) {
	var cfg CatalogDefaults
	if err := v.UnmarshalKey("catalog", &cfg); err != nil {
		return CatalogDefaults{}, err
	}
	if err := ValidateCatalogDefaults(cfg); err != nil {
		return CatalogDefaults{}, err
	}
	return cfg, nil
}

func ValidateCatalogDefaults(cfg CatalogDefaults) error {
	if cfg.ConversionRate <= 0 {
		return errors.New("catalog.conversionRate must be positive")
	}
	if cfg.InitialCredits < 0 {
		return errors.New("catalog.initialCredits cannot be negative")
	}
	seen := make(map[string]struct{}, len(cfg.Services))
	for i, svc := range cfg.Services {
		if strings.TrimSpace(svc.Code) == "" || strings.TrimSpace(svc.Variant) == "" {
			return fmt.Errorf("catalog.services[%d]: code and variant are required", i)
		}
		if svc.CustomerCost < 0 || svc.SupplierCost < 0 {
			return fmt.Errorf("catalog.services[%d]: costs cannot be negative", i)
		}
		if _, ok := seen[svc.Code]; ok {
			return fmt.Errorf("catalog.services[%d]: duplicate code %q", i, svc.Code)
		}
		seen[svc.Code] = struct{}{}
	}
	for i, promo := range cfg.Promotions {
		if promo.MinSpend < 0 || promo.BonusCredits <= 0 {
			return fmt.Errorf("catalog.promotions[%d]: invalid threshold or bonus", i)
		}
	}
	return nil
}
