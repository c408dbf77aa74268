package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Service is a priced generation product, one per output variant.
type Service struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	Code         string       `json:"code" gorm:"type:varchar(64);not null;uniqueIndex"`
	Name         string       `json:"name" gorm:"type:varchar(120);not null"`
	Variant      string       `json:"variant" gorm:"type:varchar(32);not null;index"`
	SupplierCost float64      `json:"supplier_cost" gorm:"not null"`
	CustomerCost float64      `json:"customer_cost" gorm:"not null"`
	IsActive     bool         `json:"is_active" gorm:"not null"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time    `json:"updated_at" gorm:"not null"`
}

func (Service) TableName() string { return "catalog_services" }

const SettingsRowID = 1

// SystemSettings is a singleton row. Version increases on every settings or promotion change.
type SystemSettings struct {
	ID             int64         `json:"-" gorm:"primaryKey;autoIncrement:false"`
	ConversionRate float64       `json:"conversion_rate" gorm:"not null"`
	InitialCredits int64         `json:"initial_credits" gorm:"not null"`
	Version        int64         `json:"version" gorm:"not null"`
	UpdatedAt      time.Time     `json:"updated_at" gorm:"not null"`
	UpdatedBy      *snowflake.ID `json:"updated_by,omitempty"`
}

func (SystemSettings) TableName() string { return "system_settings" }

type Promotion struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	MinSpend     float64      `json:"min_spend" gorm:"not null"`
	BonusCredits int64        `json:"bonus_credits" gorm:"not null"`
	IsActive     bool         `json:"is_active" gorm:"not null"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null"`
}

func (Promotion) TableName() string { return "promotions" }

// SettingsVersion snapshots settings and promotions each time the version moves.
type SettingsVersion struct {
	ID             snowflake.ID   `json:"id" gorm:"primaryKey"`
	Version        int64          `json:"version" gorm:"not null;uniqueIndex"`
	ConversionRate float64        `json:"conversion_rate" gorm:"not null"`
	InitialCredits int64          `json:"initial_credits" gorm:"not null"`
	Promotions     datatypes.JSON `json:"promotions"`
	ChangedBy      *snowflake.ID  `json:"changed_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at" gorm:"not null"`
}

func (SettingsVersion) TableName() string { return "settings_versions" }

// Catalog is the read snapshot that pricing works from.
type Catalog struct {
	Settings   SystemSettings `json:"settings"`
	Services   []Service      `json:"services"`
	Promotions []Promotion    `json:"promotions"`
}

// ActiveServiceFor returns the active service for a variant. Matching is exact.
func (c Catalog) ActiveServiceFor(variant string) (Service, bool) {
	for _, svc := range c.Services {
		if svc.IsActive && svc.Variant == variant {
			return svc, true
		}
	}
	return Service{}, false
}

// PromotionFor returns the active promotion with the highest min_spend not above spend.
func (c Catalog) PromotionFor(spend float64) (Promotion, bool) {
	var (
		best  Promotion
		found bool
	)
	for _, promo := range c.Promotions {
		if !promo.IsActive || promo.MinSpend > spend {
			continue
		}
		if !found || promo.MinSpend > best.MinSpend {
			best = promo
			found = true
		}
	}
	return best, found
}
