package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeAdmin  ActorType = "admin"
	ActorTypeSystem ActorType = "system"
)

const (
	ActionServiceCreated     = "catalog.service_created"
	ActionServiceUpdated     = "catalog.service_updated"
	ActionServiceToggled     = "catalog.service_toggled"
	ActionSettingsUpdated    = "catalog.settings_updated"
	ActionPromotionsReplaced = "catalog.promotions_replaced"
	ActionCreditsGranted     = "credits.granted"
	ActionCreditsAdjusted    = "credits.adjusted"
	ActionCreditsPurchased   = "credits.purchased"
	ActionUserRegistered     = "user.registered"
	ActionUserUpdated        = "user.updated"
	ActionUserDeactivated    = "user.deactivated"
	ActionUserReactivated    = "user.reactivated"
	ActionUserLogin          = "user.login"
	ActionUserLoginFailed    = "user.login_failed"
)

const (
	TargetTypeService  = "service"
	TargetTypeSettings = "settings"
	TargetTypeUser     = "user"
)

// AuditLog is an append-only record of an administrative or security relevant action.
type AuditLog struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	ActorType  string            `json:"actor_type" gorm:"type:text;not null"`
	ActorID    *string           `json:"actor_id,omitempty" gorm:"type:text"`
	Action     string            `json:"action" gorm:"type:text;not null;index"`
	TargetType string            `json:"target_type" gorm:"type:text;not null"`
	TargetID   *string           `json:"target_id,omitempty" gorm:"type:text"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	IPAddress  *string           `json:"ip_address,omitempty" gorm:"type:text"`
	UserAgent  *string           `json:"user_agent,omitempty" gorm:"type:text"`
	CreatedAt  time.Time         `json:"created_at" gorm:"not null;index"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	ActorID    string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}
