package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Reason tags why a balance moved.
type Reason string

const (
	ReasonGenerationCharge   Reason = "generation_charge"
	ReasonGenerationRefund   Reason = "generation_refund"
	ReasonReservationExpired Reason = "reservation_expired"
	ReasonAdminGrant         Reason = "admin_grant"
	ReasonAdminAdjustment    Reason = "admin_adjustment"
	ReasonPurchase           Reason = "purchase"
	ReasonPromotionBonus     Reason = "promotion_bonus"
)

func (r Reason) Valid() bool {
	switch r {
	case ReasonGenerationCharge,
		ReasonGenerationRefund,
		ReasonReservationExpired,
		ReasonAdminGrant,
		ReasonAdminAdjustment,
		ReasonPurchase,
		ReasonPromotionBonus:
		return true
	default:
		return false
	}
}

// IsRefund reports whether the reason may settle a reservation by refunding it.
func (r Reason) IsRefund() bool {
	return r == ReasonGenerationRefund || r == ReasonReservationExpired
}

// Entry is one immutable balance movement.
// For every user: credit_balance == initial_grant + sum(amount).
type Entry struct {
	ID            snowflake.ID  `json:"id" gorm:"primaryKey"`
	UserID        snowflake.ID  `json:"user_id" gorm:"not null;index:idx_credit_entries_user_created,priority:1"`
	Amount        int64         `json:"amount" gorm:"not null"`
	Reason        Reason        `json:"reason" gorm:"type:varchar(32);not null"`
	BalanceAfter  int64         `json:"balance_after" gorm:"not null"`
	ReservationID *snowflake.ID `json:"reservation_id,omitempty" gorm:"index"`
	RequestID     string        `json:"request_id,omitempty" gorm:"type:varchar(32)"`
	Note          string        `json:"note,omitempty" gorm:"type:text"`
	ActorID       *snowflake.ID `json:"actor_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at" gorm:"not null;index:idx_credit_entries_user_created,priority:2"`
}

func (Entry) TableName() string { return "credit_entries" }

type ReservationStatus string

const (
	ReservationReserved  ReservationStatus = "reserved"
	ReservationCommitted ReservationStatus = "committed"
	ReservationRefunded  ReservationStatus = "refunded"
)

// Reservation holds credits taken for one generation request until it is settled.
// The price fields lock what the user was quoted.
type Reservation struct {
	ID              snowflake.ID      `json:"id" gorm:"primaryKey"`
	UserID          snowflake.ID      `json:"user_id" gorm:"not null;index"`
	Amount          int64             `json:"amount" gorm:"not null"`
	Status          ReservationStatus `json:"status" gorm:"type:varchar(16);not null;index:idx_credit_reservations_status_created,priority:1"`
	RequestID       string            `json:"request_id" gorm:"type:varchar(32);not null;uniqueIndex"`
	Variant         string            `json:"variant" gorm:"type:varchar(32);not null"`
	ServiceCode     string            `json:"service_code" gorm:"type:varchar(64);not null"`
	CustomerCost    float64           `json:"customer_cost" gorm:"not null"`
	ConversionRate  float64           `json:"conversion_rate" gorm:"not null"`
	SettingsVersion int64             `json:"settings_version" gorm:"not null"`
	CreatedAt       time.Time         `json:"created_at" gorm:"not null;index:idx_credit_reservations_status_created,priority:2"`
	SettledAt       *time.Time        `json:"settled_at,omitempty"`
}

func (Reservation) TableName() string { return "credit_reservations" }

func (r Reservation) Settled() bool {
	return r.Status != ReservationReserved
}

type EntryCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListEntryFilter struct {
	UserID snowflake.ID
	Reason Reason
	Cursor *EntryCursor
	Limit  int
}
