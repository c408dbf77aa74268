package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Record is the outcome of one generation request. It is written after settlement
// and is what the sweeper consults for reservations that were never settled.
type Record struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID        snowflake.ID `json:"user_id" gorm:"not null;index:idx_generation_records_user_created,priority:1"`
	ReservationID snowflake.ID `json:"reservation_id" gorm:"not null;index"`
	RequestID     string       `json:"request_id" gorm:"type:varchar(32);not null;uniqueIndex"`
	Prompt        string       `json:"prompt" gorm:"type:text;not null"`
	Variant       string       `json:"variant" gorm:"type:varchar(32);not null"`
	Cost          int64        `json:"cost" gorm:"not null"`
	Status        Status       `json:"status" gorm:"type:varchar(16);not null;index"`
	Provider      string       `json:"provider" gorm:"type:varchar(32);not null"`
	AssetRef      string       `json:"asset_ref,omitempty" gorm:"type:text"`
	ErrorMessage  string       `json:"error_message,omitempty" gorm:"type:text"`
	Refunded      bool         `json:"refunded" gorm:"not null"`
	DurationMs    int64        `json:"duration_ms" gorm:"not null"`
	CreatedAt     time.Time    `json:"created_at" gorm:"not null;index:idx_generation_records_user_created,priority:2"`
}

func (Record) TableName() string { return "generation_records" }

type RecordCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListRecordFilter struct {
	UserID snowflake.ID
	Status Status
	Cursor *RecordCursor
	Limit  int
}

type RecordStats struct {
	Total        int64
	Succeeded    int64
	Failed       int64
	CreditsSpent int64
}
