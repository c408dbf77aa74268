package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pixelcredit/pkg/db/pagination"
)

const (
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 250
)

// ReserveRequest carries the quote being locked.
type ReserveRequest struct {
	UserID          snowflake.ID
	RequestID       string
	Variant         string
	Amount          int64
	ServiceCode     string
	CustomerCost    float64
	ConversionRate  float64
	SettingsVersion int64
}

type ListEntriesRequest struct {
	pagination.Pagination
	UserID snowflake.ID `form:"-"`
	Reason string       `form:"reason"`
}

type ListEntriesResponse struct {
	pagination.PageInfo
	Entries []*Entry `json:"entries"`
}

type VerifyResult struct {
	UserID       snowflake.ID `json:"user_id"`
	Balance      int64        `json:"balance"`
	InitialGrant int64        `json:"initial_grant"`
	EntrySum     int64        `json:"entry_sum"`
	EntryCount   int64        `json:"entry_count"`
	Drift        int64        `json:"drift"`
	Consistent   bool         `json:"consistent"`
}

type PurchaseResult struct {
	Credits      int64   `json:"credits"`
	BonusCredits int64   `json:"bonus_credits"`
	Amount       float64 `json:"amount"`
	Balance      int64   `json:"balance"`
	Entries      []Entry `json:"entries"`
}

type SweepResult struct {
	Scanned   int `json:"scanned"`
	Committed int `json:"committed"`
	Refunded  int `json:"refunded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type Service interface {
	Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error)
	Commit(ctx context.Context, reservationID snowflake.ID) (*Reservation, error)
	Refund(ctx context.Context, reservationID snowflake.ID, reason Reason) (*Reservation, error)

	Grant(ctx context.Context, userID snowflake.ID, amount int64, note string, actorID snowflake.ID) (*Entry, error)
	Adjust(ctx context.Context, userID snowflake.ID, delta int64, note string, actorID snowflake.ID) (*Entry, error)
	Purchase(ctx context.Context, userID snowflake.ID, credits int64) (*PurchaseResult, error)

	Balance(ctx context.Context, userID snowflake.ID) (int64, error)
	History(ctx context.Context, userID snowflake.ID, limit int) ([]*Entry, error)
	ListEntries(ctx context.Context, req ListEntriesRequest) (ListEntriesResponse, error)
	GetReservation(ctx context.Context, id snowflake.ID) (*Reservation, error)
	Verify(ctx context.Context, userID snowflake.ID) (*VerifyResult, error)
	ReservationCounts(ctx context.Context) (map[ReservationStatus]int64, error)

	ResolveStale(ctx context.Context, olderThan time.Duration, batch int) (SweepResult, error)
}

var (
	ErrPersistence         = errors.New("ledger_persistence_error")
	ErrInsufficientCredits = errors.New("insufficient_credits")
	ErrUserInactive        = errors.New("user_inactive")
	ErrUserNotFound        = errors.New("user_not_found")
	ErrReservationSettled  = errors.New("reservation_settled")
	ErrReservationNotFound = errors.New("reservation_not_found")
	ErrDuplicateRequest    = errors.New("duplicate_request_id")
	ErrInvalidUser         = errors.New("invalid_user_id")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidReason       = errors.New("invalid_reason")
	ErrReasonRequired      = errors.New("reason_required")
	ErrInvalidRequestID    = errors.New("invalid_request_id")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrPurchaseDisabled    = errors.New("purchase_disabled")
)
