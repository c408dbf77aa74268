package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pixelcredit/pkg/db/pagination"
)

const MaxPromptLength = 4000

type GenerateRequest struct {
	UserID  snowflake.ID `json:"-"`
	Prompt  string       `json:"prompt"`
	Variant string       `json:"variant"`
}

type Result struct {
	RequestID     string       `json:"request_id"`
	ReservationID snowflake.ID `json:"reservation_id"`
	Variant       string       `json:"variant"`
	AssetRef      string       `json:"asset_ref"`
	RevisedPrompt string       `json:"revised_prompt,omitempty"`
	Cost          int64        `json:"cost"`
	Balance       int64        `json:"balance"`
}

type HistoryRequest struct {
	pagination.Pagination
	UserID snowflake.ID `form:"-"`
	Status string       `form:"status"`
}

type HistoryResponse struct {
	pagination.PageInfo
	Records []*Record `json:"records"`
}

type Stats struct {
	Generations       int64 `json:"generations"`
	Succeeded         int64 `json:"succeeded"`
	Failed            int64 `json:"failed"`
	CreditsSpent      int64 `json:"credits_spent"`
	OpenReservations  int64 `json:"open_reservations"`
	RefundedCount     int64 `json:"refunded_reservations"`
	ActiveUsers       int64 `json:"active_users"`
	InactiveUsers     int64 `json:"inactive_users"`
	ServicesAvailable int   `json:"services_available"`
}

type Service interface {
	Generate(ctx context.Context, req GenerateRequest) (*Result, error)
	History(ctx context.Context, req HistoryRequest) (HistoryResponse, error)
	Stats(ctx context.Context) (Stats, error)
}

var (
	ErrInvalidUser      = errors.New("invalid_user_id")
	ErrEmptyPrompt      = errors.New("prompt_required")
	ErrPromptTooLong    = errors.New("prompt_too_long")
	ErrInvalidVariant   = errors.New("variant_required")
	ErrInvalidStatus    = errors.New("invalid_status")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrProvider         = errors.New("provider_error")
)

// ProviderError reports a failed provider call after its reservation was settled.
// Refunded is false only when the refund itself failed; the sweeper retries those.
type ProviderError struct {
	RequestID string
	Refunded  bool
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", ErrProvider, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	return []error{ErrProvider, e.Err}
}
