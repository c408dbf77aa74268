package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateUserRequest struct {
	Email        string
	PasswordHash string
	DisplayName  string
	InitialGrant int64
	IsAdmin      bool
}

type ListUserRequest struct {
	Page   int    `form:"page"`
	Limit  int    `form:"limit"`
	Email  string `form:"email"`
	Active *bool  `form:"active"`
	Sort   string `form:"sort"`
}

type ListUserResponse struct {
	Users []User `json:"users"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
	Total int64  `json:"total"`
}

type UpdateProfileRequest struct {
	DisplayName string `json:"display_name"`
}

type Counts struct {
	Active   int64 `json:"active"`
	Inactive int64 `json:"inactive"`
}

type Service interface {
	Create(ctx context.Context, req CreateUserRequest) (User, error)
	Get(ctx context.Context, id snowflake.ID) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	List(ctx context.Context, req ListUserRequest) (ListUserResponse, error)
	UpdateProfile(ctx context.Context, actorID, id snowflake.ID, req UpdateProfileRequest) (User, error)
	Deactivate(ctx context.Context, actorID, id snowflake.ID) (User, error)
	Reactivate(ctx context.Context, actorID, id snowflake.ID) (User, error)
	Counts(ctx context.Context) (Counts, error)
}

var (
	ErrNotFound         = errors.New("user_not_found")
	ErrInvalidID        = errors.New("invalid_user_id")
	ErrInvalidEmail     = errors.New("invalid_email")
	ErrInvalidName      = errors.New("invalid_display_name")
	ErrInvalidSort      = errors.New("invalid_sort")
	ErrEmailTaken       = errors.New("email_taken")
	ErrCannotDeactivate = errors.New("cannot_deactivate_self")
	ErrAlreadyInState   = errors.New("user_already_in_state")
	ErrNegativeGrant    = errors.New("invalid_initial_grant")
)
