package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// User is an account holding a credit balance.
// CreditBalance only moves through the ledger; InitialGrant is fixed at registration.
type User struct {
	ID            snowflake.ID  `json:"id" gorm:"primaryKey"`
	Email         string        `json:"email" gorm:"type:varchar(320);not null;uniqueIndex"`
	PasswordHash  string        `json:"-" gorm:"type:text;not null"`
	DisplayName   string        `json:"display_name" gorm:"type:varchar(120);not null"`
	CreditBalance int64         `json:"credit_balance" gorm:"not null"`
	InitialGrant  int64         `json:"initial_grant" gorm:"not null"`
	IsActive      bool          `json:"is_active" gorm:"not null"`
	IsAdmin       bool          `json:"is_admin" gorm:"not null"`
	DeactivatedAt *time.Time    `json:"deactivated_at,omitempty"`
	DeactivatedBy *snowflake.ID `json:"deactivated_by,omitempty"`
	CreatedAt     time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time     `json:"updated_at" gorm:"not null"`
}

func (User) TableName() string { return "users" }

type ListUserFilter struct {
	Email  string
	Active *bool
	Sort   string
	Offset int
	Limit  int
}
