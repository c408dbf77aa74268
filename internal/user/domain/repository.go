package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, user *User) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*User, error)
	List(ctx context.Context, db *gorm.DB, filter ListUserFilter) ([]*User, int64, error)
	UpdateProfile(ctx context.Context, db *gorm.DB, user *User) error
	SetActive(ctx context.Context, db *gorm.DB, user *User) (bool, error)
	CountByActive(ctx context.Context, db *gorm.DB) (active int64, inactive int64, err error)
}
