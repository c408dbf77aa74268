package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *Record) error
	List(ctx context.Context, db *gorm.DB, filter ListRecordFilter) ([]*Record, error)
	ExistsSucceeded(ctx context.Context, db *gorm.DB, reservationID snowflake.ID) (bool, error)
	Stats(ctx context.Context, db *gorm.DB) (RecordStats, error)
}
