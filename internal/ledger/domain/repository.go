package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Account is the slice of a user row the ledger reads.
type Account struct {
	ID            snowflake.ID
	CreditBalance int64
	InitialGrant  int64
	IsActive      bool
}

type Repository interface {
	// Debit subtracts amount only when the user is active and can afford it.
	Debit(ctx context.Context, db *gorm.DB, userID snowflake.ID, amount int64, now time.Time) (bool, error)
	// Credit adds amount. When requireActive is set an inactive user is left untouched.
	Credit(ctx context.Context, db *gorm.DB, userID snowflake.ID, amount int64, requireActive bool, now time.Time) (bool, error)
	FindAccount(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Account, error)

	InsertEntry(ctx context.Context, db *gorm.DB, entry *Entry) error
	ListEntries(ctx context.Context, db *gorm.DB, filter ListEntryFilter) ([]*Entry, error)
	SumEntries(ctx context.Context, db *gorm.DB, userID snowflake.ID) (sum int64, count int64, err error)

	InsertReservation(ctx context.Context, db *gorm.DB, reservation *Reservation) error
	FindReservation(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Reservation, error)
	// Transition moves a reservation out of reserved. It reports false when it was already settled or missing.
	Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, to ReservationStatus, now time.Time) (bool, error)
	ListStale(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]*Reservation, error)
	CountByStatus(ctx context.Context, db *gorm.DB) (map[ReservationStatus]int64, error)
}

// OutcomeLookup tells the sweeper whether a generation finished before its reservation went stale.
type OutcomeLookup interface {
	Succeeded(ctx context.Context, reservationID snowflake.ID) (bool, error)
}

type OutcomeLookupFunc func(ctx context.Context, reservationID snowflake.ID) (bool, error)

func (f OutcomeLookupFunc) Succeeded(ctx context.Context, reservationID snowflake.ID) (bool, error) {
	return f(ctx, reservationID)
}
