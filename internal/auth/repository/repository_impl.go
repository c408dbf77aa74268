package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pixelcredit/internal/auth/domain"
	"gorm.io/gorm"
)

type sessionRepo struct {
	db *gorm.DB
}

func New(db *gorm.DB) domain.SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) sessions(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&domain.Session{})
}

// touched maps a zero-row update onto ErrSessionNotFound.
func touched(tx *gorm.DB) error {
	switch {
	case tx.Error != nil:
		return tx.Error
	case tx.RowsAffected == 0:
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *sessionRepo) CreateSession(ctx context.Context, s *domain.Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *sessionRepo) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	s := new(domain.Session)
	err := r.sessions(ctx).Where("session_token_hash = ?", tokenHash).Take(s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrSessionNotFound
	}
	return s, err
}

func (r *sessionRepo) UpdateLastSeen(ctx context.Context, id snowflake.ID, at time.Time) error {
	return touched(r.sessions(ctx).Where("id = ?", id).Update("last_seen_at", at))
}

// RevokeSession is a no-op error for sessions already revoked.
func (r *sessionRepo) RevokeSession(ctx context.Context, id snowflake.ID, at time.Time) error {
	return touched(r.sessions(ctx).Where("id = ?", id).Where("revoked_at IS NULL").Update("revoked_at", at))
}

// DeleteExpired purges sessions that expired or were revoked before the cutoff.
func (r *sessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).
		Where("expires_at < ?", before).
		Or("revoked_at IS NOT NULL AND revoked_at < ?", before).
		Delete(&domain.Session{})
	return tx.RowsAffected, tx.Error
}
