package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var (
	ErrLockNotConfigured = errors.New("lock client not configured")
	ErrInvalidLock       = errors.New("lock key and ttl are required")
)

// compare-and-delete: a holder whose ttl lapsed must not drop the next holder's lock.
var releaseIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
return redis.call("DEL", KEYS[1])
`)

// Locker elects a single sweeper across instances with a SET NX lease.
type Locker struct {
	client *redis.Client
}

// NewLocker returns nil without a redis client; callers then run unlocked.
func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client}
}

// TryLock returns the owner token and whether the lease was acquired.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, ErrLockNotConfigured
	}
	key = strings.TrimSpace(key)
	if key == "" || ttl <= 0 {
		return "", false, ErrInvalidLock
	}

	owner := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !acquired {
		return "", false, nil
	}
	return owner, true, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	key = strings.TrimSpace(key)
	if l == nil || l.client == nil || key == "" || token == "" {
		return nil
	}
	return releaseIfOwner.Run(ctx, l.client, []string{key}, token).Err()
}
