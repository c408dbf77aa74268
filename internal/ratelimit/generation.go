package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/pixelcredit/internal/cache"
	"github.com/smallbiznis/pixelcredit/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	keyGenerationUser = "pixelcredit:ratelimit:generation:%s"
	localLimiterIdle  = 30 * time.Minute
)

var ErrRateLimited = errors.New("rate_limited")

// GenerationLimiter throttles generation requests per user.
type GenerationLimiter interface {
	Allow(ctx context.Context, userID string) (Result, error)
}

// NewGenerationLimiter prefers the shared redis bucket and falls back to an in-process limiter.
// It returns a pass-through limiter when rate limiting is disabled.
func NewGenerationLimiter(cfg config.Config, client *redis.Client, log *zap.Logger) GenerationLimiter {
	limitCfg := cfg.RateLimit
	log = log.Named("ratelimit.generation")
	if !limitCfg.Enabled || limitCfg.GenerationRate <= 0 || limitCfg.GenerationBurst <= 0 {
		log.Info("generation rate limiting disabled")
		return unlimited{}
	}
	if client != nil {
		return &redisLimiter{
			bucket: NewTokenBucket(client),
			rate:   limitCfg.GenerationRate,
			burst:  limitCfg.GenerationBurst,
			local:  NewLocalLimiter(limitCfg.GenerationRate, limitCfg.GenerationBurst),
			log:    log,
		}
	}
	return NewLocalLimiter(limitCfg.GenerationRate, limitCfg.GenerationBurst)
}

type unlimited struct{}

func (unlimited) Allow(context.Context, string) (Result, error) {
	return Result{Allowed: true}, nil
}

type redisLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
	local  *LocalLimiter
	log    *zap.Logger
}

// Allow degrades to the local limiter while redis is unreachable.
func (l *redisLimiter) Allow(ctx context.Context, userID string) (Result, error) {
	userID = strings.TrimSpace(userID)
	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyGenerationUser, userID), l.rate, l.burst)
	if err != nil {
		l.log.Warn("redis rate limiter unavailable, using local limiter", zap.Error(err))
		return l.local.Allow(ctx, userID)
	}
	return res, nil
}

// LocalLimiter keeps one x/time/rate limiter per user in memory.
type LocalLimiter struct {
	mu       sync.Mutex
	limiters cache.Cache[string, *rate.Limiter]
	rate     rate.Limit
	burst    int
}

func NewLocalLimiter(perSecond float64, burst int) *LocalLimiter {
	return &LocalLimiter{
		limiters: cache.NewTTLCache[string, *rate.Limiter](),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, userID string) (Result, error) {
	limiter := l.limiterFor(strings.TrimSpace(userID))

	reservation := limiter.Reserve()
	if !reservation.OK() {
		return Result{Allowed: false, Limit: l.burst}, nil
	}
	delay := reservation.Delay()
	if delay > 0 {
		reservation.Cancel()
		return Result{Allowed: false, Limit: l.burst, RetryAfter: delay}, nil
	}
	return Result{
		Allowed:   true,
		Limit:     l.burst,
		Remaining: int(limiter.Tokens()),
	}, nil
}

func (l *LocalLimiter) limiterFor(userID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters.Get(userID)
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
	}
	l.limiters.Set(userID, limiter, localLimiterIdle)
	return limiter
}
