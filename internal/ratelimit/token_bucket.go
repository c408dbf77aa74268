package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// KEYS[1] bucket hash. ARGV: refill per second, capacity, idle ttl in ms.
// Returns {allowed, tokens left as a string}; Lua would truncate a float reply.
var takeToken = redis.NewScript(`
local refill = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local last = tonumber(state[2]) or now
if now > last then
  tokens = math.min(capacity, tokens + (now - last) * refill / 1000)
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return {allowed, tostring(tokens)}
`)

var (
	ErrBucketNotConfigured = errors.New("rate limiter not configured")
	ErrInvalidBucketKey    = errors.New("rate limiter key is empty")
	ErrInvalidBucketRate   = errors.New("rate limiter rate and burst must be positive")
	ErrInvalidScriptReply  = errors.New("invalid rate limit script response")
)

// Result is one limiter decision. RetryAfter is set only when denied.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// TokenBucket is a token bucket shared by every instance through redis.
type TokenBucket struct {
	client *redis.Client
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client}
}

// Allow takes one token from key. The bucket refills at perSecond up to burst.
func (b *TokenBucket) Allow(ctx context.Context, key string, perSecond float64, burst int) (Result, error) {
	switch {
	case b == nil || b.client == nil:
		return Result{}, ErrBucketNotConfigured
	case key == "":
		return Result{}, ErrInvalidBucketKey
	case perSecond <= 0 || burst <= 0:
		return Result{}, ErrInvalidBucketRate
	}

	idle := idleTTL(perSecond, burst)
	reply, err := takeToken.Run(ctx, b.client, []string{key}, perSecond, burst, idle.Milliseconds()).Slice()
	if err != nil {
		return Result{}, err
	}
	allowed, left, err := parseTakeReply(reply)
	if err != nil {
		return Result{}, err
	}

	res := Result{Allowed: allowed, Limit: burst, Remaining: int(left)}
	if !allowed {
		res.RetryAfter = time.Duration((1 - left) / perSecond * float64(time.Second))
	}
	return res, nil
}

func parseTakeReply(reply []any) (bool, float64, error) {
	if len(reply) != 2 {
		return false, 0, ErrInvalidScriptReply
	}
	flag, ok := reply[0].(int64)
	if !ok {
		return false, 0, ErrInvalidScriptReply
	}
	raw, ok := reply[1].(string)
	if !ok {
		return false, 0, ErrInvalidScriptReply
	}
	left, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrInvalidScriptReply, err)
	}
	return flag == 1, left, nil
}

// idleTTL keeps a bucket around for twice its full refill time, at least a second.
func idleTTL(perSecond float64, burst int) time.Duration {
	secs := math.Max(1, math.Ceil(2*float64(burst)/perSecond))
	return time.Duration(secs) * time.Second
}
