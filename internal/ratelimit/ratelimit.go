// Package ratelimit implements fixed-window rate limiting on Redis.
//
// Each (key, window) pair maps to one counter "rl:<key>:<windowIndex>" where
// windowIndex is the current unix time divided by the window length. The
// counter is INCRed on every check and given a TTL on first increment, so
// counters clean themselves up two windows after last use.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"saloncore/internal/types"
)

// Limiter evaluates fixed-window limits against Redis counters.
type Limiter struct {
	rdb   *redis.Client
	clock types.Clock
}

// NewLimiter creates a Limiter bound to the given Redis client.
func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb, clock: types.RealClock{}}
}

// NewLimiterWithClock creates a Limiter with an injectable clock for tests.
func NewLimiterWithClock(rdb *redis.Client, clock types.Clock) *Limiter {
	return &Limiter{rdb: rdb, clock: clock}
}

// Allow consumes one unit from the window identified by key. The limit is
// the maximum number of units per window; limit <= 0 means unlimited.
//
// The increment happens before the limit comparison, so a denied request
// still advances the counter. That keeps the implementation a single
// round-trip pipeline and over-counts only callers who are already over.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (types.RateLimitResult, error) {
	if limit <= 0 {
		return types.RateLimitResult{Allowed: true, Remaining: -1}, nil
	}
	windowSec := int64(window / time.Second)
	if windowSec <= 0 {
		windowSec = 1
	}
	now := l.clock.Now().Unix()
	windowIdx := now / windowSec
	counterKey := fmt.Sprintf("rl:%s:%d", key, windowIdx)

	pipe := l.rdb.TxPipeline()
	count := pipe.Incr(ctx, counterKey)
	// NX keeps a concurrent first increment from resetting the expiry.
	pipe.ExpireNX(ctx, counterKey, time.Duration(windowSec*2)*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return types.RateLimitResult{}, types.NewAppError(types.ErrCodeInternalQueue, "failed to advance rate counter", err)
	}

	used := count.Val()
	resetIn := (windowIdx+1)*windowSec - now
	res := types.RateLimitResult{
		Allowed:        used <= int64(limit),
		Remaining:      int(max(0, int64(limit)-used)),
		ResetInSeconds: int(resetIn),
	}
	return res, nil
}

// TenantKey builds the per-tenant limiter key for a queue class ("tx"/"mk").
func TenantKey(class, tenantID string) string {
	return class + ":" + tenantID
}

// ClientKey builds the per-recipient frequency-cap key for marketing sends.
func ClientKey(tenantID, channel, to string) string {
	return "mkclient:" + tenantID + ":" + channel + ":" + to
}

// ChannelKey builds the per-tenant per-channel outbound RPS key.
func ChannelKey(tenantID, channel string) string {
	return "send:" + tenantID + ":" + channel
}
