// Package idempotency implements the single-writer-wins duplicate guard on
// Redis. The first caller to reserve a key within the TTL owns the request;
// all concurrent and later callers observe a conflict.
package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"saloncore/internal/types"
)

// DefaultTTL is how long a reservation shields against duplicates. Booking
// creation uses 24h so a client retrying a flaky submission the next morning
// still lands on the original booking.
const DefaultTTL = 24 * time.Hour

// Guard reserves idempotency keys in Redis.
type Guard struct {
	rdb *redis.Client
}

// NewGuard creates a Guard bound to the given Redis client.
func NewGuard(rdb *redis.Client) *Guard {
	return &Guard{rdb: rdb}
}

// Pending is the value a reservation holds until the guarded operation
// produces its durable result. Confirm replaces it with that result.
const Pending = "pending"

// Reserve attempts to claim the key for the given value. It returns true when
// this caller won the reservation, false when the key was already held.
// Reservation uses SET NX EX, so the claim and its expiry are atomic.
func (g *Guard) Reserve(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ok, err := g.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalQueue, "failed to reserve idempotency key", err)
	}
	return ok, nil
}

// Holder returns the value stored under a held key, or "" when the key is not
// held. Booking creation stores the booking ID so a duplicate request can be
// answered with the original booking.
func (g *Guard) Holder(ctx context.Context, key string) (string, error) {
	val, err := g.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalQueue, "failed to read idempotency key", err)
	}
	return val, nil
}

// Confirm overwrites a held reservation with the operation's durable result,
// keeping the original expiry. Booking creation confirms with the booking ID
// once the provider call succeeds.
func (g *Guard) Confirm(ctx context.Context, key, value string) error {
	if err := g.rdb.Set(ctx, key, value, redis.KeepTTL).Err(); err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to confirm idempotency key", err)
	}
	return nil
}

// Release drops a reservation early. Used when the guarded operation failed
// before producing its durable effect, so a retry is allowed immediately.
func (g *Guard) Release(ctx context.Context, key string) error {
	if err := g.rdb.Del(ctx, key).Err(); err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to release idempotency key", err)
	}
	return nil
}

// BookingKey builds the reservation key for a booking-creation request.
func BookingKey(tenantID, idempotencyKey string) string {
	return "idemp:booking:" + tenantID + ":" + idempotencyKey
}

// CampaignKey builds the per-recipient dedupe key for a campaign send.
// Recipients already contacted under the same campaign are skipped.
func CampaignKey(campaignID, clientKey string) string {
	return "mk:" + campaignID + ":" + clientKey
}
