// Package reminders implements the durable reminder scheduler on Redis.
//
// Scheduled reminders live in a single sorted set scored by their due time
// in unix milliseconds. Each entry is a self-contained JSON payload, so the
// dispatcher needs no further lookups to enqueue the outbound job. Reminders
// tied to a booking are additionally indexed in a per-booking set so a
// cancellation can drop every pending reminder for that booking in one call.
package reminders

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"saloncore/internal/types"
)

const (
	// zsetKey is the global schedule, scored by due time in unix millis.
	zsetKey = "reminders:z"
	// bookingIndexPrefix prefixes the per-booking member index sets.
	bookingIndexPrefix = "reminders:booking:"
	// bookingIndexTTL bounds index lifetime; reminders are never scheduled
	// further out than this.
	bookingIndexTTL = 90 * 24 * time.Hour
)

// entry is the stored shape of one scheduled reminder. The ID makes members
// unique even when two reminders carry identical content.
type entry struct {
	ID string `json:"id"`
	types.ReminderEntry
}

// ScheduleClient is the subset of redis commands the scheduler issues.
// Satisfied by *redis.Client; tests substitute an in-memory fake.
type ScheduleClient interface {
	TxPipeline() redis.Pipeliner
	ZPopMin(ctx context.Context, key string, count ...int64) *redis.ZSliceCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZCard(ctx context.Context, key string) *redis.IntCmd
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) *redis.ZSliceCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
}

// Scheduler schedules and dispatches reminders.
type Scheduler struct {
	rdb    ScheduleClient
	clock  types.Clock
	logger *slog.Logger
}

// NewScheduler creates a Scheduler bound to the given Redis client.
func NewScheduler(rdb ScheduleClient, logger *slog.Logger) *Scheduler {
	return &Scheduler{rdb: rdb, clock: types.RealClock{}, logger: logger}
}

// NewSchedulerWithClock creates a Scheduler with an injectable clock.
func NewSchedulerWithClock(rdb ScheduleClient, clock types.Clock, logger *slog.Logger) *Scheduler {
	return &Scheduler{rdb: rdb, clock: clock, logger: logger}
}

// Schedule registers a reminder to fire at runAt. When the reminder carries a
// BookingID, the member is also recorded in the booking's index so
// CancelForBooking can find it later. Returns the reminder's ID.
func (s *Scheduler) Schedule(ctx context.Context, r types.ReminderEntry, runAt time.Time) (string, error) {
	e := entry{ID: uuid.NewString(), ReminderEntry: r}
	member, err := json.Marshal(e)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalQueue, "failed to encode reminder", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, zsetKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: string(member)})
	if r.BookingID != "" {
		idx := bookingIndexPrefix + r.TenantID + ":" + r.BookingID
		pipe.SAdd(ctx, idx, string(member))
		pipe.Expire(ctx, idx, bookingIndexTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalQueue, "failed to schedule reminder", err)
	}
	s.logger.Debug("reminder scheduled",
		slog.String("tenant_id", r.TenantID),
		slog.String("booking_id", r.BookingID),
		slog.String("channel", r.Channel),
		slog.Time("run_at", runAt))
	return e.ID, nil
}

// CancelForBooking removes every pending reminder recorded for the booking.
// Returns the number of reminders removed. Members already popped by the
// dispatcher are simply absent from the sorted set and count as removed zero.
func (s *Scheduler) CancelForBooking(ctx context.Context, tenantID, bookingID string) (int64, error) {
	idx := bookingIndexPrefix + tenantID + ":" + bookingID
	members, err := s.rdb.SMembers(ctx, idx).Result()
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalQueue, "failed to read booking reminder index", err)
	}
	if len(members) == 0 {
		return 0, nil
	}
	zrem := make([]any, len(members))
	for i, m := range members {
		zrem[i] = m
	}
	pipe := s.rdb.TxPipeline()
	removed := pipe.ZRem(ctx, zsetKey, zrem...)
	pipe.Del(ctx, idx)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalQueue, "failed to cancel booking reminders", err)
	}
	s.logger.Info("booking reminders cancelled",
		slog.String("tenant_id", tenantID),
		slog.String("booking_id", bookingID),
		slog.Int64("removed", removed.Val()))
	return removed.Val(), nil
}

// PopDue pops the single earliest reminder when it is due at or before now.
// A reminder popped too early is pushed back with its original score, so the
// pop-and-check sequence never loses entries. Returns nil when nothing is
// due.
func (s *Scheduler) PopDue(ctx context.Context) (*types.ReminderEntry, error) {
	zs, err := s.rdb.ZPopMin(ctx, zsetKey, 1).Result()
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalQueue, "failed to pop reminder", err)
	}
	if len(zs) == 0 {
		return nil, nil
	}
	z := zs[0]
	now := s.clock.Now().UnixMilli()
	if int64(z.Score) > now {
		if err := s.rdb.ZAdd(ctx, zsetKey, z).Err(); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalQueue, "failed to restore undue reminder", err)
		}
		return nil, nil
	}
	raw, _ := z.Member.(string)
	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		// A corrupt member cannot be retried; log and drop it.
		s.logger.Error("dropping undecodable reminder",
			slog.String("raw_prefix", truncate(raw, 80)),
			slog.String("error", err.Error()))
		return nil, nil
	}
	if e.BookingID != "" {
		idx := bookingIndexPrefix + e.TenantID + ":" + e.BookingID
		if err := s.rdb.SRem(ctx, idx, raw).Err(); err != nil {
			s.logger.Warn("failed to trim booking reminder index",
				slog.String("booking_id", e.BookingID),
				slog.String("error", err.Error()))
		}
	}
	return &e.ReminderEntry, nil
}

// PendingCount returns the number of scheduled reminders.
func (s *Scheduler) PendingCount(ctx context.Context) (int64, error) {
	n, err := s.rdb.ZCard(ctx, zsetKey).Result()
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalQueue, "failed to count reminders", err)
	}
	return n, nil
}

// NextDue returns the due time of the earliest scheduled reminder, or the
// zero time when the schedule is empty.
func (s *Scheduler) NextDue(ctx context.Context) (time.Time, error) {
	zs, err := s.rdb.ZRangeWithScores(ctx, zsetKey, 0, 0).Result()
	if err != nil {
		return time.Time{}, types.NewAppError(types.ErrCodeInternalQueue, "failed to peek reminders", err)
	}
	if len(zs) == 0 {
		return time.Time{}, nil
	}
	ms := int64(zs[0].Score)
	return time.UnixMilli(ms).UTC(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... (" + strconv.Itoa(len(s)) + " bytes)"
}
