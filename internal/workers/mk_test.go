package workers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saloncore/internal/config"
	"saloncore/internal/quiethours"
	"saloncore/internal/types"
)

type fakeReserver struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (f *fakeReserver) Reserve(_ context.Context, key, _ string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

type fakeAllower struct {
	mu     sync.Mutex
	denied map[string]bool
	keys   []string
}

func (f *fakeAllower) Allow(_ context.Context, key string, limit int, _ time.Duration) (types.RateLimitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	if f.denied[key] {
		return types.RateLimitResult{Allowed: false, ResetInSeconds: 60}, nil
	}
	return types.RateLimitResult{Allowed: true, Remaining: limit - 1}, nil
}

type fakeDeferrer struct {
	mu      sync.Mutex
	entries []types.ReminderEntry
	runAts  []time.Time
}

func (f *fakeDeferrer) Schedule(_ context.Context, r types.ReminderEntry, runAt time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, r)
	f.runAts = append(f.runAts, runAt)
	return "rem-1", nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func mkLimits() config.RateLimitConfig {
	return config.RateLimitConfig{
		MkClientLimit:       1,
		MkClientWindow:      72 * time.Hour,
		MkRespectQuietHours: true,
	}
}

func campaignJob(id, campaignID string) *types.Job {
	return &types.Job{
		ID:    id,
		Queue: types.QueueMk,
		Kind:  types.JobKindCampaign,
		Campaign: &types.CampaignPayload{
			TenantID:   "salon-1",
			CampaignID: campaignID,
			Channel:    "telegram",
			To:         "12345",
			Message:    "spring discount",
			TimeZone:   "UTC",
		},
	}
}

func newMkHandler(q *fakeQueue, guard *fakeReserver, limiter *fakeAllower, deferrer *fakeDeferrer, at time.Time) *MkHandler {
	h := NewMkHandler(q, guard, limiter, deferrer, mkLimits(), quiethours.Window{Start: 22, End: 9}, 0, testLogger())
	h.clock = fixedClock{now: at}
	return h
}

func daytime() time.Time {
	return time.Date(2026, 4, 1, 14, 0, 0, 0, time.UTC)
}

func TestMkHandlerRoutesCampaign(t *testing.T) {
	q := &fakeQueue{}
	h := newMkHandler(q, &fakeReserver{}, &fakeAllower{}, &fakeDeferrer{}, daytime())

	require.NoError(t, h.Handle(context.Background(), campaignJob("job-1", "camp-1")))
	require.Len(t, q.enqueued, 1)
	assert.Equal(t, "queue:send:telegram", q.enqueued[0].Queue)
	assert.Equal(t, types.JobKindChannelSend, q.enqueued[0].Kind)
}

func TestMkHandlerDeduplicatesWithinCampaign(t *testing.T) {
	q := &fakeQueue{}
	guard := &fakeReserver{}
	h := newMkHandler(q, guard, &fakeAllower{}, &fakeDeferrer{}, daytime())
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, campaignJob("job-1", "camp-1")))
	// The duplicate is dropped silently so the runner acks it as processed.
	require.NoError(t, h.Handle(ctx, campaignJob("job-2", "camp-1")))
	assert.Len(t, q.enqueued, 1)

	// A different campaign to the same recipient is a fresh key.
	require.NoError(t, h.Handle(ctx, campaignJob("job-3", "camp-2")))
	assert.Len(t, q.enqueued, 2)
}

func TestMkHandlerClientFrequencyCap(t *testing.T) {
	q := &fakeQueue{}
	limiter := &fakeAllower{denied: map[string]bool{"mkclient:salon-1:telegram:12345": true}}
	h := newMkHandler(q, &fakeReserver{}, limiter, &fakeDeferrer{}, daytime())

	err := h.Handle(context.Background(), campaignJob("job-1", "camp-1"))
	require.NoError(t, err, "a capped message is suppressed, not failed")
	assert.Empty(t, q.enqueued)
}

func TestMkHandlerDefersDuringQuietHours(t *testing.T) {
	q := &fakeQueue{}
	deferrer := &fakeDeferrer{}
	night := time.Date(2026, 4, 1, 23, 30, 0, 0, time.UTC)
	h := newMkHandler(q, &fakeReserver{}, &fakeAllower{}, deferrer, night)

	require.NoError(t, h.Handle(context.Background(), campaignJob("job-1", "camp-1")))
	assert.Empty(t, q.enqueued, "quiet-hours message must not reach a send queue")
	require.Len(t, deferrer.entries, 1)

	entry := deferrer.entries[0]
	assert.Equal(t, types.QueueMk, entry.TargetQueue)
	assert.Equal(t, "camp-1", entry.Metadata["campaignId"])
	assert.Equal(t, 9, deferrer.runAts[0].Hour(), "deferred to the end of the quiet window")
}

func TestMkHandlerQuietHoursDisabled(t *testing.T) {
	q := &fakeQueue{}
	deferrer := &fakeDeferrer{}
	night := time.Date(2026, 4, 1, 23, 30, 0, 0, time.UTC)
	h := newMkHandler(q, &fakeReserver{}, &fakeAllower{}, deferrer, night)
	h.limits.MkRespectQuietHours = false

	require.NoError(t, h.Handle(context.Background(), campaignJob("job-1", "camp-1")))
	assert.Len(t, q.enqueued, 1)
	assert.Empty(t, deferrer.entries)
}

func TestMkHandlerRebuildsDeferredCampaign(t *testing.T) {
	// A deferred campaign message comes back from the scheduler as a
	// reminder dispatch carrying the campaign identity in metadata.
	job := &types.Job{
		ID:    "job-1",
		Queue: types.QueueMk,
		Kind:  types.JobKindReminderDispatch,
		Reminder: &types.ReminderDispatchPayload{
			TenantID: "salon-1",
			Channel:  "telegram",
			To:       "12345",
			Message:  "spring discount",
			Metadata: map[string]any{"campaignId": "camp-1", "clientId": "cl-9", "timeZone": "UTC"},
		},
	}

	q := &fakeQueue{}
	guard := &fakeReserver{}
	h := newMkHandler(q, guard, &fakeAllower{}, &fakeDeferrer{}, daytime())
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, job))
	require.Len(t, q.enqueued, 1)

	// The campaign identity survived the round trip: a second copy dedupes.
	require.NoError(t, h.Handle(ctx, job))
	assert.Len(t, q.enqueued, 1)
	assert.Contains(t, guard.seen, "mk:camp-1:cl-9")
}

func TestMkHandlerThrottlePacing(t *testing.T) {
	q := &fakeQueue{}
	h := newMkHandler(q, &fakeReserver{}, &fakeAllower{}, &fakeDeferrer{}, daytime())
	h.throttle = 50 * time.Millisecond
	sleeps := &recordedSleep{}
	h.sleep = sleeps.sleep

	require.NoError(t, h.Handle(context.Background(), campaignJob("job-1", "camp-1")))
	assert.Equal(t, []time.Duration{50 * time.Millisecond}, sleeps.waits)
}
