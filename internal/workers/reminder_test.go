package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saloncore/internal/types"
)

// scriptedSchedule hands out entries in order, then cancels the run context.
type scriptedSchedule struct {
	mu      sync.Mutex
	due     []*types.ReminderEntry
	cancel  context.CancelFunc
	pushed  []types.ReminderEntry
	pushAts []time.Time
}

func (s *scriptedSchedule) PopDue(context.Context) (*types.ReminderEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.due) == 0 {
		s.cancel()
		return nil, nil
	}
	e := s.due[0]
	s.due = s.due[1:]
	return e, nil
}

func (s *scriptedSchedule) Schedule(_ context.Context, r types.ReminderEntry, runAt time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushed = append(s.pushed, r)
	s.pushAts = append(s.pushAts, runAt)
	return "rem-1", nil
}

func runReminderWorker(t *testing.T, sched *scriptedSchedule, q *fakeQueue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	sched.cancel = cancel
	w := NewReminderWorker(sched, q, time.Second, testLogger())
	w.sleep = func(context.Context, time.Duration) {}
	require.NoError(t, w.Run(ctx))
}

func dueEntry(target string) *types.ReminderEntry {
	return &types.ReminderEntry{
		TenantID:    "salon-1",
		Channel:     "telegram",
		To:          "12345",
		Message:     "see you at 10:00",
		BookingID:   "bk-1",
		TargetQueue: target,
	}
}

func TestReminderWorkerDispatchesToTx(t *testing.T) {
	q := &fakeQueue{}
	sched := &scriptedSchedule{due: []*types.ReminderEntry{dueEntry("")}}

	runReminderWorker(t, sched, q)

	require.Len(t, q.enqueued, 1)
	job := q.enqueued[0]
	assert.Equal(t, types.QueueTx, job.Queue, "empty target defaults to the tx queue")
	assert.Equal(t, types.JobKindReminderDispatch, job.Kind)
	require.NotNil(t, job.Reminder)
	assert.Equal(t, "bk-1", job.Reminder.BookingID)
}

func TestReminderWorkerHonorsTargetQueue(t *testing.T) {
	q := &fakeQueue{}
	sched := &scriptedSchedule{due: []*types.ReminderEntry{dueEntry(types.QueueMk)}}

	runReminderWorker(t, sched, q)

	require.Len(t, q.enqueued, 1)
	assert.Equal(t, types.QueueMk, q.enqueued[0].Queue)
}

func TestReminderWorkerReschedulesOnEnqueueFailure(t *testing.T) {
	q := &fakeQueue{enqueueErr: errors.New("redis gone")}
	sched := &scriptedSchedule{due: []*types.ReminderEntry{dueEntry("")}}

	runReminderWorker(t, sched, q)

	require.Len(t, sched.pushed, 1, "a failed dispatch goes back on the schedule")
	assert.Equal(t, "bk-1", sched.pushed[0].BookingID)
	assert.True(t, sched.pushAts[0].After(time.Now().Add(-time.Minute)))
}
