package workers

import (
	"context"
	"log/slog"
	"time"

	"saloncore/internal/types"
)

// ReminderSchedule is the schedule surface the worker drains. Implemented by
// reminders.Scheduler.
type ReminderSchedule interface {
	PopDue(ctx context.Context) (*types.ReminderEntry, error)
	Schedule(ctx context.Context, r types.ReminderEntry, runAt time.Time) (string, error)
}

// ReminderWorker polls the reminder schedule and re-injects due entries as
// jobs on their target queue. Unlike the queue consumers it drains a sorted
// set, so it runs its own loop instead of the shared Runner.
type ReminderWorker struct {
	scheduler ReminderSchedule
	queue     Enqueuer
	poll      time.Duration
	logger    *slog.Logger

	sleep func(ctx context.Context, d time.Duration)
}

// NewReminderWorker creates the reminder dispatcher.
func NewReminderWorker(scheduler ReminderSchedule, q Enqueuer, poll time.Duration, logger *slog.Logger) *ReminderWorker {
	if poll <= 0 {
		poll = time.Second
	}
	return &ReminderWorker{
		scheduler: scheduler,
		queue:     q,
		poll:      poll,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// Run drains due reminders until the context is cancelled. An empty schedule
// or an undue head waits one poll interval; transport errors are logged and
// paced the same way.
func (w *ReminderWorker) Run(ctx context.Context) error {
	w.logger.Info("reminder worker started", slog.Duration("poll", w.poll))
	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("reminder worker stopped")
			return nil
		}
		entry, err := w.scheduler.PopDue(ctx)
		if err != nil {
			w.logger.Error("reminder pop failed", slog.String("error", err.Error()))
			w.sleep(ctx, w.poll)
			continue
		}
		if entry == nil {
			w.sleep(ctx, w.poll)
			continue
		}
		w.dispatch(ctx, entry)
	}
}

// dispatch enqueues one due reminder on its target queue. Enqueue failures
// push the entry back onto the schedule so a Redis hiccup delays delivery
// instead of dropping it.
func (w *ReminderWorker) dispatch(ctx context.Context, entry *types.ReminderEntry) {
	target := entry.TargetQueue
	if target == "" {
		target = types.QueueTx
	}
	job := &types.Job{
		Queue: target,
		Kind:  types.JobKindReminderDispatch,
		Reminder: &types.ReminderDispatchPayload{
			TenantID:  entry.TenantID,
			Channel:   entry.Channel,
			To:        entry.To,
			Message:   entry.Message,
			BookingID: entry.BookingID,
			Metadata:  entry.Metadata,
		},
	}
	if err := w.queue.Enqueue(ctx, job); err != nil {
		w.logger.Error("reminder dispatch enqueue failed; rescheduling",
			slog.String("tenant_id", entry.TenantID),
			slog.String("booking_id", entry.BookingID),
			slog.String("error", err.Error()))
		if _, schedErr := w.scheduler.Schedule(ctx, *entry, time.Now().Add(w.poll)); schedErr != nil {
			w.logger.Error("reminder reschedule failed; reminder lost",
				slog.String("tenant_id", entry.TenantID),
				slog.String("booking_id", entry.BookingID),
				slog.String("error", schedErr.Error()))
		}
		return
	}
	w.logger.Info("reminder dispatched",
		slog.String("tenant_id", entry.TenantID),
		slog.String("queue", target),
		slog.String("channel", entry.Channel),
		slog.String("booking_id", entry.BookingID))
}
