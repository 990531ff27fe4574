// Package workers contains the queue consumers: the transactional and
// marketing routers, the per-channel sender, and the reminder dispatcher.
//
// All workers share the Runner loop. Retries are new enqueues of a copy with
// Attempts incremented; the originally delivered entry is always acked, so a
// job is consumed from its stream exactly once.
package workers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"saloncore/internal/config"
	"saloncore/internal/queue"
	"saloncore/internal/types"
)

// JobQueue is the queue surface the runner consumes. Implemented by
// queue.Queue.
type JobQueue interface {
	Enqueue(ctx context.Context, job *types.Job) error
	Dequeue(ctx context.Context, queueName string) (*queue.Delivery, error)
	Ack(ctx context.Context, queueName, streamID string) error
	DeadLetter(ctx context.Context, job *types.Job, cause string) error
}

// Enqueuer is the narrow producer surface the routing handlers need.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *types.Job) error
}

// KeyReserver wins-or-loses a dedupe key. Implemented by idempotency.Guard.
type KeyReserver interface {
	Reserve(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// RateAllower consumes one unit from a fixed-window counter. Implemented by
// ratelimit.Limiter.
type RateAllower interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (types.RateLimitResult, error)
}

// Handler processes one decoded job. A nil return acknowledges the job; an
// error triggers the runner's retry policy.
type Handler interface {
	Handle(ctx context.Context, job *types.Job) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *types.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *types.Job) error { return f(ctx, job) }

// JobLog records job transitions for the operational trail. Optional; a nil
// JobLog disables recording.
type JobLog interface {
	Record(ctx context.Context, e types.JobLogEntry) error
}

// transportPause is how long the loop backs off after a queue transport
// error before polling again.
const transportPause = time.Second

// Runner drives one queue consumer: dequeue, handle, ack, with retry and
// dead-lettering on failure.
type Runner struct {
	queue     JobQueue
	queueName string
	handler   Handler
	retry     config.WorkerRetryConfig
	jobLog    JobLog
	logger    *slog.Logger
	clock     types.Clock

	// sleep is swapped in tests to avoid real waiting.
	sleep func(ctx context.Context, d time.Duration)
}

// NewRunner creates a Runner for one queue.
func NewRunner(q JobQueue, queueName string, handler Handler, retry config.WorkerRetryConfig, jobLog JobLog, logger *slog.Logger) *Runner {
	return &Runner{
		queue:     q,
		queueName: queueName,
		handler:   handler,
		retry:     retry,
		jobLog:    jobLog,
		logger:    logger,
		clock:     types.RealClock{},
		sleep:     sleepCtx,
	}
}

// Run consumes the queue until the context is cancelled. Queue transport
// errors are logged and paced rather than fatal; Redis outages heal.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("worker started", slog.String("queue", r.queueName))
	for {
		if err := ctx.Err(); err != nil {
			r.logger.Info("worker stopped", slog.String("queue", r.queueName))
			return nil
		}
		d, err := r.queue.Dequeue(ctx, r.queueName)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			r.logger.Error("dequeue failed",
				slog.String("queue", r.queueName),
				slog.String("error", err.Error()))
			r.sleep(ctx, transportPause)
			continue
		}
		if d == nil {
			continue
		}
		r.process(ctx, d)
	}
}

// process runs the handler on one delivery and settles it: ack on success,
// retry-enqueue or dead-letter on failure. The delivered entry is acked in
// every branch.
func (r *Runner) process(ctx context.Context, d *queue.Delivery) {
	job := d.Job
	err := r.handler.Handle(ctx, job)
	if err == nil {
		r.settle(ctx, d, types.JobLogProcessed, "")
		return
	}

	attempts := job.Attempts + 1
	retryable := isRetryable(err)
	// MaxAttempts counts retries, not deliveries: a job is re-enqueued up to
	// MaxAttempts times before it dead-letters.
	if retryable && attempts <= r.retry.MaxAttempts {
		retry := *job
		retry.Attempts = attempts
		// New entry under the same job ID keeps the logical identity
		// across attempts.
		if enqErr := r.enqueueAfter(ctx, &retry, r.backoff(attempts)); enqErr != nil {
			r.logger.Error("retry enqueue failed; dead-lettering",
				slog.String("queue", r.queueName),
				slog.String("job_id", job.ID),
				slog.String("error", enqErr.Error()))
			r.deadLetter(ctx, d, err.Error())
			return
		}
		r.logger.Warn("job failed; retry scheduled",
			slog.String("queue", r.queueName),
			slog.String("job_id", job.ID),
			slog.Int("attempt", attempts),
			slog.String("error", err.Error()))
		r.settle(ctx, d, types.JobLogFailed, err.Error())
		return
	}

	r.logger.Error("job exhausted retries",
		slog.String("queue", r.queueName),
		slog.String("job_id", job.ID),
		slog.Int("attempts", attempts),
		slog.Bool("retryable", retryable),
		slog.String("error", err.Error()))
	r.deadLetter(ctx, d, err.Error())
}

// backoff is linear in the attempt count, capped.
func (r *Runner) backoff(attempts int) time.Duration {
	d := time.Duration(attempts) * r.retry.BaseBackoff
	if d > r.retry.MaxBackoff {
		d = r.retry.MaxBackoff
	}
	return d
}

// enqueueAfter waits out the backoff before re-appending the retry copy. The
// wait happens on the consumer; at single-digit retry backoffs this is
// cheaper than a delayed-delivery structure.
func (r *Runner) enqueueAfter(ctx context.Context, job *types.Job, delay time.Duration) error {
	if delay > 0 {
		r.sleep(ctx, delay)
	}
	if err := ctx.Err(); err != nil {
		// Shutting down: skip the enqueue, the unacked original will be
		// reclaimed and retried by another consumer.
		return err
	}
	return r.queue.Enqueue(ctx, job)
}

func (r *Runner) settle(ctx context.Context, d *queue.Delivery, status types.JobLogStatus, cause string) {
	if err := r.queue.Ack(ctx, r.queueName, d.StreamID); err != nil {
		r.logger.Error("ack failed",
			slog.String("queue", r.queueName),
			slog.String("stream_id", d.StreamID),
			slog.String("error", err.Error()))
	}
	r.record(ctx, d.Job, status, cause)
}

func (r *Runner) deadLetter(ctx context.Context, d *queue.Delivery, cause string) {
	if err := r.queue.DeadLetter(ctx, d.Job, cause); err != nil {
		r.logger.Error("dead letter append failed",
			slog.String("queue", r.queueName),
			slog.String("job_id", d.Job.ID),
			slog.String("error", err.Error()))
	}
	r.settle(ctx, d, types.JobLogDead, cause)
}

func (r *Runner) record(ctx context.Context, job *types.Job, status types.JobLogStatus, cause string) {
	if r.jobLog == nil {
		return
	}
	err := r.jobLog.Record(ctx, types.JobLogEntry{
		JobID:    job.ID,
		TenantID: job.TenantID(),
		Queue:    job.Queue,
		Status:   status,
		Error:    cause,
		Attempts: job.Attempts,
	})
	if err != nil {
		r.logger.Warn("job log record failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
	}
}

// isRetryable treats unknown errors as retryable; only an AppError that
// declares itself permanent short-circuits to the dead letter stream.
func isRetryable(err error) bool {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.IsRetryable()
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
