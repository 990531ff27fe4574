// Package queue implements the durable job queue on Redis streams.
//
// Each logical queue is one stream read through a shared consumer group.
// Delivery is at-least-once: a consumer must Ack every entry it received,
// and entries that stay pending past the ack timeout are reclaimed from
// crashed consumers via XAUTOCLAIM before new entries are read.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"saloncore/internal/types"
)

// Delivery is one claimed stream entry together with its decoded job.
// StreamID is required for the acknowledgement.
type Delivery struct {
	StreamID string
	Job      *types.Job
}

// Stats reports the observable depth of one queue.
type Stats struct {
	Queue   string `json:"queue"`
	Length  int64  `json:"length"`
	Pending int64  `json:"pending"`
	Dead    int64  `json:"dead"`
}

// StreamClient is the subset of redis stream commands the queue issues.
// Satisfied by *redis.Client; tests substitute a scripted fake.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAutoClaim(ctx context.Context, a *redis.XAutoClaimArgs) *redis.XAutoClaimCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XLen(ctx context.Context, stream string) *redis.IntCmd
	XPending(ctx context.Context, stream, group string) *redis.XPendingCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
}

// Queue is the Redis-streams job queue. A single instance is shared by the
// HTTP layer and all workers of a process.
type Queue struct {
	rdb        StreamClient
	group      string
	consumer   string
	blockTime  time.Duration
	ackTimeout time.Duration
	claimCount int
	logger     *slog.Logger

	mu     sync.Mutex
	groups map[string]bool
}

// Options configures a Queue.
type Options struct {
	Group      string
	Consumer   string
	BlockTime  time.Duration
	AckTimeout time.Duration
	ClaimCount int
}

// New creates a Queue bound to the given Redis client.
func New(rdb StreamClient, opts Options, logger *slog.Logger) *Queue {
	if opts.BlockTime <= 0 {
		opts.BlockTime = 5 * time.Second
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = time.Minute
	}
	if opts.ClaimCount <= 0 {
		opts.ClaimCount = 1
	}
	return &Queue{
		rdb:        rdb,
		group:      opts.Group,
		consumer:   opts.Consumer,
		blockTime:  opts.BlockTime,
		ackTimeout: opts.AckTimeout,
		claimCount: opts.ClaimCount,
		logger:     logger,
		groups:     make(map[string]bool),
	}
}

// payloadField is the single stream entry field carrying the JSON job.
const payloadField = "payload"

// Enqueue appends a job to its queue's stream. A missing job ID is assigned
// here so retries of the same logical job keep their identity. The assigned
// stream entry ID is discarded; the job ID is the stable handle.
func (q *Queue) Enqueue(ctx context.Context, job *types.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if err := job.Validate(); err != nil {
		return err
	}
	raw, err := types.EncodeJob(job)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to encode job", err)
	}
	if err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: job.Queue,
		Values: map[string]any{payloadField: raw},
	}).Err(); err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to append job to stream", err)
	}
	q.logger.Debug("job enqueued",
		slog.String("queue", job.Queue),
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.Int("attempts", job.Attempts))
	return nil
}

// Dequeue returns the next delivery from the queue, blocking up to the
// configured block time. Stale pending entries (idle past the ack timeout)
// are reclaimed before new entries are read. A nil Delivery with nil error
// means the block timed out with nothing to do.
//
// Entries whose payload cannot be decoded are acked and moved to the dead
// letter stream so they cannot wedge the consumer group.
func (q *Queue) Dequeue(ctx context.Context, queueName string) (*Delivery, error) {
	if err := q.ensureGroup(ctx, queueName); err != nil {
		return nil, err
	}

	if d, err := q.reclaim(ctx, queueName); err != nil || d != nil {
		return d, err
	}

	streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{queueName, ">"},
		Count:    1,
		Block:    q.blockTime,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalQueue, "failed to read from stream", err)
	}
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			return q.decode(ctx, queueName, msg)
		}
	}
	return nil, nil
}

// Ack acknowledges a delivered entry, removing it from the pending list.
func (q *Queue) Ack(ctx context.Context, queueName, streamID string) error {
	if err := q.rdb.XAck(ctx, queueName, q.group, streamID).Err(); err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to ack stream entry", err)
	}
	return nil
}

// DeadLetter appends the job, with its final error recorded, to the queue's
// dead letter stream for operator inspection and manual replay.
func (q *Queue) DeadLetter(ctx context.Context, job *types.Job, cause string) error {
	job.LastError = cause
	raw, err := types.EncodeJob(job)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to encode dead letter job", err)
	}
	dead := types.DeadLetterQueue(job.Queue)
	if err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: dead,
		Values: map[string]any{payloadField: raw},
	}).Err(); err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to append dead letter", err)
	}
	q.logger.Warn("job dead-lettered",
		slog.String("queue", job.Queue),
		slog.String("job_id", job.ID),
		slog.Int("attempts", job.Attempts),
		slog.String("error", cause))
	return nil
}

// Stats returns length, pending count, and dead letter depth for the queue.
func (q *Queue) Stats(ctx context.Context, queueName string) (Stats, error) {
	s := Stats{Queue: queueName}
	length, err := q.rdb.XLen(ctx, queueName).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return s, types.NewAppError(types.ErrCodeInternalQueue, "failed to read stream length", err)
	}
	s.Length = length

	pending, err := q.rdb.XPending(ctx, queueName, q.group).Result()
	if err != nil {
		// The group may not exist yet on a stream nobody has consumed.
		if !isNoGroupErr(err) && !errors.Is(err, redis.Nil) {
			return s, types.NewAppError(types.ErrCodeInternalQueue, "failed to read pending summary", err)
		}
	} else {
		s.Pending = pending.Count
	}

	dead, err := q.rdb.XLen(ctx, types.DeadLetterQueue(queueName)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return s, types.NewAppError(types.ErrCodeInternalQueue, "failed to read dead letter length", err)
	}
	s.Dead = dead
	return s, nil
}

// reclaim claims entries left pending past the ack timeout by any consumer
// in the group, returning the first decodable one.
func (q *Queue) reclaim(ctx context.Context, queueName string) (*Delivery, error) {
	msgs, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   queueName,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.ackTimeout,
		Start:    "0-0",
		Count:    int64(q.claimCount),
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || isNoGroupErr(err) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalQueue, "failed to reclaim stale entries", err)
	}
	for _, msg := range msgs {
		d, err := q.decode(ctx, queueName, msg)
		if err != nil {
			return nil, err
		}
		if d != nil {
			q.logger.Info("reclaimed stale delivery",
				slog.String("queue", queueName),
				slog.String("job_id", d.Job.ID),
				slog.String("stream_id", d.StreamID))
			return d, nil
		}
	}
	return nil, nil
}

// decode turns a raw stream message into a Delivery. Malformed payloads are
// acked and dead-lettered rather than returned, so a poison entry is handled
// exactly once.
func (q *Queue) decode(ctx context.Context, queueName string, msg redis.XMessage) (*Delivery, error) {
	raw, _ := msg.Values[payloadField].(string)
	job, err := types.DecodeJob([]byte(raw))
	if err != nil {
		q.logger.Error("dropping undecodable stream entry",
			slog.String("queue", queueName),
			slog.String("stream_id", msg.ID),
			slog.String("error", err.Error()))
		if ackErr := q.Ack(ctx, queueName, msg.ID); ackErr != nil {
			return nil, ackErr
		}
		poison := &types.Job{ID: uuid.NewString(), Queue: queueName, CreatedAt: time.Now().UTC()}
		poison.LastError = "undecodable payload: " + err.Error()
		if dlErr := q.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: types.DeadLetterQueue(queueName),
			Values: map[string]any{payloadField: raw, "error": poison.LastError},
		}).Err(); dlErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalQueue, "failed to dead letter poison entry", dlErr)
		}
		return nil, nil
	}
	return &Delivery{StreamID: msg.ID, Job: job}, nil
}

// ensureGroup creates the consumer group for the stream if this process has
// not done so yet. MKSTREAM creates the stream as a side effect; BUSYGROUP
// from a concurrent creator is not an error.
func (q *Queue) ensureGroup(ctx context.Context, queueName string) error {
	q.mu.Lock()
	done := q.groups[queueName]
	q.mu.Unlock()
	if done {
		return nil
	}
	err := q.rdb.XGroupCreateMkStream(ctx, queueName, q.group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to create consumer group", err)
	}
	q.mu.Lock()
	q.groups[queueName] = true
	q.mu.Unlock()
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

func isNoGroupErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NOGROUP")
}
