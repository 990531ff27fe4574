package db

import (
	"context"

	"saloncore/internal/types"
)

// JobLogRepository records job lifecycle transitions in the job_log table.
// The trail is operational: it feeds KPI aggregation and lets operators
// trace a dead-lettered job back to its attempts.
type JobLogRepository struct {
	db DBTX
}

// NewJobLogRepository creates a repository backed by the given database
// connection (pool or transaction).
func NewJobLogRepository(db DBTX) *JobLogRepository {
	return &JobLogRepository{db: db}
}

// Record upserts the latest status for a job. One row per job id; each
// transition overwrites the previous status and error.
func (r *JobLogRepository) Record(ctx context.Context, e types.JobLogEntry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO job_log (job_id, tenant_id, queue, status, error, attempts)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		ON CONFLICT (job_id) DO UPDATE
		SET status = EXCLUDED.status,
		    error = EXCLUDED.error,
		    attempts = EXCLUDED.attempts,
		    updated_at = now()`,
		e.JobID, e.TenantID, e.Queue, string(e.Status), e.Error, e.Attempts)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record job log entry", err)
	}
	return nil
}
