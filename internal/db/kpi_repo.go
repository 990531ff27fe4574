package db

import (
	"context"

	"saloncore/internal/types"
)

// KPISummary aggregates a tenant's booking and messaging activity over a
// reporting period.
type KPISummary struct {
	Period              string  `json:"period"`
	BookingsTotal       int64   `json:"bookingsTotal"`
	BookingsUpcoming    int64   `json:"bookingsUpcoming"`
	BookingsPast        int64   `json:"bookingsPast"`
	BookingsCancelled   int64   `json:"bookingsCancelled"`
	BookingsRescheduled int64   `json:"bookingsRescheduled"`
	BookingsNoShow      int64   `json:"bookingsNoShow"`
	OutboundMessages    int64   `json:"outboundMessages"`
	FailedJobs          int64   `json:"failedJobs"`
	CancellationRate    float64 `json:"cancellationRate"`
	RescheduleRate      float64 `json:"rescheduleRate"`
	NoShowRate          float64 `json:"noShowRate"`
}

// KPIRepository aggregates KPI metrics from the appointments_map, job_log
// and booking_events tables.
type KPIRepository struct {
	db DBTX
}

// NewKPIRepository creates a repository backed by the given database
// connection (pool or transaction).
func NewKPIRepository(db DBTX) *KPIRepository {
	return &KPIRepository{db: db}
}

// periodInterval maps a reporting period name to a Postgres interval. Only
// known values are returned, so the interval can be inlined in SQL.
func periodInterval(period string) string {
	switch period {
	case "week":
		return "7 days"
	case "month":
		return "30 days"
	default:
		return "1 day"
	}
}

// Summary computes the tenant's KPI summary for the period ("day", "week" or
// "month"; anything else means "day").
func (r *KPIRepository) Summary(ctx context.Context, tenantID, period string) (*KPISummary, error) {
	interval := periodInterval(period)
	s := KPISummary{Period: period}

	err := r.db.QueryRow(ctx, `
		SELECT
			count(*)::bigint,
			count(*) FILTER (WHERE start_at >= now())::bigint,
			count(*) FILTER (WHERE start_at < now())::bigint,
			count(*) FILTER (WHERE status = 'cancelled')::bigint,
			count(*) FILTER (WHERE status = 'rescheduled')::bigint,
			count(*) FILTER (WHERE status = 'no_show')::bigint
		FROM appointments_map
		WHERE tenant_id = $1
		  AND (start_at IS NULL OR start_at >= now() - interval '`+interval+`')`,
		tenantID,
	).Scan(
		&s.BookingsTotal,
		&s.BookingsUpcoming,
		&s.BookingsPast,
		&s.BookingsCancelled,
		&s.BookingsRescheduled,
		&s.BookingsNoShow,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to aggregate booking metrics", err)
	}

	err = r.db.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'processed')::bigint,
			count(*) FILTER (WHERE status IN ('failed', 'dead'))::bigint
		FROM job_log
		WHERE tenant_id = $1
		  AND updated_at >= now() - interval '`+interval+`'
		  AND queue LIKE 'queue:send:%'`,
		tenantID,
	).Scan(&s.OutboundMessages, &s.FailedJobs)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to aggregate message metrics", err)
	}

	if s.BookingsTotal > 0 {
		total := float64(s.BookingsTotal)
		s.CancellationRate = float64(s.BookingsCancelled) / total * 100
		s.RescheduleRate = float64(s.BookingsRescheduled) / total * 100
		s.NoShowRate = float64(s.BookingsNoShow) / total * 100
	}
	return &s, nil
}
