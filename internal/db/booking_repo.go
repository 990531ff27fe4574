package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"saloncore/internal/types"
)

// BookingRepository provides data access for the appointments_map table and
// its append-only booking_events audit trail.
type BookingRepository struct {
	db DBTX
}

// NewBookingRepository creates a repository backed by the given database
// connection (pool or transaction).
func NewBookingRepository(db DBTX) *BookingRepository {
	return &BookingRepository{db: db}
}

// UpsertMapping records or updates the link between a tenant booking and the
// external provider's booking id. A zero StartAt leaves the stored start
// untouched (cancellations carry no start).
func (r *BookingRepository) UpsertMapping(ctx context.Context, m types.BookingMapping) error {
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to encode booking metadata", err)
	}
	var startAt *time.Time
	if !m.StartAt.IsZero() {
		t := m.StartAt.UTC()
		startAt = &t
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO appointments_map (tenant_id, external_booking_id, status, start_at, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, external_booking_id) DO UPDATE
		SET status = EXCLUDED.status,
		    start_at = COALESCE(EXCLUDED.start_at, appointments_map.start_at),
		    metadata = appointments_map.metadata || EXCLUDED.metadata,
		    updated_at = now()`,
		m.TenantID, m.ExternalBookingID, string(m.Status), startAt, meta)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert booking mapping", err)
	}
	return nil
}

// GetMapping returns the stored mapping for a booking, or a not-found error.
func (r *BookingRepository) GetMapping(ctx context.Context, tenantID, bookingID string) (*types.BookingMapping, error) {
	var m types.BookingMapping
	var startAt *time.Time
	var meta []byte
	err := r.db.QueryRow(ctx, `
		SELECT tenant_id, external_booking_id, status, start_at, metadata
		FROM appointments_map
		WHERE tenant_id = $1 AND external_booking_id = $2`,
		tenantID, bookingID,
	).Scan(&m.TenantID, &m.ExternalBookingID, &m.Status, &startAt, &meta)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundBooking, "booking mapping not found", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read booking mapping", err)
	}
	if startAt != nil {
		m.StartAt = startAt.UTC()
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &m.Metadata)
	}
	return &m, nil
}

// InsertEvent appends one audit trail entry for a booking transition.
func (r *BookingRepository) InsertEvent(ctx context.Context, e types.BookingEvent) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to encode booking event payload", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO booking_events (tenant_id, booking_id, event_type, source, payload)
		VALUES ($1, $2, $3, $4, $5)`,
		e.TenantID, e.BookingID, e.EventType, e.Source, payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert booking event", err)
	}
	return nil
}
