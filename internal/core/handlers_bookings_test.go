package core

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saloncore/internal/booking"
	"saloncore/internal/calendar"
	"saloncore/internal/config"
	"saloncore/internal/types"
)

// attachOrchestrator wires a real Orchestrator over the mock provider so the
// booking routes run end to end.
func attachOrchestrator(f *serverFixture) {
	f.source.configs["salon-1"].Services = map[string]types.ServiceConfig{
		"haircut": {EventTypeID: 42, DurationMinutes: 60, GridMinutes: 15},
	}
	f.srv.Bookings = booking.NewOrchestrator(booking.Options{
		Provider: &calendar.MockProvider{},
		Resolver: f.srv.Resolver,
		Guard:    f.guard,
		Scheduling: config.SchedulingConfig{
			SlotGridMinutes:        15,
			DefaultDurationMinutes: 60,
		},
		Contacts: f.srv.Config.Contacts,
		Logger:   f.srv.Logger,
	})
}

func TestHandleBookingCreate(t *testing.T) {
	f := newServerFixture(t)
	attachOrchestrator(f)

	rec := f.do(t, http.MethodPost, "/bookings/create", map[string]any{
		"serviceId":      "haircut",
		"start":          "2026-04-10T10:00:00Z",
		"name":           "Anna Petrova",
		"phone":          "+79991234567",
		"timeZone":       "Europe/Moscow",
		"idempotencyKey": "bk-key-1",
	}, map[string]string{"X-Tenant-Id": "salon-1"})

	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	resp := decodeMap(t, rec)
	assert.Equal(t, "created", resp["status"])
	assert.NotEmpty(t, resp["bookingId"])
	assert.Equal(t, true, resp["mocked"])
	assert.Contains(t, f.guard.seen, "idemp:booking:salon-1:bk-key-1")
}

func TestHandleBookingCreateRejectsBadStart(t *testing.T) {
	f := newServerFixture(t)
	attachOrchestrator(f)

	rec := f.do(t, http.MethodPost, "/bookings/create", map[string]any{
		"serviceId": "haircut",
		"start":     "next tuesday",
		"name":      "Anna",
		"timeZone":  "UTC",
	}, map[string]string{"X-Tenant-Id": "salon-1"})

	requireErrorCode(t, rec, http.StatusBadRequest, types.ErrCodeValidationInvalidTime)
}

func TestHandleBookingCreateMisalignedStart(t *testing.T) {
	f := newServerFixture(t)
	attachOrchestrator(f)

	rec := f.do(t, http.MethodPost, "/bookings/create", map[string]any{
		"serviceId":      "haircut",
		"start":          "2026-04-10T10:07:00Z",
		"name":           "Anna Petrova",
		"phone":          "+79991234567",
		"timeZone":       "Europe/Moscow",
		"idempotencyKey": "bk-key-2",
	}, map[string]string{"X-Tenant-Id": "salon-1"})

	detail := requireErrorCode(t, rec, http.StatusBadRequest, types.ErrCodeValidationGridAlignment)
	assert.EqualValues(t, 15, detail.Details["gridMinutes"])
}

func TestHandleBookingCancel(t *testing.T) {
	f := newServerFixture(t)
	attachOrchestrator(f)

	rec := f.do(t, http.MethodPost, "/bookings/cancel", map[string]any{
		"bookingId": "uid-9",
		"reason":    "client request",
	}, map[string]string{"X-Tenant-Id": "salon-1"})

	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	resp := decodeMap(t, rec)
	assert.Equal(t, "cancelled", resp["status"])
	assert.Equal(t, "uid-9", resp["bookingId"])
}

func TestHandleBookingRescheduleRejectsBadStart(t *testing.T) {
	f := newServerFixture(t)
	attachOrchestrator(f)

	rec := f.do(t, http.MethodPost, "/bookings/reschedule", map[string]any{
		"bookingId": "uid-9",
		"start":     "soon",
	}, map[string]string{"X-Tenant-Id": "salon-1"})

	requireErrorCode(t, rec, http.StatusBadRequest, types.ErrCodeValidationInvalidTime)
}

func TestHandleSlotsSuggestRejectsBadPreferredTime(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/slots/suggest", map[string]any{
		"serviceId":     "haircut",
		"preferredTime": "whenever",
	}, map[string]string{"X-Tenant-Id": "salon-1"})

	requireErrorCode(t, rec, http.StatusBadRequest, types.ErrCodeValidationInvalidTime)
}
