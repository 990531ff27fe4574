package booking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saloncore/internal/calendar"
	"saloncore/internal/config"
	"saloncore/internal/quiethours"
	"saloncore/internal/tenant"
	"saloncore/internal/types"
)

type staticSource struct {
	configs map[string]*types.TenantConfig
}

func (s *staticSource) LoadAll(ctx context.Context) (map[string]*types.TenantConfig, error) {
	return s.configs, nil
}

func (s *staticSource) Put(ctx context.Context, tenantID string, cfg *types.TenantConfig) error {
	return types.NewAppError(types.ErrCodeConfigSourceReadOnly, "read-only", nil)
}

func (s *staticSource) Delete(ctx context.Context, tenantID string) error {
	return types.NewAppError(types.ErrCodeConfigSourceReadOnly, "read-only", nil)
}

func (s *staticSource) ReadOnly() bool { return true }

// recordingProvider captures provider calls. The embedded mock serves the
// methods a test does not override.
type recordingProvider struct {
	calendar.MockProvider
	mu            sync.Mutex
	uid           string
	err           error
	createReqs    []calendar.BookingRequest
	createOvs     []calendar.Overrides
	rescheduleReq *calendar.RescheduleRequest
	cancelReq     *calendar.CancelRequest
}

func (p *recordingProvider) CreateBooking(ctx context.Context, req calendar.BookingRequest, ov calendar.Overrides) (*calendar.BookingResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.createReqs = append(p.createReqs, req)
	p.createOvs = append(p.createOvs, ov)
	return &calendar.BookingResult{UID: p.uid, Status: "created", Start: req.Start}, nil
}

func (p *recordingProvider) RescheduleBooking(ctx context.Context, req calendar.RescheduleRequest, ov calendar.Overrides) (*calendar.BookingResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.rescheduleReq = &req
	return &calendar.BookingResult{UID: req.BookingUID, Status: "rescheduled"}, nil
}

func (p *recordingProvider) CancelBooking(ctx context.Context, req calendar.CancelRequest, ov calendar.Overrides) (*calendar.BookingResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.cancelReq = &req
	return &calendar.BookingResult{UID: req.BookingUID, Status: "cancelled"}, nil
}

type memoryGuard struct {
	mu   sync.Mutex
	seen map[string]string
}

func (g *memoryGuard) Reserve(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen == nil {
		g.seen = map[string]string{}
	}
	if _, dup := g.seen[key]; dup {
		return false, nil
	}
	g.seen[key] = value
	return true, nil
}

func (g *memoryGuard) Holder(ctx context.Context, key string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seen[key], nil
}

func (g *memoryGuard) Confirm(ctx context.Context, key, value string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen == nil {
		g.seen = map[string]string{}
	}
	g.seen[key] = value
	return nil
}

func (g *memoryGuard) Release(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, key)
	return nil
}

type memoryMappings struct {
	mappings []types.BookingMapping
	events   []types.BookingEvent
}

func (m *memoryMappings) UpsertMapping(ctx context.Context, mapping types.BookingMapping) error {
	m.mappings = append(m.mappings, mapping)
	return nil
}

func (m *memoryMappings) InsertEvent(ctx context.Context, e types.BookingEvent) error {
	m.events = append(m.events, e)
	return nil
}

type memoryClients struct {
	upserts []string
}

func (c *memoryClients) UpsertClient(ctx context.Context, tenantID, phone, email, firstName, lastName string, metadata map[string]any) error {
	c.upserts = append(c.upserts, tenantID+"/"+phone+"/"+email+"/"+firstName+"/"+lastName)
	return nil
}

type memoryReminders struct {
	cancelled []string
	removed   int64
	entries   []types.ReminderEntry
	runAts    []time.Time
}

func (p *memoryReminders) Schedule(ctx context.Context, r types.ReminderEntry, runAt time.Time) (string, error) {
	p.entries = append(p.entries, r)
	p.runAts = append(p.runAts, runAt)
	return "rem-1", nil
}

func (p *memoryReminders) CancelForBooking(ctx context.Context, tenantID, bookingID string) (int64, error) {
	p.cancelled = append(p.cancelled, tenantID+"/"+bookingID)
	return p.removed, nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type bookingFixture struct {
	orch      *Orchestrator
	provider  *recordingProvider
	guard     *memoryGuard
	mappings  *memoryMappings
	clients   *memoryClients
	reminders *memoryReminders
}

func newBookingFixture(t *testing.T, strict bool) *bookingFixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	source := &staticSource{configs: map[string]*types.TenantConfig{
		"salon-1": {
			Version: 1,
			Services: map[string]types.ServiceConfig{
				"haircut": {EventTypeID: 42, DurationMinutes: 60, GridMinutes: 15},
				"launch":  {EventTypeSlug: "launch", Username: "master"},
				"spa": {EventTypeID: 43, DurationMinutes: 60, GridMinutes: 15,
					ReminderOffsets: []types.Duration{
						types.Duration(24 * time.Hour),
						types.Duration(time.Hour),
					}},
			},
			Calendar: &types.CalendarConfig{APIBase: "https://cal.example", APIKey: "key-1"},
		},
	}}
	f := &bookingFixture{
		provider:  &recordingProvider{uid: "uid-100"},
		guard:     &memoryGuard{},
		mappings:  &memoryMappings{},
		clients:   &memoryClients{},
		reminders: &memoryReminders{removed: 2},
	}
	f.orch = NewOrchestrator(Options{
		Provider:  f.provider,
		Resolver:  tenant.NewResolver(source, time.Minute, logger),
		Guard:     f.guard,
		Mappings:  f.mappings,
		Clients:   f.clients,
		Reminders: f.reminders,
		Scheduling: config.SchedulingConfig{
			SlotGridMinutes:        15,
			DefaultDurationMinutes: 60,
		},
		Contacts: config.ContactsConfig{AllowSynthetic: true, SyntheticDomain: "clients.local"},
		Quiet:    quiethours.Window{Start: 22, End: 9},
		Strict:   strict,
		Clock:    fixedClock{now: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)},
		Logger:   logger,
	})
	return f
}

func createInput() CreateInput {
	return CreateInput{
		TenantID:       "salon-1",
		ServiceID:      "haircut",
		Start:          time.Date(2026, 4, 10, 10, 0, 0, 0, time.UTC),
		ClientName:     "Anna Petrova",
		ClientPhone:    "+7 999 123-45-67",
		TimeZone:       "Europe/Moscow",
		IdempotencyKey: "key-1",
	}
}

func TestCreateBooking(t *testing.T) {
	f := newBookingFixture(t, false)

	res, err := f.orch.Create(context.Background(), createInput())
	require.NoError(t, err)

	assert.Equal(t, "uid-100", res.BookingID)
	assert.Equal(t, "created", res.Status)
	assert.True(t, res.End.Equal(res.Start.Add(60*time.Minute)), "end defaults to start plus duration")

	require.Len(t, f.provider.createReqs, 1)
	req := f.provider.createReqs[0]
	assert.Equal(t, 42, req.EventTypeID)
	assert.Equal(t, "2026-04-10T10:00:00Z", req.Start)
	assert.Equal(t, 60, req.LengthInMinutes)
	assert.Equal(t, "Anna Petrova", req.Attendee.Name)
	assert.Equal(t, "7-999-123-45-67@clients.local", req.Attendee.Email)
	assert.Equal(t, "Europe/Moscow", req.Attendee.TimeZone)
	assert.Equal(t, "salon-1", req.Metadata["tenantId"])

	// Tenant calendar credentials are forwarded to the provider call.
	assert.Equal(t, "https://cal.example", f.provider.createOvs[0].APIBase)
	assert.Equal(t, "key-1", f.provider.createOvs[0].APIKey)

	require.Len(t, f.mappings.mappings, 1)
	assert.Equal(t, types.BookingCreated, f.mappings.mappings[0].Status)
	require.Len(t, f.mappings.events, 1)
	assert.Equal(t, "booking_created", f.mappings.events[0].EventType)

	require.Len(t, f.clients.upserts, 1)
	assert.Contains(t, f.clients.upserts[0], "Anna/Petrova")
	assert.Contains(t, f.guard.seen, "idemp:booking:salon-1:key-1")
	assert.Empty(t, f.reminders.entries, "service without reminder offsets schedules nothing")
}

func TestCreateBookingSchedulesServiceReminders(t *testing.T) {
	f := newBookingFixture(t, false)

	in := createInput()
	in.ServiceID = "spa"
	in.Metadata = map[string]any{"channel": "telegram"}
	res, err := f.orch.Create(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, "uid-100", res.BookingID)

	require.Len(t, f.reminders.entries, 2)
	for _, e := range f.reminders.entries {
		assert.Equal(t, "salon-1", e.TenantID)
		assert.Equal(t, "telegram", e.Channel)
		assert.Equal(t, "+7 999 123-45-67", e.To, "address falls back to the client phone")
		assert.Equal(t, "uid-100", e.BookingID)
		assert.Equal(t, "Europe/Moscow", e.TimeZone)
	}
	assert.Equal(t, "Reminder: your appointment is in 24h0m0s", f.reminders.entries[0].Message)
	assert.True(t, f.reminders.runAts[0].Equal(time.Date(2026, 4, 9, 10, 0, 0, 0, time.UTC)))
	assert.True(t, f.reminders.runAts[1].Equal(time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)))
}

func TestCreateBookingRemindersSkipWithoutChannel(t *testing.T) {
	f := newBookingFixture(t, false)

	in := createInput()
	in.ServiceID = "spa"
	_, err := f.orch.Create(context.Background(), in)
	require.NoError(t, err)

	assert.Empty(t, f.reminders.entries)
}

func TestCreateBookingRemindersShiftOutOfQuietHours(t *testing.T) {
	f := newBookingFixture(t, false)

	in := createInput()
	in.ServiceID = "spa"
	in.Metadata = map[string]any{"channel": "telegram"}
	// The 24h reminder lands at 02:00 Moscow time, inside the quiet window.
	in.Start = time.Date(2026, 4, 10, 23, 0, 0, 0, time.UTC)
	_, err := f.orch.Create(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, f.reminders.runAts, 2)
	// Shifted to 09:00 Moscow time, 06:00 UTC.
	assert.True(t, f.reminders.runAts[0].Equal(time.Date(2026, 4, 10, 6, 0, 0, 0, time.UTC)))
}

func TestCreateBookingRemindersSkipPastDue(t *testing.T) {
	f := newBookingFixture(t, false)

	in := createInput()
	in.ServiceID = "spa"
	in.Metadata = map[string]any{"channel": "telegram"}
	// The clock sits at 2026-04-01T12:00Z, so the 24h reminder is already due.
	in.Start = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	_, err := f.orch.Create(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, f.reminders.entries, 1)
	assert.Equal(t, "Reminder: your appointment is in 1h0m0s", f.reminders.entries[0].Message)
}

func TestCreateBookingRejectsUnknownService(t *testing.T) {
	f := newBookingFixture(t, false)

	in := createInput()
	in.ServiceID = "massage"
	_, err := f.orch.Create(context.Background(), in)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationService, appErr.Code)
}

func TestCreateBookingRejectsMisalignedStart(t *testing.T) {
	f := newBookingFixture(t, false)

	in := createInput()
	in.Start = time.Date(2026, 4, 10, 10, 7, 0, 0, time.UTC)
	_, err := f.orch.Create(context.Background(), in)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationGridAlignment, appErr.Code)
	assert.EqualValues(t, 15, appErr.Details["gridMinutes"])
	assert.False(t, appErr.IsRetryable())
	// A rejected request must not burn its idempotency key.
	assert.Empty(t, f.guard.seen)
	assert.Empty(t, f.provider.createReqs)
}

func TestCreateBookingRequiresContact(t *testing.T) {
	f := newBookingFixture(t, false)

	in := createInput()
	in.ClientPhone = ""
	_, err := f.orch.Create(context.Background(), in)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationMissingField, appErr.Code)
	assert.Contains(t, appErr.Message, "client.email")
}

func TestCreateBookingDuplicateIdempotencyKey(t *testing.T) {
	f := newBookingFixture(t, false)

	_, err := f.orch.Create(context.Background(), createInput())
	require.NoError(t, err)

	_, err = f.orch.Create(context.Background(), createInput())
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeConflictDuplicate, appErr.Code)
	assert.Equal(t, "uid-100", appErr.Details["bookingId"], "duplicate answer carries the original booking")
	assert.Len(t, f.provider.createReqs, 1, "duplicate must not reach the provider")
}

func TestCreateBookingStrictUnknownTenant(t *testing.T) {
	f := newBookingFixture(t, true)

	in := createInput()
	in.TenantID = "salon-404"
	_, err := f.orch.Create(context.Background(), in)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeAuthUnknownTenant, appErr.Code)
}

func TestCreateBookingProviderFailure(t *testing.T) {
	f := newBookingFixture(t, false)
	f.provider.err = types.NewAppError(types.ErrCodeUpstreamCalendar, "provider unavailable", errors.New("502"))

	_, err := f.orch.Create(context.Background(), createInput())

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamCalendar, appErr.Code)
	assert.True(t, appErr.IsRetryable())
	assert.Empty(t, f.mappings.mappings)
	assert.Empty(t, f.clients.upserts)
}

func TestCreateBookingProviderFailureFreesIdempotencyKey(t *testing.T) {
	f := newBookingFixture(t, false)
	f.provider.err = types.NewAppError(types.ErrCodeUpstreamCalendar, "provider unavailable", errors.New("502"))

	_, err := f.orch.Create(context.Background(), createInput())
	require.Error(t, err)

	// The failed attempt must not burn the client's key: the retry with the
	// same key goes through.
	f.provider.err = nil
	res, err := f.orch.Create(context.Background(), createInput())
	require.NoError(t, err)
	assert.Equal(t, "uid-100", res.BookingID)
}

func TestRescheduleBooking(t *testing.T) {
	f := newBookingFixture(t, false)
	start := time.Date(2026, 4, 11, 12, 30, 0, 0, time.UTC)

	res, err := f.orch.Reschedule(context.Background(), RescheduleInput{
		TenantID:      "salon-1",
		BookingID:     "uid-100",
		Start:         start,
		ServiceID:     "haircut",
		Reason:        "client asked",
		RescheduledBy: "owner",
	})
	require.NoError(t, err)

	assert.Equal(t, "uid-100", res.BookingID)
	assert.Equal(t, "rescheduled", res.Status)
	assert.True(t, res.End.Equal(start.Add(60*time.Minute)))

	require.NotNil(t, f.provider.rescheduleReq)
	assert.Equal(t, "2026-04-11T12:30:00Z", f.provider.rescheduleReq.Start)
	assert.Equal(t, "client asked", f.provider.rescheduleReq.ReschedulingReason)

	require.Len(t, f.mappings.mappings, 1)
	assert.Equal(t, types.BookingRescheduled, f.mappings.mappings[0].Status)
	assert.Equal(t, []string{"salon-1/uid-100"}, f.reminders.cancelled)
}

func TestRescheduleBookingRejectsMisalignedStart(t *testing.T) {
	f := newBookingFixture(t, false)

	_, err := f.orch.Reschedule(context.Background(), RescheduleInput{
		TenantID:  "salon-1",
		BookingID: "uid-100",
		Start:     time.Date(2026, 4, 11, 12, 31, 0, 0, time.UTC),
	})

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationGridAlignment, appErr.Code)
	assert.Nil(t, f.provider.rescheduleReq)
	assert.Empty(t, f.reminders.cancelled)
}

func TestRescheduleBookingRequiresBookingID(t *testing.T) {
	f := newBookingFixture(t, false)

	_, err := f.orch.Reschedule(context.Background(), RescheduleInput{
		TenantID: "salon-1",
		Start:    time.Date(2026, 4, 11, 12, 30, 0, 0, time.UTC),
	})

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationMissingField, appErr.Code)
}

func TestCancelBooking(t *testing.T) {
	f := newBookingFixture(t, false)

	res, err := f.orch.Cancel(context.Background(), CancelInput{
		TenantID:  "salon-1",
		BookingID: "uid-100",
		Reason:    "no longer needed",
	})
	require.NoError(t, err)

	assert.Equal(t, "cancelled", res.Status)
	assert.True(t, res.Start.IsZero())

	require.NotNil(t, f.provider.cancelReq)
	assert.Equal(t, "no longer needed", f.provider.cancelReq.CancellationReason)

	require.Len(t, f.mappings.mappings, 1)
	assert.Equal(t, types.BookingCancelled, f.mappings.mappings[0].Status)
	assert.Equal(t, []string{"salon-1/uid-100"}, f.reminders.cancelled)
}

func TestSyntheticEmail(t *testing.T) {
	assert.Equal(t, "7-999-123-45-67@clients.local", syntheticEmail("+7 999 123-45-67", "clients.local"))
	assert.Equal(t, "123@clients.local", syntheticEmail("(123)", "clients.local"))
}
