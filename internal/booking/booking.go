// Package booking orchestrates the booking lifecycle against the external
// calendar provider: grid-aligned creation, reschedule, and cancellation,
// with the booking mapping, audit trail, and reminder purge kept consistent
// around each provider call.
package booking

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"saloncore/internal/calendar"
	"saloncore/internal/config"
	"saloncore/internal/idempotency"
	"saloncore/internal/quiethours"
	"saloncore/internal/slots"
	"saloncore/internal/tenant"
	"saloncore/internal/types"
)

// CreateInput is a booking creation request after HTTP decoding.
type CreateInput struct {
	TenantID       string
	ServiceID      string
	Start          time.Time
	End            time.Time
	ClientName     string
	ClientPhone    string
	ClientEmail    string
	TimeZone       string
	Language       string
	Metadata       map[string]any
	IdempotencyKey string
}

// RescheduleInput moves an existing booking.
type RescheduleInput struct {
	TenantID      string
	BookingID     string
	Start         time.Time
	ServiceID     string
	Reason        string
	RescheduledBy string
}

// CancelInput cancels an existing booking.
type CancelInput struct {
	TenantID  string
	BookingID string
	Reason    string
}

// Result is the outcome of a successful orchestration call.
type Result struct {
	BookingID string    `json:"bookingId"`
	Start     time.Time `json:"start,omitzero"`
	End       time.Time `json:"end,omitzero"`
	Status    string    `json:"status"`
	Mocked    bool      `json:"mocked,omitempty"`
}

// MappingStore persists booking mappings and their audit trail. Implemented
// by db.BookingRepository; nil disables persistence.
type MappingStore interface {
	UpsertMapping(ctx context.Context, m types.BookingMapping) error
	InsertEvent(ctx context.Context, e types.BookingEvent) error
}

// ClientStore records salon clients best-effort after a booking.
type ClientStore interface {
	UpsertClient(ctx context.Context, tenantID, phone, email, firstName, lastName string, metadata map[string]any) error
}

// KeyReserver claims idempotency keys. Implemented by idempotency.Guard.
type KeyReserver interface {
	Reserve(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Holder(ctx context.Context, key string) (string, error)
	Confirm(ctx context.Context, key, value string) error
	Release(ctx context.Context, key string) error
}

// ReminderStore schedules booking-bound reminders and drops every pending
// one on cancellation or reschedule. Implemented by reminders.Scheduler.
type ReminderStore interface {
	Schedule(ctx context.Context, r types.ReminderEntry, runAt time.Time) (string, error)
	CancelForBooking(ctx context.Context, tenantID, bookingID string) (int64, error)
}

// Orchestrator coordinates bookings across the tenant config, the provider,
// the idempotency guard, persistence, and the reminder scheduler.
type Orchestrator struct {
	provider   calendar.Provider
	resolver   *tenant.Resolver
	guard      KeyReserver
	mappings   MappingStore
	clients    ClientStore
	reminders  ReminderStore
	scheduling config.SchedulingConfig
	contacts   config.ContactsConfig
	quiet      quiethours.Window
	strict     bool
	clock      types.Clock
	logger     *slog.Logger
}

// Options wires an Orchestrator. MappingStore and ClientStore may be nil
// when no database is configured.
type Options struct {
	Provider   calendar.Provider
	Resolver   *tenant.Resolver
	Guard      KeyReserver
	Mappings   MappingStore
	Clients    ClientStore
	Reminders  ReminderStore
	Scheduling config.SchedulingConfig
	Contacts   config.ContactsConfig
	Quiet      quiethours.Window
	Strict     bool
	Clock      types.Clock
	Logger     *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(opts Options) *Orchestrator {
	clock := opts.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Orchestrator{
		provider:   opts.Provider,
		resolver:   opts.Resolver,
		guard:      opts.Guard,
		mappings:   opts.Mappings,
		clients:    opts.Clients,
		reminders:  opts.Reminders,
		scheduling: opts.Scheduling,
		contacts:   opts.Contacts,
		quiet:      opts.Quiet,
		strict:     opts.Strict,
		clock:      clock,
		logger:     opts.Logger,
	}
}

var emailTokenRe = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// syntheticEmail derives a deterministic placeholder address from a phone
// number for channels that never yield a real email.
func syntheticEmail(phone, domain string) string {
	token := strings.Trim(emailTokenRe.ReplaceAllString(phone, "-"), "-")
	return token + "@" + domain
}

// Create validates and creates a booking. Validation errors (missing fields,
// grid misalignment) are never retried; the idempotency reservation happens
// after validation so a malformed request does not burn its key.
func (o *Orchestrator) Create(ctx context.Context, in CreateInput) (*Result, error) {
	cfg, ok := o.resolver.Resolve(ctx, in.TenantID)
	if !ok && o.strict {
		return nil, types.NewAppError(types.ErrCodeAuthUnknownTenant, "unknown tenant", nil)
	}

	svc, ok := cfg.Service(in.ServiceID)
	if !ok {
		return nil, types.NewAppError(types.ErrCodeValidationService, "serviceId is not configured for tenant", nil)
	}

	duration := svc.DurationMinutes
	if duration <= 0 {
		duration = o.scheduling.DefaultDurationMinutes
	}
	buffer := svc.BufferMinutes
	if buffer < 0 {
		buffer = o.scheduling.SlotBufferMinutes
	}
	grid := svc.GridMinutes
	if grid <= 0 {
		grid = o.scheduling.SlotGridMinutes
	}

	if in.Start.IsZero() {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidTime, "start must be an ISO date-time", nil)
	}
	if !slots.IsAlignedToGrid(in.Start, grid) {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeValidationGridAlignment,
			"start is not aligned to the slot grid",
			nil,
			map[string]any{"gridMinutes": grid},
		)
	}

	end := in.End
	if end.IsZero() {
		end = in.Start.Add(time.Duration(duration+buffer) * time.Minute)
	}

	name := strings.TrimSpace(in.ClientName)
	email := strings.TrimSpace(in.ClientEmail)
	phone := strings.TrimSpace(in.ClientPhone)
	if name == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "client.name is required", nil)
	}
	if email == "" && o.contacts.AllowSynthetic && phone != "" {
		email = syntheticEmail(phone, o.contacts.SyntheticDomain)
	}
	if email == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "client.email is required (or enable synthetic contacts)", nil)
	}
	if in.TimeZone == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "timeZone is required", nil)
	}

	var reservedKey string
	if in.IdempotencyKey != "" {
		key := idempotency.BookingKey(in.TenantID, in.IdempotencyKey)
		won, err := o.guard.Reserve(ctx, key, idempotency.Pending, idempotency.DefaultTTL)
		if err != nil {
			return nil, err
		}
		if !won {
			// When the original request already produced a booking, hand
			// its ID back so the client can resolve the duplicate.
			if holder, hErr := o.guard.Holder(ctx, key); hErr == nil && holder != "" && holder != idempotency.Pending {
				return nil, types.NewAppErrorWithDetails(types.ErrCodeConflictDuplicate,
					"duplicate booking request", nil,
					map[string]any{"bookingId": holder})
			}
			return nil, types.NewAppError(types.ErrCodeConflictDuplicate, "duplicate booking request", nil)
		}
		reservedKey = key
	}

	metadata := make(map[string]string, len(in.Metadata)+2)
	for k, v := range in.Metadata {
		if s, isStr := v.(string); isStr {
			metadata[k] = s
		}
	}
	metadata["tenantId"] = in.TenantID
	metadata["serviceId"] = in.ServiceID

	res, err := o.provider.CreateBooking(ctx, calendar.BookingRequest{
		EventTypeID:      svc.EventTypeID,
		EventTypeSlug:    svc.EventTypeSlug,
		Username:         svc.Username,
		TeamSlug:         svc.TeamSlug,
		OrganizationSlug: svc.OrganizationSlug,
		Start:            in.Start.UTC().Format(time.RFC3339),
		LengthInMinutes:  duration + buffer,
		Attendee: calendar.Attendee{
			Name:        name,
			Email:       email,
			TimeZone:    in.TimeZone,
			Language:    in.Language,
			PhoneNumber: phone,
		},
		Metadata: metadata,
	}, calendarOverrides(cfg))
	if err != nil {
		// Nothing durable happened; free the key so the client's retry is
		// not answered as a duplicate.
		if reservedKey != "" {
			if relErr := o.guard.Release(ctx, reservedKey); relErr != nil {
				o.logger.Warn("idempotency key release failed",
					slog.String("tenant_id", in.TenantID),
					slog.String("error", relErr.Error()))
			}
		}
		return nil, err
	}

	if reservedKey != "" && res.UID != "" {
		if confErr := o.guard.Confirm(ctx, reservedKey, res.UID); confErr != nil {
			o.logger.Warn("idempotency key confirm failed",
				slog.String("tenant_id", in.TenantID),
				slog.String("booking_id", res.UID),
				slog.String("error", confErr.Error()))
		}
	}

	if res.UID != "" {
		o.persistTransition(ctx, types.BookingMapping{
			TenantID:          in.TenantID,
			ExternalBookingID: res.UID,
			Status:            types.BookingCreated,
			StartAt:           in.Start,
			Metadata:          map[string]any{"serviceId": in.ServiceID},
		}, types.BookingEvent{
			TenantID:  in.TenantID,
			BookingID: res.UID,
			EventType: "booking_created",
			Source:    "api:booking",
			Payload:   map[string]any{"serviceId": in.ServiceID, "start": in.Start.UTC().Format(time.RFC3339)},
		})
	}

	if o.clients != nil && (phone != "" || in.ClientEmail != "") {
		first, last, _ := strings.Cut(name, " ")
		if err := o.clients.UpsertClient(ctx, in.TenantID, phone, email, first, last,
			map[string]any{"serviceId": in.ServiceID}); err != nil {
			o.logger.Warn("client upsert failed",
				slog.String("tenant_id", in.TenantID),
				slog.String("error", err.Error()))
		}
	}

	scheduled := o.scheduleServiceReminders(ctx, svc, in, res.UID, phone)

	o.logger.Info("booking created",
		slog.String("tenant_id", in.TenantID),
		slog.String("service_id", in.ServiceID),
		slog.String("booking_id", res.UID),
		slog.Time("start", in.Start),
		slog.Int("reminders_scheduled", scheduled))

	return &Result{
		BookingID: res.UID,
		Start:     in.Start.UTC(),
		End:       end.UTC(),
		Status:    string(types.BookingCreated),
		Mocked:    res.Mocked,
	}, nil
}

// Reschedule moves a booking. The new start must satisfy the same grid
// validation as creation; pending reminders for the booking are purged so a
// stale reminder never fires against the old time.
func (o *Orchestrator) Reschedule(ctx context.Context, in RescheduleInput) (*Result, error) {
	cfg, ok := o.resolver.Resolve(ctx, in.TenantID)
	if !ok && o.strict {
		return nil, types.NewAppError(types.ErrCodeAuthUnknownTenant, "unknown tenant", nil)
	}
	if in.BookingID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "bookingId is required", nil)
	}
	if in.Start.IsZero() {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidTime, "start must be an ISO date-time", nil)
	}

	grid := o.scheduling.SlotGridMinutes
	var svc types.ServiceConfig
	if in.ServiceID != "" {
		if s, ok := cfg.Service(in.ServiceID); ok {
			svc = s
			if svc.GridMinutes > 0 {
				grid = svc.GridMinutes
			}
		}
	}
	if !slots.IsAlignedToGrid(in.Start, grid) {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeValidationGridAlignment,
			"start is not aligned to the slot grid",
			nil,
			map[string]any{"gridMinutes": grid},
		)
	}

	res, err := o.provider.RescheduleBooking(ctx, calendar.RescheduleRequest{
		BookingUID:         in.BookingID,
		Start:              in.Start.UTC().Format(time.RFC3339),
		RescheduledBy:      in.RescheduledBy,
		ReschedulingReason: in.Reason,
	}, calendarOverrides(cfg))
	if err != nil {
		return nil, err
	}

	o.persistTransition(ctx, types.BookingMapping{
		TenantID:          in.TenantID,
		ExternalBookingID: in.BookingID,
		Status:            types.BookingRescheduled,
		StartAt:           in.Start,
		Metadata:          map[string]any{"reason": in.Reason, "serviceId": in.ServiceID},
	}, types.BookingEvent{
		TenantID:  in.TenantID,
		BookingID: in.BookingID,
		EventType: "booking_rescheduled",
		Source:    "api:booking",
		Payload:   map[string]any{"reason": in.Reason, "start": in.Start.UTC().Format(time.RFC3339)},
	})

	o.purgeReminders(ctx, in.TenantID, in.BookingID, string(types.BookingRescheduled))

	end := in.Start
	if svc.DurationMinutes > 0 {
		end = in.Start.Add(time.Duration(svc.DurationMinutes+svc.BufferMinutes) * time.Minute)
	}

	return &Result{
		BookingID: in.BookingID,
		Start:     in.Start.UTC(),
		End:       end.UTC(),
		Status:    string(types.BookingRescheduled),
		Mocked:    res.Mocked,
	}, nil
}

// Cancel cancels a booking and purges its pending reminders. Cancellation is
// terminal for the mapping.
func (o *Orchestrator) Cancel(ctx context.Context, in CancelInput) (*Result, error) {
	cfg, ok := o.resolver.Resolve(ctx, in.TenantID)
	if !ok && o.strict {
		return nil, types.NewAppError(types.ErrCodeAuthUnknownTenant, "unknown tenant", nil)
	}
	if in.BookingID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "bookingId is required", nil)
	}

	res, err := o.provider.CancelBooking(ctx, calendar.CancelRequest{
		BookingUID:         in.BookingID,
		CancellationReason: in.Reason,
	}, calendarOverrides(cfg))
	if err != nil {
		return nil, err
	}

	o.persistTransition(ctx, types.BookingMapping{
		TenantID:          in.TenantID,
		ExternalBookingID: in.BookingID,
		Status:            types.BookingCancelled,
		Metadata:          map[string]any{"reason": in.Reason},
	}, types.BookingEvent{
		TenantID:  in.TenantID,
		BookingID: in.BookingID,
		EventType: "booking_cancelled",
		Source:    "api:booking",
		Payload:   map[string]any{"reason": in.Reason},
	})

	o.purgeReminders(ctx, in.TenantID, in.BookingID, string(types.BookingCancelled))

	return &Result{
		BookingID: in.BookingID,
		Status:    string(types.BookingCancelled),
		Mocked:    res.Mocked,
	}, nil
}

// persistTransition records the mapping update and audit event. Persistence
// failures are logged, not surfaced: the provider call already succeeded and
// must not be reported as failed.
func (o *Orchestrator) persistTransition(ctx context.Context, m types.BookingMapping, e types.BookingEvent) {
	if o.mappings == nil {
		return
	}
	if err := o.mappings.UpsertMapping(ctx, m); err != nil {
		o.logger.Error("booking mapping upsert failed",
			slog.String("tenant_id", m.TenantID),
			slog.String("booking_id", m.ExternalBookingID),
			slog.String("error", err.Error()))
	}
	if err := o.mappings.InsertEvent(ctx, e); err != nil {
		o.logger.Error("booking event insert failed",
			slog.String("tenant_id", e.TenantID),
			slog.String("booking_id", e.BookingID),
			slog.String("error", err.Error()))
	}
}

// scheduleServiceReminders parks the service-configured reminders for the new
// booking. The delivery channel and address come from the request metadata,
// with the client phone as the address fallback; without a channel no
// reminder can reach the client and nothing is scheduled. Reminders landing
// inside quiet hours are shifted to the next allowed time. Scheduling never
// fails the creation; problems are logged.
func (o *Orchestrator) scheduleServiceReminders(ctx context.Context, svc types.ServiceConfig, in CreateInput, bookingID, phone string) int {
	if o.reminders == nil || bookingID == "" || len(svc.ReminderOffsets) == 0 {
		return 0
	}
	channel, _ := in.Metadata["channel"].(string)
	to, _ := in.Metadata["to"].(string)
	if to == "" {
		to = phone
	}
	if channel == "" || to == "" {
		return 0
	}
	now := o.clock.Now()
	scheduled := 0
	for _, d := range svc.ReminderOffsets {
		offset := time.Duration(d)
		if offset <= 0 {
			continue
		}
		runAt := in.Start.Add(-offset)
		if !runAt.After(now) {
			continue
		}
		if o.quiet.ContainsIn(runAt, in.TimeZone) {
			runAt = o.quiet.NextAllowedIn(runAt, in.TimeZone)
		}
		_, err := o.reminders.Schedule(ctx, types.ReminderEntry{
			TenantID:  in.TenantID,
			Channel:   channel,
			To:        to,
			Message:   "Reminder: your appointment is in " + offset.String(),
			TimeZone:  in.TimeZone,
			BookingID: bookingID,
			Metadata:  map[string]any{"kind": "appointment_reminder", "offset": offset.String()},
		}, runAt)
		if err != nil {
			o.logger.Error("reminder schedule failed",
				slog.String("tenant_id", in.TenantID),
				slog.String("booking_id", bookingID),
				slog.String("offset", offset.String()),
				slog.String("error", err.Error()))
			continue
		}
		scheduled++
	}
	return scheduled
}

// purgeReminders drops pending reminders for the booking, best effort.
func (o *Orchestrator) purgeReminders(ctx context.Context, tenantID, bookingID, status string) {
	if o.reminders == nil {
		return
	}
	removed, err := o.reminders.CancelForBooking(ctx, tenantID, bookingID)
	if err != nil {
		o.logger.Error("reminder purge failed",
			slog.String("tenant_id", tenantID),
			slog.String("booking_id", bookingID),
			slog.String("error", err.Error()))
		return
	}
	if removed > 0 {
		o.logger.Info("booking reminders cleared",
			slog.String("tenant_id", tenantID),
			slog.String("booking_id", bookingID),
			slog.String("status", status),
			slog.Int64("removed", removed))
	}
}

func calendarOverrides(cfg *types.TenantConfig) calendar.Overrides {
	if cfg == nil || cfg.Calendar == nil {
		return calendar.Overrides{}
	}
	return calendar.Overrides{
		APIBase:    cfg.Calendar.APIBase,
		APIKey:     cfg.Calendar.APIKey,
		APIVersion: cfg.Calendar.APIVersion,
	}
}
