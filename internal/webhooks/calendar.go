package webhooks

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"saloncore/internal/types"
)

// CalendarRequest is one delivery from the calendar provider's webhook.
type CalendarRequest struct {
	TenantID  string
	RawBody   []byte
	Signature string
	Body      map[string]any
}

// MappingLookup recovers the stored mapping for a booking so reminders can
// be re-targeted at the channel that created it. Optional.
type MappingLookup interface {
	GetMapping(ctx context.Context, tenantID, bookingID string) (*types.BookingMapping, error)
}

// terminalStatuses end a booking's lifecycle; any pending reminders for it
// must be purged.
var terminalStatuses = map[string]bool{
	"cancelled": true,
	"canceled":  true,
	"rejected":  true,
	"no_show":   true,
	"noshow":    true,
}

var activeStatuses = map[string]bool{
	"created":   true,
	"confirmed": true,
	"accepted":  true,
	"scheduled": true,
}

// HandleCalendar processes a calendar provider webhook. Deliveries with
// missing or unrecognized payloads are acknowledged without side effects so
// the provider does not retry them forever.
func (g *Ingestor) HandleCalendar(ctx context.Context, in CalendarRequest) (*InboundResult, error) {
	cfg, ok := g.resolver.Resolve(ctx, in.TenantID)
	if !ok && g.security.StrictTenantConfig {
		return nil, types.NewAppError(types.ErrCodeAuthUnknownTenant, "unknown tenant", nil)
	}

	secret := g.resolveSecret(cfg, "calendar")
	if secret == "" && g.security.StrictWebhookSignature {
		return nil, types.NewAppError(types.ErrCodeAuthSecretUnresolved, "missing calendar webhook secret", nil)
	}
	if secret != "" && !VerifySignature(secret, in.RawBody, in.Signature) {
		return nil, types.NewAppError(types.ErrCodeAuthBadSignature, "invalid webhook signature", nil)
	}

	g.syncTenantRows(ctx, in.TenantID, cfg, in.Body)

	payload := dig(in.Body, "payload")
	if len(payload) == 0 {
		payload = in.Body
	}
	bookingID := firstNonEmpty(str(payload["uid"]), str(payload["bookingUid"]), str(payload["bookingId"]))
	status := normalizeTrigger(firstNonEmpty(str(in.Body["triggerEvent"]), str(payload["status"])))
	if bookingID == "" || status == "" {
		g.logger.Warn("calendar webhook without booking reference",
			slog.String("tenant_id", in.TenantID),
			slog.String("status", status))
		return &InboundResult{OK: true}, nil
	}

	start, timeZone := calendarStart(payload)

	switch {
	case terminalStatuses[status]:
		removed := g.purge(ctx, in.TenantID, bookingID)
		g.record(ctx, in.TenantID, bookingID, terminalBookingStatus(status), time.Time{}, status, payload)
		return &InboundResult{OK: true, BookingID: bookingID, RemindersRemoved: removed}, nil

	case status == "rescheduled":
		removed := g.purge(ctx, in.TenantID, bookingID)
		g.record(ctx, in.TenantID, bookingID, types.BookingRescheduled, start, status, payload)
		scheduled := 0
		if !start.IsZero() {
			scheduled = g.scheduleBookingReminders(ctx, g.calendarReminderPlan(ctx, in.TenantID, bookingID, start, timeZone, payload))
		}
		return &InboundResult{OK: true, BookingID: bookingID, RemindersRemoved: removed, RemindersScheduled: scheduled}, nil

	case activeStatuses[status]:
		g.record(ctx, in.TenantID, bookingID, types.BookingCreated, start, status, payload)
		scheduled := 0
		if !start.IsZero() {
			scheduled = g.scheduleBookingReminders(ctx, g.calendarReminderPlan(ctx, in.TenantID, bookingID, start, timeZone, payload))
		}
		return &InboundResult{OK: true, BookingID: bookingID, RemindersScheduled: scheduled}, nil

	default:
		g.logger.Info("calendar webhook ignored",
			slog.String("tenant_id", in.TenantID),
			slog.String("booking_id", bookingID),
			slog.String("status", status))
		return &InboundResult{OK: true, BookingID: bookingID}, nil
	}
}

func (g *Ingestor) purge(ctx context.Context, tenantID, bookingID string) int64 {
	removed, err := g.scheduler.CancelForBooking(ctx, tenantID, bookingID)
	if err != nil {
		g.logger.Error("reminder purge failed",
			slog.String("tenant_id", tenantID),
			slog.String("booking_id", bookingID),
			slog.String("error", err.Error()))
		return 0
	}
	if removed > 0 {
		g.logger.Info("booking reminders cleared",
			slog.String("tenant_id", tenantID),
			slog.String("booking_id", bookingID),
			slog.Int64("removed", removed))
	}
	return removed
}

func (g *Ingestor) record(ctx context.Context, tenantID, bookingID string, status types.BookingStatus, start time.Time, trigger string, payload map[string]any) {
	if g.mappings == nil {
		return
	}
	g.persist(ctx, types.BookingMapping{
		TenantID:          tenantID,
		ExternalBookingID: bookingID,
		Status:            status,
		StartAt:           start,
	}, types.BookingEvent{
		TenantID:  tenantID,
		BookingID: bookingID,
		EventType: "calendar_" + trigger,
		Source:    "webhook:calendar",
		Payload:   map[string]any{"trigger": trigger, "attendeeEmail": calendarAttendeeEmail(payload)},
	})
}

type reminderPlanInput struct {
	tenantID  string
	bookingID string
	start     time.Time
	timeZone  string
	channel   string
	to        string
	overrides map[string]any
	// dedupe guards each offset with an idempotency key so a replayed
	// provider webhook does not double-schedule.
	dedupe bool
}

// calendarReminderPlan recovers the delivery channel for a calendar-driven
// reminder from the stored mapping metadata, then the webhook payload.
func (g *Ingestor) calendarReminderPlan(ctx context.Context, tenantID, bookingID string, start time.Time, timeZone string, payload map[string]any) reminderPlanInput {
	plan := reminderPlanInput{
		tenantID:  tenantID,
		bookingID: bookingID,
		start:     start,
		timeZone:  timeZone,
		channel:   str(dig(payload, "metadata")["channel"]),
		to:        str(dig(payload, "metadata")["to"]),
		dedupe:    true,
	}
	if lookup, ok := g.mappings.(MappingLookup); ok && (plan.channel == "" || plan.to == "") {
		if m, err := lookup.GetMapping(ctx, tenantID, bookingID); err == nil && m != nil {
			if plan.channel == "" {
				plan.channel = str(m.Metadata["channel"])
			}
			if plan.to == "" {
				plan.to = str(m.Metadata["to"])
			}
		}
	}
	return plan
}

// reminderOffsets are the standard appointment reminders: a day before and
// an hour before.
var reminderOffsets = []struct {
	label   string
	offset  time.Duration
	flag    string
	msgKey  string
	message string
}{
	{"24h", 24 * time.Hour, "enable24h", "message24h", "Reminder: your appointment is in 24 hours"},
	{"1h", time.Hour, "enable1h", "message1h", "Reminder: your appointment is in 1 hour"},
}

// scheduleBookingReminders schedules the standard reminders for a booking,
// shifting any that land inside quiet hours to the next allowed time. It
// never fails the caller; scheduling problems are logged.
func (g *Ingestor) scheduleBookingReminders(ctx context.Context, plan reminderPlanInput) int {
	if plan.channel == "" || plan.to == "" {
		return 0
	}
	now := g.clock.Now()
	scheduled := 0
	for _, r := range reminderOffsets {
		if enabled, ok := plan.overrides[r.flag].(bool); ok && !enabled {
			continue
		}
		runAt := plan.start.Add(-r.offset)
		if !runAt.After(now) {
			continue
		}
		if plan.dedupe {
			key := "idemp:rem:" + plan.tenantID + ":" + plan.bookingID + ":" +
				strconv.FormatInt(plan.start.UnixMilli(), 10) + ":" + r.label
			won, err := g.guard.Reserve(ctx, key, "1", reminderDedupeTTL)
			if err != nil || !won {
				continue
			}
		}
		if g.quiet.ContainsIn(runAt, plan.timeZone) {
			runAt = g.quiet.NextAllowedIn(runAt, plan.timeZone)
		}
		message := firstNonEmpty(str(plan.overrides[r.msgKey]), r.message)
		_, err := g.scheduler.Schedule(ctx, types.ReminderEntry{
			TenantID:  plan.tenantID,
			Channel:   plan.channel,
			To:        plan.to,
			Message:   message,
			TimeZone:  plan.timeZone,
			BookingID: plan.bookingID,
			Metadata:  map[string]any{"kind": "appointment_reminder", "offset": r.label},
		}, runAt)
		if err != nil {
			g.logger.Error("reminder schedule failed",
				slog.String("tenant_id", plan.tenantID),
				slog.String("booking_id", plan.bookingID),
				slog.String("offset", r.label),
				slog.String("error", err.Error()))
			continue
		}
		scheduled++
	}
	return scheduled
}

func normalizeTrigger(trigger string) string {
	s := strings.ToLower(strings.TrimSpace(trigger))
	s = strings.TrimPrefix(s, "booking_")
	s = strings.TrimSuffix(s, "_updated")
	return s
}

func terminalBookingStatus(status string) types.BookingStatus {
	if status == "no_show" || status == "noshow" {
		return types.BookingNoShow
	}
	return types.BookingCancelled
}

func calendarStart(payload map[string]any) (time.Time, string) {
	raw := firstNonEmpty(str(payload["startTime"]), str(payload["start"]))
	tz := str(payload["organizerTimeZone"])
	if attendees, ok := payload["attendees"].([]any); ok && len(attendees) > 0 {
		if a, ok := attendees[0].(map[string]any); ok {
			tz = firstNonEmpty(str(a["timeZone"]), tz)
		}
	}
	if raw == "" {
		return time.Time{}, tz
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, tz
	}
	return t, tz
}

func calendarAttendeeEmail(payload map[string]any) string {
	if attendees, ok := payload["attendees"].([]any); ok && len(attendees) > 0 {
		if a, ok := attendees[0].(map[string]any); ok {
			return str(a["email"])
		}
	}
	return ""
}
