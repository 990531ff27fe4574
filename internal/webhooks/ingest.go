package webhooks

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"saloncore/internal/calendar"
	"saloncore/internal/config"
	"saloncore/internal/idempotency"
	"saloncore/internal/quiethours"
	"saloncore/internal/ratelimit"
	"saloncore/internal/tenant"
	"saloncore/internal/types"
)

// inboundTenantLimit is the per-tenant flood ceiling on webhook ingestion.
// It guards against a runaway integration, not against normal traffic, so it
// sits far above the outbound queue limits.
const (
	inboundTenantLimit  = 1_000_000
	inboundTenantWindow = 24 * time.Hour

	messageDedupeTTL  = 3 * 24 * time.Hour
	reminderDedupeTTL = 14 * 24 * time.Hour
)

// InboundRequest is one verified-pending webhook delivery.
type InboundRequest struct {
	TenantID  string
	Channel   string
	RawBody   []byte
	Signature string
	// IntegrationID is the inbound integration identifier, from the body or
	// the X-Integration-Id header.
	IntegrationID string
	Body          map[string]any
}

// InboundResult reports what the ingest flow did with a delivery.
type InboundResult struct {
	OK                 bool   `json:"ok"`
	MessageID          string `json:"messageId,omitempty"`
	BookingID          string `json:"bookingId,omitempty"`
	RemindersScheduled int    `json:"remindersScheduled,omitempty"`
	RemindersRemoved   int64  `json:"remindersRemoved,omitempty"`
}

// KeyReserver claims idempotency keys. Implemented by idempotency.Guard.
type KeyReserver interface {
	Reserve(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// RateAllower answers fixed-window rate checks. Implemented by
// ratelimit.Limiter.
type RateAllower interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (types.RateLimitResult, error)
}

// ReminderScheduler is the scheduling surface ingest needs. Implemented by
// reminders.Scheduler.
type ReminderScheduler interface {
	Schedule(ctx context.Context, r types.ReminderEntry, runAt time.Time) (string, error)
	CancelForBooking(ctx context.Context, tenantID, bookingID string) (int64, error)
}

// MappingStore persists booking mappings and audit events; nil disables it.
type MappingStore interface {
	UpsertMapping(ctx context.Context, m types.BookingMapping) error
	InsertEvent(ctx context.Context, e types.BookingEvent) error
}

// TenantStore keeps tenant rows and provider mappings current; nil disables.
type TenantStore interface {
	EnsureTenant(ctx context.Context, tenantID string) error
	UpsertMapping(ctx context.Context, tenantID, brandID, calendarTeamID string) error
}

// ClientStore records inbound senders as clients best-effort; nil disables.
type ClientStore interface {
	UpsertClient(ctx context.Context, tenantID, phone, email, firstName, lastName string, metadata map[string]any) error
}

// Ingestor runs the inbound webhook flow: tenant resolution, normalization,
// signature verification, flood limiting, dedupe, and the booking and
// reminder side effects.
type Ingestor struct {
	resolver  *tenant.Resolver
	guard     KeyReserver
	limiter   RateAllower
	scheduler ReminderScheduler
	provider  calendar.Provider
	mappings  MappingStore
	tenants   TenantStore
	clients   ClientStore
	security  config.SecurityConfig
	contacts  config.ContactsConfig
	quiet     quiethours.Window
	clock     types.Clock
	logger    *slog.Logger
}

// IngestorOptions wires an Ingestor. Store fields may be nil when no
// database is configured.
type IngestorOptions struct {
	Resolver  *tenant.Resolver
	Guard     KeyReserver
	Limiter   RateAllower
	Scheduler ReminderScheduler
	Provider  calendar.Provider
	Mappings  MappingStore
	Tenants   TenantStore
	Clients   ClientStore
	Security  config.SecurityConfig
	Contacts  config.ContactsConfig
	Quiet     quiethours.Window
	Clock     types.Clock
	Logger    *slog.Logger
}

// NewIngestor creates an Ingestor.
func NewIngestor(opts IngestorOptions) *Ingestor {
	clock := opts.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Ingestor{
		resolver:  opts.Resolver,
		guard:     opts.Guard,
		limiter:   opts.Limiter,
		scheduler: opts.Scheduler,
		provider:  opts.Provider,
		mappings:  opts.Mappings,
		tenants:   opts.Tenants,
		clients:   opts.Clients,
		security:  opts.Security,
		contacts:  opts.Contacts,
		quiet:     opts.Quiet,
		clock:     clock,
		logger:    opts.Logger,
	}
}

// HandleInbound processes one channel webhook delivery. Signature and schema
// failures reject before any business logic runs.
func (g *Ingestor) HandleInbound(ctx context.Context, in InboundRequest) (*InboundResult, error) {
	cfg, ok := g.resolver.Resolve(ctx, in.TenantID)
	if !ok && g.security.StrictTenantConfig {
		return nil, types.NewAppError(types.ErrCodeAuthUnknownTenant, "unknown tenant", nil)
	}

	normalized := Normalize(in.Channel, in.Body)
	if g.security.StrictInboundSchema && !normalized.Valid {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInbound,
			"invalid inbound payload",
			nil,
			map[string]any{"errors": normalized.Errors},
		)
	}
	body := normalized.Body

	secret := g.resolveSecret(cfg, in.Channel)
	if secret == "" && g.security.StrictWebhookSignature {
		return nil, types.NewAppError(types.ErrCodeAuthSecretUnresolved, "missing webhook secret for tenant", nil)
	}
	if secret != "" && !VerifySignature(secret, in.RawBody, in.Signature) {
		return nil, types.NewAppError(types.ErrCodeAuthBadSignature, "invalid webhook signature", nil)
	}

	g.syncTenantRows(ctx, in.TenantID, cfg, body)

	message := firstNonEmpty(normalized.Message(), str(body["text"]), str(body["content"]))
	messageID := firstNonEmpty(normalized.MessageID(), str(body["id"]), str(body["mid"]))

	if message != "" {
		integrationID := firstNonEmpty(str(body["integrationId"]), in.IntegrationID)
		if integrationID == "" {
			return nil, types.NewAppError(types.ErrCodeValidationMissingField, "integrationId is required for message ingestion", nil)
		}
		if cfg != nil && len(cfg.IntegrationIDs) > 0 && !contains(cfg.IntegrationIDs, integrationID) {
			return nil, types.NewAppError(types.ErrCodePermissionIntegration, "integrationId not allowed for tenant", nil)
		}
	}

	rate, err := g.limiter.Allow(ctx, ratelimit.TenantKey("inbound", in.TenantID), inboundTenantLimit, inboundTenantWindow)
	if err != nil {
		return nil, err
	}
	if !rate.Allowed {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeRateLimit, "rate limit exceeded", nil,
			map[string]any{"resetInSeconds": rate.ResetInSeconds})
	}

	contact := ExtractContact(body, in.Channel, g.contacts.SyntheticDomain, g.contacts.AllowSynthetic)
	if !contact.HasReach() {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "missing contact info", nil)
	}

	if booking := dig(body, "booking"); len(booking) > 0 {
		return g.handleInboundBooking(ctx, in, cfg, body, booking, contact, messageID)
	}

	if messageID != "" {
		won, err := g.guard.Reserve(ctx, "idemp:msg:"+in.TenantID+":"+messageID, "1", messageDedupeTTL)
		if err != nil {
			return nil, err
		}
		if !won {
			return nil, types.NewAppError(types.ErrCodeConflictDuplicate, "duplicate message", nil)
		}
	}

	g.upsertClient(ctx, in.TenantID, in.Channel, contact)

	g.logger.Info("inbound message received",
		slog.String("tenant_id", in.TenantID),
		slog.String("channel", in.Channel),
		slog.String("message_id", messageID))

	return &InboundResult{OK: true, MessageID: messageID}, nil
}

// handleInboundBooking runs the booking block carried inside an inbound
// message: idempotency, provider call, mapping, and reminders.
func (g *Ingestor) handleInboundBooking(
	ctx context.Context,
	in InboundRequest,
	cfg *types.TenantConfig,
	body, booking map[string]any,
	contact Contact,
	messageID string,
) (*InboundResult, error) {
	idemKey := firstNonEmpty(str(booking["idempotencyKey"]), str(body["idempotencyKey"]), messageID)
	if idemKey == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "booking.idempotencyKey or messageId is required", nil)
	}
	won, err := g.guard.Reserve(ctx, idempotency.BookingKey(in.TenantID, idemKey), "1", idempotency.DefaultTTL)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, types.NewAppError(types.ErrCodeConflictDuplicate, "duplicate booking request", nil)
	}

	name := firstNonEmpty(
		str(booking["name"]),
		strings.TrimSpace(contact.FirstName+" "+contact.LastName),
		str(body["name"]),
		str(dig(booking, "attendee")["name"]),
	)
	email := firstNonEmpty(contact.Email, str(dig(booking, "attendee")["email"]))
	timeZone := firstNonEmpty(str(booking["timeZone"]), str(dig(booking, "attendee")["timeZone"]), str(body["timeZone"]))
	startRaw := str(booking["start"])

	eventTypeID := intOf(booking["eventTypeId"])
	eventTypeSlug := str(booking["eventTypeSlug"])
	username := str(booking["username"])
	teamSlug := str(booking["teamSlug"])
	if eventTypeID == 0 && (eventTypeSlug == "" || (username == "" && teamSlug == "")) {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField,
			"booking requires eventTypeId or eventTypeSlug plus username/teamSlug", nil)
	}
	if startRaw == "" || timeZone == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "booking requires start and timeZone", nil)
	}
	if name == "" || email == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "booking attendee must include name and email", nil)
	}
	start, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidTime, "booking.start must be an ISO date-time", err)
	}

	res, err := g.provider.CreateBooking(ctx, calendar.BookingRequest{
		EventTypeID:      eventTypeID,
		EventTypeSlug:    eventTypeSlug,
		Username:         username,
		TeamSlug:         teamSlug,
		OrganizationSlug: str(booking["organizationSlug"]),
		Start:            start.UTC().Format(time.RFC3339),
		Attendee: calendar.Attendee{
			Name:        name,
			Email:       email,
			TimeZone:    timeZone,
			PhoneNumber: contact.Phone,
		},
	}, tenantCalendarOverrides(cfg))
	if err != nil {
		return nil, err
	}

	if res.UID != "" && g.mappings != nil {
		g.persist(ctx, types.BookingMapping{
			TenantID:          in.TenantID,
			ExternalBookingID: res.UID,
			Status:            types.BookingCreated,
			StartAt:           start,
			Metadata:          map[string]any{"eventTypeId": eventTypeID, "channel": in.Channel},
		}, types.BookingEvent{
			TenantID:  in.TenantID,
			BookingID: res.UID,
			EventType: "booking_created",
			Source:    "inbound:webhook",
			Payload:   map[string]any{"channel": in.Channel, "start": startRaw},
		})
	}

	g.upsertClient(ctx, in.TenantID, in.Channel, contact)

	scheduled := g.scheduleBookingReminders(ctx, reminderPlanInput{
		tenantID:  in.TenantID,
		bookingID: firstNonEmpty(res.UID, idemKey),
		start:     start,
		timeZone:  timeZone,
		channel:   firstNonEmpty(str(booking["channel"]), str(body["channel"]), in.Channel),
		to:        firstNonEmpty(str(booking["to"]), str(body["to"]), contact.SenderID),
		overrides: dig(booking, "reminders"),
		dedupe:    false,
	})

	g.logger.Info("inbound booking created",
		slog.String("tenant_id", in.TenantID),
		slog.String("channel", in.Channel),
		slog.String("booking_id", res.UID),
		slog.Int("reminders_scheduled", scheduled))

	return &InboundResult{OK: true, BookingID: res.UID, RemindersScheduled: scheduled}, nil
}

// resolveSecret returns the tenant's webhook secret for the channel, falling
// back to the platform-level secret.
func (g *Ingestor) resolveSecret(cfg *types.TenantConfig, channel string) string {
	if s := cfg.WebhookSecret(channel); s != "" {
		return s
	}
	return g.security.GlobalWebhookSecret(channel)
}

// syncTenantRows keeps the tenant row and provider mapping current,
// best effort.
func (g *Ingestor) syncTenantRows(ctx context.Context, tenantID string, cfg *types.TenantConfig, body map[string]any) {
	if g.tenants == nil {
		return
	}
	if err := g.tenants.EnsureTenant(ctx, tenantID); err != nil {
		g.logger.Warn("tenant ensure failed", slog.String("tenant_id", tenantID), slog.String("error", err.Error()))
		return
	}
	brandID := str(body["brandId"])
	var teamID string
	if cfg != nil {
		if cfg.BrandID != "" {
			brandID = cfg.BrandID
		}
		if cfg.Calendar != nil {
			teamID = cfg.Calendar.TeamID
		}
	}
	if err := g.tenants.UpsertMapping(ctx, tenantID, brandID, teamID); err != nil {
		g.logger.Warn("tenant mapping upsert failed", slog.String("tenant_id", tenantID), slog.String("error", err.Error()))
	}
}

func (g *Ingestor) upsertClient(ctx context.Context, tenantID, channel string, contact Contact) {
	if g.clients == nil || !contact.HasReach() {
		return
	}
	err := g.clients.UpsertClient(ctx, tenantID, contact.Phone, contact.Email, contact.FirstName, contact.LastName,
		map[string]any{"channel": channel, "senderId": contact.SenderID})
	if err != nil {
		g.logger.Warn("client upsert failed",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()))
	}
}

func (g *Ingestor) persist(ctx context.Context, m types.BookingMapping, e types.BookingEvent) {
	if err := g.mappings.UpsertMapping(ctx, m); err != nil {
		g.logger.Error("booking mapping upsert failed",
			slog.String("booking_id", m.ExternalBookingID),
			slog.String("error", err.Error()))
	}
	if err := g.mappings.InsertEvent(ctx, e); err != nil {
		g.logger.Error("booking event insert failed",
			slog.String("booking_id", e.BookingID),
			slog.String("error", err.Error()))
	}
}

func tenantCalendarOverrides(cfg *types.TenantConfig) calendar.Overrides {
	if cfg == nil || cfg.Calendar == nil {
		return calendar.Overrides{}
	}
	return calendar.Overrides{
		APIBase:    cfg.Calendar.APIBase,
		APIKey:     cfg.Calendar.APIKey,
		APIVersion: cfg.Calendar.APIVersion,
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func intOf(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case string:
		n, _ := strconv.Atoi(t)
		return n
	default:
		return 0
	}
}
