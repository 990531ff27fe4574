package types

import "time"

// Clock abstracts time.Now so time-dependent logic (quiet hours, rate
// windows, reminder due checks) is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock backed by time.Now.
type RealClock struct{}

// Now returns the current wall-clock time.
func (RealClock) Now() time.Time { return time.Now() }

// ChannelConfig holds per-tenant credentials for one outbound channel.
// Which fields apply depends on the channel: telegram uses BotToken/SendURL,
// whatsapp uses Token plus either SendURL or APIBase+PhoneID, instagram and
// vkmax use Token+SendURL.
type ChannelConfig struct {
	BotToken string `json:"botToken,omitempty"`
	SendURL  string `json:"sendUrl,omitempty"`
	Token    string `json:"token,omitempty"`
	APIBase  string `json:"apiBase,omitempty"`
	PhoneID  string `json:"phoneId,omitempty"`
}

// ServiceConfig holds the per-service scheduling parameters used by the
// booking orchestrator and the slot suggestion engine. Zero values fall back
// to the platform defaults in config.Scheduling.
type ServiceConfig struct {
	EventTypeID      int    `json:"eventTypeId,omitempty"`
	EventTypeSlug    string `json:"eventTypeSlug,omitempty"`
	Username         string `json:"username,omitempty"`
	TeamSlug         string `json:"teamSlug,omitempty"`
	OrganizationSlug string `json:"organizationSlug,omitempty"`
	DurationMinutes  int    `json:"durationMinutes,omitempty"`
	BufferMinutes    int    `json:"bufferMinutes,omitempty"`
	GridMinutes      int    `json:"gridMinutes,omitempty"`
	// ReminderOffsets lists how long before the booking start each automatic
	// reminder fires. Empty means no automatic reminders.
	ReminderOffsets []Duration `json:"reminderOffsets,omitempty"`
}

// WebhookConfig holds the inbound signature secret for one channel.
type WebhookConfig struct {
	Secret string `json:"secret,omitempty"`
}

// CalendarConfig holds per-tenant overrides for the external calendar
// provider. Empty fields fall back to the platform-level settings.
type CalendarConfig struct {
	APIBase       string `json:"apiBase,omitempty"`
	APIKey        string `json:"apiKey,omitempty"`
	APIVersion    string `json:"apiVersion,omitempty"`
	WebhookSecret string `json:"webhookSecret,omitempty"`
	TeamID        string `json:"teamId,omitempty"`
}

// AccessConfig lists the tokens granting owner and staff roles on the
// tenant-admin surface.
type AccessConfig struct {
	OwnerTokens []string `json:"ownerTokens,omitempty"`
	StaffTokens []string `json:"staffTokens,omitempty"`
}

// TenantConfig is the versioned per-tenant configuration snapshot. Resolver
// cache entries are immutable: mutation happens only through the admin write
// path, which invalidates the cache.
type TenantConfig struct {
	Version  int                      `json:"version,omitempty"`
	Channels map[string]ChannelConfig `json:"channels,omitempty"`
	Services map[string]ServiceConfig `json:"services,omitempty"`
	Webhooks map[string]WebhookConfig `json:"webhooks,omitempty"`
	Calendar *CalendarConfig          `json:"calendar,omitempty"`
	Access   *AccessConfig            `json:"access,omitempty"`
	// BrandID ties the tenant to the CRM collaborator; carried opaquely.
	BrandID string `json:"brandId,omitempty"`
	// IntegrationIDs, when non-empty, restricts which inbound integrations
	// may ingest messages for this tenant.
	IntegrationIDs []string `json:"integrationIds,omitempty"`
}

// TenantConfigSchemaVersion is the current config document version. Version
// 0 documents are accepted as the pre-versioning legacy shape.
const TenantConfigSchemaVersion = 1

// Validate checks a config document at write time, before it reaches the
// source.
func (c *TenantConfig) Validate() error {
	if c.Version < 0 || c.Version > TenantConfigSchemaVersion {
		return NewAppErrorWithDetails(ErrCodeValidationTenantConfig,
			"unsupported config version", nil,
			map[string]any{"version": c.Version, "supported": TenantConfigSchemaVersion})
	}
	for id, svc := range c.Services {
		if svc.DurationMinutes < 0 || svc.BufferMinutes < 0 || svc.GridMinutes < 0 {
			return NewAppErrorWithDetails(ErrCodeValidationTenantConfig,
				"service durations must not be negative", nil,
				map[string]any{"serviceId": id})
		}
	}
	return nil
}

// Service returns the named service config and whether it exists.
func (c *TenantConfig) Service(id string) (ServiceConfig, bool) {
	if c == nil || c.Services == nil {
		return ServiceConfig{}, false
	}
	svc, ok := c.Services[id]
	return svc, ok
}

// Channel returns the named channel config; the zero value if absent.
func (c *TenantConfig) Channel(name string) ChannelConfig {
	if c == nil || c.Channels == nil {
		return ChannelConfig{}
	}
	return c.Channels[name]
}

// WebhookSecret returns the inbound secret configured for the channel, or "".
func (c *TenantConfig) WebhookSecret(channel string) string {
	if c == nil {
		return ""
	}
	if channel == "calendar" && c.Calendar != nil {
		return c.Calendar.WebhookSecret
	}
	if c.Webhooks == nil {
		return ""
	}
	return c.Webhooks[channel].Secret
}

// Duration wraps time.Duration with JSON encoding as a Go duration string
// ("24h", "90m"), the format used in tenant config documents.
type Duration time.Duration

// MarshalJSON encodes the duration as its string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON accepts a Go duration string.
func (d *Duration) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// BookingStatus enumerates the booking mapping state machine:
// created -> rescheduled (repeatable) -> cancelled (terminal).
type BookingStatus string

const (
	BookingCreated     BookingStatus = "created"
	BookingRescheduled BookingStatus = "rescheduled"
	BookingCancelled   BookingStatus = "cancelled"
	BookingNoShow      BookingStatus = "no_show"
)

// BookingMapping records the link between a tenant booking and the external
// calendar provider's booking id, plus the last known status.
type BookingMapping struct {
	TenantID          string         `json:"tenantId"`
	ExternalBookingID string         `json:"externalBookingId"`
	Status            BookingStatus  `json:"status"`
	StartAt           time.Time      `json:"startAt,omitzero"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// BookingEvent is a single append-only audit trail entry for a booking
// transition.
type BookingEvent struct {
	TenantID  string         `json:"tenantId"`
	BookingID string         `json:"bookingId"`
	EventType string         `json:"eventType"`
	Source    string         `json:"source"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"createdAt,omitzero"`
}

// ReminderEntry is a delayed message parked in the time-ordered reminder
// structure. When BookingID is set the entry is additionally indexed per
// booking so it can be purged as a unit on cancellation or reschedule.
type ReminderEntry struct {
	TenantID    string         `json:"tenantId"`
	Channel     string         `json:"channel"`
	To          string         `json:"to"`
	Message     string         `json:"message"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	TimeZone    string         `json:"timeZone,omitempty"`
	BookingID   string         `json:"bookingId,omitempty"`
	TargetQueue string         `json:"targetQueue,omitempty"`
}

// Slot is one ranked suggestion produced by the slot engine. Ephemeral:
// computed per request, never persisted.
type Slot struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Score  float64   `json:"score"`
	Reason string    `json:"reason"`
}

// RateLimitResult reports the outcome of a fixed-window consume call.
type RateLimitResult struct {
	Allowed        bool `json:"allowed"`
	Remaining      int  `json:"remaining"`
	ResetInSeconds int  `json:"resetInSeconds"`
}

// DeliveryResult is the normalized outcome of a channel send.
type DeliveryResult struct {
	ProviderMessageID string `json:"providerMessageId,omitempty"`
	Mocked            bool   `json:"mocked,omitempty"`
}

// JobLogStatus enumerates the persisted job transitions.
type JobLogStatus string

const (
	JobLogQueued    JobLogStatus = "queued"
	JobLogProcessed JobLogStatus = "processed"
	JobLogFailed    JobLogStatus = "failed"
	JobLogDead      JobLogStatus = "dead"
)

// JobLogEntry is one row of the operational job trail feeding metrics and
// KPI aggregation.
type JobLogEntry struct {
	JobID    string       `json:"jobId"`
	TenantID string       `json:"tenantId"`
	Queue    string       `json:"queue"`
	Status   JobLogStatus `json:"status"`
	Error    string       `json:"error,omitempty"`
	Attempts int          `json:"attempts"`
}
