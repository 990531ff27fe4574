// Package config defines the global configuration structure for salon-core.
// Configuration is loaded once at process initialization and is immutable
// thereafter. It follows 12-Factor App principles by strictly separating
// code from configuration.
//
// Any missing required value or invalid format causes the process to exit
// immediately on startup (fail fast). Components receive only the specific
// config subsets they require.
package config

import (
	"time"

	"saloncore/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for salon-core. It is
// populated once during process initialization and never modified.
type Config struct {
	// System metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"salon-core"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain configurations
	Server     ServerConfig
	Redis      RedisConfig
	Database   DatabaseConfig
	Queue      QueueConfig
	Workers    WorkersConfig
	RateLimits RateLimitConfig
	QuietHours QuietHoursConfig
	Scheduling SchedulingConfig
	Calendar   CalendarConfig
	Channels   ChannelsConfig
	Tenants    TenantSourceConfig
	Security   SecurityConfig
	Contacts   ContactsConfig
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"10s"`
}

// RedisConfig holds the connection settings for the shared durable store
// (job streams, idempotency keys, rate counters, reminder sets).
type RedisConfig struct {
	Addr     string       `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password SecretString `envconfig:"REDIS_PASSWORD"`
	DB       int          `envconfig:"REDIS_DB" default:"0"`
}

// DatabaseConfig holds PostgreSQL connection and pool tuning parameters.
// The URL may be empty: tenant config then falls back to the file source and
// job-log / booking persistence is disabled.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout  time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
}

// QueueConfig holds consumer-group identity and delivery timing for the
// durable job queue.
type QueueConfig struct {
	Group      string        `envconfig:"QUEUE_GROUP" default:"salon-core"`
	Consumer   string        `envconfig:"QUEUE_CONSUMER"` // defaults to hostname-pid at runtime
	BlockTime  time.Duration `envconfig:"QUEUE_BLOCK_TIME" default:"5s"`
	AckTimeout time.Duration `envconfig:"QUEUE_ACK_TIMEOUT" default:"60s" validate:"min=1s"`
	ClaimCount int           `envconfig:"QUEUE_CLAIM_COUNT" default:"1" validate:"min=1"`
}

// WorkerRetryConfig is the retry/backoff/dead-letter policy for one worker.
type WorkerRetryConfig struct {
	MaxAttempts int           `validate:"min=1"`
	BaseBackoff time.Duration `validate:"min=1ms"`
	MaxBackoff  time.Duration `validate:"min=1ms"`
}

// WorkersConfig holds per-worker retry policies and pacing.
type WorkersConfig struct {
	TxMaxAttempts   int           `envconfig:"TX_MAX_ATTEMPTS" default:"3"`
	TxBaseBackoff   time.Duration `envconfig:"TX_RETRY_BACKOFF" default:"2s"`
	TxMaxBackoff    time.Duration `envconfig:"TX_RETRY_BACKOFF_CAP" default:"30s"`
	MkMaxAttempts   int           `envconfig:"MK_MAX_ATTEMPTS" default:"3"`
	MkBaseBackoff   time.Duration `envconfig:"MK_RETRY_BACKOFF" default:"2s"`
	MkMaxBackoff    time.Duration `envconfig:"MK_RETRY_BACKOFF_CAP" default:"30s"`
	MkThrottle      time.Duration `envconfig:"MK_THROTTLE" default:"200ms"`
	SendMaxAttempts int           `envconfig:"SEND_MAX_ATTEMPTS" default:"5"`
	SendBaseBackoff time.Duration `envconfig:"SEND_RETRY_BACKOFF" default:"5s"`
	SendMaxBackoff  time.Duration `envconfig:"SEND_RETRY_BACKOFF_CAP" default:"60s"`
	ReminderPoll    time.Duration `envconfig:"REMINDER_POLL" default:"1s"`
}

// Tx returns the transactional worker's retry policy.
func (w WorkersConfig) Tx() WorkerRetryConfig {
	return WorkerRetryConfig{MaxAttempts: w.TxMaxAttempts, BaseBackoff: w.TxBaseBackoff, MaxBackoff: w.TxMaxBackoff}
}

// Mk returns the marketing worker's retry policy.
func (w WorkersConfig) Mk() WorkerRetryConfig {
	return WorkerRetryConfig{MaxAttempts: w.MkMaxAttempts, BaseBackoff: w.MkBaseBackoff, MaxBackoff: w.MkMaxBackoff}
}

// Send returns the sender worker's retry policy.
func (w WorkersConfig) Send() WorkerRetryConfig {
	return WorkerRetryConfig{MaxAttempts: w.SendMaxAttempts, BaseBackoff: w.SendBaseBackoff, MaxBackoff: w.SendMaxBackoff}
}

// RateLimitConfig holds the fixed-window limits applied at enqueue and send
// time. Channel RPS limits shape outbound delivery against provider quotas;
// the mk client limit is a per-recipient frequency cap for campaigns.
type RateLimitConfig struct {
	TxTenantLimit       int           `envconfig:"TX_TENANT_LIMIT" default:"3000"`
	TxTenantWindow      time.Duration `envconfig:"TX_TENANT_WINDOW" default:"24h"`
	MkTenantLimit       int           `envconfig:"MK_TENANT_LIMIT" default:"1500"`
	MkTenantWindow      time.Duration `envconfig:"MK_TENANT_WINDOW" default:"24h"`
	MkClientLimit       int           `envconfig:"MK_CLIENT_LIMIT" default:"1"`
	MkClientWindow      time.Duration `envconfig:"MK_CLIENT_WINDOW" default:"72h"`
	MkRespectQuietHours bool          `envconfig:"MK_RESPECT_QUIET_HOURS" default:"true"`
	ChannelRPSTelegram  int           `envconfig:"CHANNEL_RPS_TELEGRAM" default:"20"`
	ChannelRPSWhatsapp  int           `envconfig:"CHANNEL_RPS_WHATSAPP" default:"10"`
	ChannelRPSInstagram int           `envconfig:"CHANNEL_RPS_INSTAGRAM" default:"10"`
	ChannelRPSVkmax     int           `envconfig:"CHANNEL_RPS_VKMAX" default:"20"`
}

// ChannelRPS returns the per-second send limit for the channel, 0 meaning
// unlimited.
func (r RateLimitConfig) ChannelRPS(channel string) int {
	switch channel {
	case "telegram":
		return r.ChannelRPSTelegram
	case "whatsapp":
		return r.ChannelRPSWhatsapp
	case "instagram":
		return r.ChannelRPSInstagram
	case "vkmax":
		return r.ChannelRPSVkmax
	default:
		return 0
	}
}

// QuietHoursConfig defines the local-hour do-not-disturb window for marketing
// traffic. Start > End means the window wraps midnight.
type QuietHoursConfig struct {
	Start int `envconfig:"QUIET_HOURS_START" default:"22" validate:"min=0,max=23"`
	End   int `envconfig:"QUIET_HOURS_END" default:"9" validate:"min=0,max=23"`
}

// SchedulingConfig holds platform defaults for grid alignment, slot scoring
// and suggestion horizons. Per-service tenant config overrides these.
type SchedulingConfig struct {
	SlotGridMinutes        int `envconfig:"SLOT_GRID_MINUTES" default:"15" validate:"min=1"`
	SlotBufferMinutes      int `envconfig:"SLOT_BUFFER_MINUTES" default:"0" validate:"min=0"`
	DefaultDurationMinutes int `envconfig:"SLOT_DEFAULT_DURATION_MINUTES" default:"60" validate:"min=1"`
	OffpeakMorningEndHour  int `envconfig:"OFFPEAK_MORNING_END_HOUR" default:"11" validate:"min=0,max=23"`
	OffpeakEveningStart    int `envconfig:"OFFPEAK_EVENING_START_HOUR" default:"19" validate:"min=0,max=23"`
	SuggestHorizonDays     int `envconfig:"SLOT_SUGGEST_HORIZON_DAYS" default:"3" validate:"min=1"`
	SuggestLimit           int `envconfig:"SLOT_SUGGEST_LIMIT" default:"10" validate:"min=1"`
}

// CalendarConfig holds the platform-level external calendar provider
// settings. Tenants may override base, key, and version per tenant.
type CalendarConfig struct {
	APIBase    string        `envconfig:"CALENDAR_API_BASE"`
	APIKey     SecretString  `envconfig:"CALENDAR_API_KEY"`
	APIVersion string        `envconfig:"CALENDAR_API_VERSION"`
	Timeout    time.Duration `envconfig:"CALENDAR_TIMEOUT" default:"15s"`
	Mock       bool          `envconfig:"MOCK_CALENDAR" default:"false"`
}

// ChannelsConfig holds platform-level fallback credentials per outbound
// channel, used when a tenant has no channel config of its own.
type ChannelsConfig struct {
	TelegramBotToken SecretString `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramSendURL  string       `envconfig:"TELEGRAM_SEND_URL"`
	WhatsappAPIBase  string       `envconfig:"WHATSAPP_API_BASE"`
	WhatsappToken    SecretString `envconfig:"WHATSAPP_TOKEN"`
	WhatsappPhoneID  string       `envconfig:"WHATSAPP_PHONE_ID"`
	WhatsappSendURL  string       `envconfig:"WHATSAPP_SEND_URL"`
	InstagramSendURL string       `envconfig:"INSTAGRAM_SEND_URL"`
	InstagramToken   SecretString `envconfig:"INSTAGRAM_TOKEN"`
	VkmaxSendURL     string       `envconfig:"VKMAX_SEND_URL"`
	VkmaxToken       SecretString `envconfig:"VKMAX_TOKEN"`
	MockSenders      bool         `envconfig:"MOCK_SENDERS" default:"false"`
}

// TenantSourceConfig selects where tenant configuration is loaded from and
// how stale the resolver cache may grow.
type TenantSourceConfig struct {
	// Source is "file", "db", or "auto" (db when DATABASE_URL is set,
	// otherwise file).
	Source         string        `envconfig:"TENANT_CONFIG_SOURCE" default:"auto" validate:"oneof=file db auto"`
	FilePath       string        `envconfig:"TENANT_CONFIG_PATH"`
	ReloadInterval time.Duration `envconfig:"TENANT_CONFIG_RELOAD" default:"30s" validate:"min=5s"`
}

// SecurityConfig holds webhook secrets, admin tokens, and strictness toggles.
type SecurityConfig struct {
	AdminToken             SecretString `envconfig:"ADMIN_API_TOKEN"`
	HealthToken            SecretString `envconfig:"HEALTH_TOKEN"`
	TelegramWebhookSecret  SecretString `envconfig:"TELEGRAM_WEBHOOK_SECRET"`
	WhatsappWebhookSecret  SecretString `envconfig:"WHATSAPP_WEBHOOK_SECRET"`
	InstagramWebhookSecret SecretString `envconfig:"INSTAGRAM_WEBHOOK_SECRET"`
	VkmaxWebhookSecret     SecretString `envconfig:"VKMAX_WEBHOOK_SECRET"`
	CalendarWebhookSecret  SecretString `envconfig:"CALENDAR_WEBHOOK_SECRET"`
	StrictWebhookSignature bool         `envconfig:"STRICT_WEBHOOK_SIGNATURE" default:"true"`
	StrictTenantConfig     bool         `envconfig:"STRICT_TENANT_CONFIG" default:"true"`
	StrictInboundSchema    bool         `envconfig:"STRICT_INBOUND_SCHEMA" default:"false"`
	TenantFromHost         bool         `envconfig:"TENANT_FROM_HOST" default:"false"`
	TenantHostSuffix       string       `envconfig:"TENANT_HOST_SUFFIX"`
}

// GlobalWebhookSecret returns the platform-level fallback secret for a
// channel's inbound webhook, or "" when none is configured.
func (s SecurityConfig) GlobalWebhookSecret(channel string) string {
	switch channel {
	case "telegram":
		return s.TelegramWebhookSecret.Unmask()
	case "whatsapp":
		return s.WhatsappWebhookSecret.Unmask()
	case "instagram":
		return s.InstagramWebhookSecret.Unmask()
	case "vkmax":
		return s.VkmaxWebhookSecret.Unmask()
	case "calendar":
		return s.CalendarWebhookSecret.Unmask()
	default:
		return ""
	}
}

// ContactsConfig controls synthetic contact derivation for channels that do
// not yield a real email address.
type ContactsConfig struct {
	AllowSynthetic  bool   `envconfig:"ALLOW_SYNTHETIC_CONTACT" default:"false"`
	SyntheticDomain string `envconfig:"SYNTHETIC_CONTACT_DOMAIN" default:"salonhelp.local"`
}
