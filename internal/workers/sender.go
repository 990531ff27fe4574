package workers

import (
	"context"
	"log/slog"
	"time"

	"saloncore/internal/config"
	"saloncore/internal/ratelimit"
	"saloncore/internal/senders"
	"saloncore/internal/tenant"
	"saloncore/internal/types"
)

// rpsRecheck is the wait between per-channel rate limit probes when the
// current one-second window is exhausted.
const rpsRecheck = 200 * time.Millisecond

// SenderHandler delivers channel_send jobs through the channel adapters,
// shaped by the per-channel RPS limits.
type SenderHandler struct {
	registry *senders.Registry
	resolver *tenant.Resolver
	limiter  RateAllower
	limits   config.RateLimitConfig
	logger   *slog.Logger

	sleep func(ctx context.Context, d time.Duration)
}

// NewSenderHandler creates the delivery handler.
func NewSenderHandler(
	registry *senders.Registry,
	resolver *tenant.Resolver,
	limiter RateAllower,
	limits config.RateLimitConfig,
	logger *slog.Logger,
) *SenderHandler {
	return &SenderHandler{
		registry: registry,
		resolver: resolver,
		limiter:  limiter,
		limits:   limits,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Handle sends one outbound message. The RPS limit is waited out rather than
// failed; provider errors surface to the runner's retry policy.
func (h *SenderHandler) Handle(ctx context.Context, job *types.Job) error {
	if job.Kind != types.JobKindChannelSend {
		return types.NewAppError(types.ErrCodeValidationService,
			"sender worker cannot handle kind "+string(job.Kind), nil)
	}
	p := job.ChannelSend

	sender, err := h.registry.Sender(p.Channel)
	if err != nil {
		return err
	}

	if err := h.waitForRPS(ctx, p.TenantID, p.Channel); err != nil {
		return err
	}

	cfg, _ := h.resolver.Resolve(ctx, p.TenantID)
	cc := applyChannelOverrides(cfg.Channel(p.Channel), p.Metadata)

	res, err := sender.Send(ctx, p.To, p.Message, cc)
	if err != nil {
		return err
	}
	h.logger.Info("message delivered",
		slog.String("tenant_id", p.TenantID),
		slog.String("channel", p.Channel),
		slog.String("job_id", job.ID),
		slog.String("provider_message_id", res.ProviderMessageID),
		slog.Bool("mocked", res.Mocked))
	return nil
}

// waitForRPS blocks until the channel's one-second window admits the send or
// the context ends.
func (h *SenderHandler) waitForRPS(ctx context.Context, tenantID, channel string) error {
	rps := h.limits.ChannelRPS(channel)
	if rps <= 0 {
		return nil
	}
	key := ratelimit.ChannelKey(tenantID, channel)
	for {
		rate, err := h.limiter.Allow(ctx, key, rps, time.Second)
		if err != nil {
			return err
		}
		if rate.Allowed {
			return nil
		}
		h.sleep(ctx, rpsRecheck)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// applyChannelOverrides layers per-message credential overrides from job
// metadata over the tenant's channel defaults.
func applyChannelOverrides(cc types.ChannelConfig, metadata map[string]any) types.ChannelConfig {
	if metadata == nil {
		return cc
	}
	if v, ok := metadata["botToken"].(string); ok && v != "" {
		cc.BotToken = v
	}
	if v, ok := metadata["sendUrl"].(string); ok && v != "" {
		cc.SendURL = v
	}
	if v, ok := metadata["token"].(string); ok && v != "" {
		cc.Token = v
	}
	if v, ok := metadata["apiBase"].(string); ok && v != "" {
		cc.APIBase = v
	}
	if v, ok := metadata["phoneId"].(string); ok && v != "" {
		cc.PhoneID = v
	}
	return cc
}
