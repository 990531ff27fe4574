package workers

import (
	"context"
	"log/slog"
	"time"

	"saloncore/internal/config"
	"saloncore/internal/idempotency"
	"saloncore/internal/quiethours"
	"saloncore/internal/ratelimit"
	"saloncore/internal/senders"
	"saloncore/internal/types"
)

// campaignDedupeTTL keeps per-campaign recipient dedupe keys long enough to
// outlive any campaign re-run.
const campaignDedupeTTL = 30 * 24 * time.Hour

// Deferrer moves a delivery to a later time. Implemented by
// reminders.Scheduler.
type Deferrer interface {
	Schedule(ctx context.Context, r types.ReminderEntry, runAt time.Time) (string, error)
}

// MkHandler processes marketing campaign messages: quiet-hours deferral,
// per-campaign recipient dedupe, per-client frequency capping, and paced
// routing to the send queues.
type MkHandler struct {
	queue    Enqueuer
	guard    KeyReserver
	limiter  RateAllower
	deferrer Deferrer
	limits   config.RateLimitConfig
	quiet    quiethours.Window
	throttle time.Duration
	clock    types.Clock
	logger   *slog.Logger

	sleep func(ctx context.Context, d time.Duration)
}

// NewMkHandler creates the marketing router.
func NewMkHandler(
	q Enqueuer,
	guard KeyReserver,
	limiter RateAllower,
	deferrer Deferrer,
	limits config.RateLimitConfig,
	quiet quiethours.Window,
	throttle time.Duration,
	logger *slog.Logger,
) *MkHandler {
	return &MkHandler{
		queue:    q,
		guard:    guard,
		limiter:  limiter,
		deferrer: deferrer,
		limits:   limits,
		quiet:    quiet,
		throttle: throttle,
		clock:    types.RealClock{},
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Handle routes one campaign message. Messages suppressed by dedupe or the
// client frequency cap are dropped, not failed; a campaign never retries its
// way past a frequency cap.
func (h *MkHandler) Handle(ctx context.Context, job *types.Job) error {
	p, err := campaignOf(job)
	if err != nil {
		return err
	}
	if !senders.IsSupported(p.Channel) {
		return types.NewAppError(types.ErrCodeValidationChannel, "unsupported channel: "+p.Channel, nil)
	}
	if p.To == "" || p.Message == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "to and message are required", nil)
	}

	// Deferral runs before dedupe so the dedupe key is claimed at delivery
	// time, collapsing duplicate deferred copies.
	now := h.clock.Now()
	if h.limits.MkRespectQuietHours && h.quiet.ContainsIn(now, p.TimeZone) {
		return h.deferPastQuiet(ctx, job, p, h.quiet.NextAllowedIn(now, p.TimeZone))
	}

	if p.CampaignID != "" {
		clientKey := p.ClientID
		if clientKey == "" {
			clientKey = p.Channel + ":" + p.To
		}
		won, err := h.guard.Reserve(ctx, idempotency.CampaignKey(p.CampaignID, clientKey), "1", campaignDedupeTTL)
		if err != nil {
			return err
		}
		if !won {
			h.logger.Info("campaign message deduplicated",
				slog.String("tenant_id", p.TenantID),
				slog.String("campaign_id", p.CampaignID),
				slog.String("job_id", job.ID))
			return nil
		}
	}

	rate, err := h.limiter.Allow(ctx,
		ratelimit.ClientKey(p.TenantID, p.Channel, p.To),
		h.limits.MkClientLimit, h.limits.MkClientWindow)
	if err != nil {
		return err
	}
	if !rate.Allowed {
		h.logger.Info("campaign message suppressed by client frequency cap",
			slog.String("tenant_id", p.TenantID),
			slog.String("channel", p.Channel),
			slog.String("job_id", job.ID))
		return nil
	}

	send := &types.Job{
		Queue: types.SendQueue(p.Channel),
		Kind:  types.JobKindChannelSend,
		ChannelSend: &types.ChannelSendPayload{
			TenantID: p.TenantID,
			Channel:  p.Channel,
			To:       p.To,
			Message:  p.Message,
			Metadata: p.Metadata,
		},
	}
	if err := h.queue.Enqueue(ctx, send); err != nil {
		return err
	}
	// Pacing keeps campaign fan-out from bursting the send queues.
	if h.throttle > 0 {
		h.sleep(ctx, h.throttle)
	}
	return nil
}

// deferPastQuiet moves the message to the reminder schedule, targeted back at the
// marketing queue, so quiet hours delay delivery instead of dropping it.
func (h *MkHandler) deferPastQuiet(ctx context.Context, job *types.Job, p *types.CampaignPayload, runAt time.Time) error {
	meta := map[string]any{"campaignId": p.CampaignID, "clientId": p.ClientID, "timeZone": p.TimeZone}
	for k, v := range p.Metadata {
		meta[k] = v
	}
	_, err := h.deferrer.Schedule(ctx, types.ReminderEntry{
		TenantID:    p.TenantID,
		Channel:     p.Channel,
		To:          p.To,
		Message:     p.Message,
		TimeZone:    p.TimeZone,
		Metadata:    meta,
		TargetQueue: types.QueueMk,
	}, runAt)
	if err != nil {
		return err
	}
	h.logger.Info("campaign message deferred past quiet hours",
		slog.String("tenant_id", p.TenantID),
		slog.String("job_id", job.ID),
		slog.Time("run_at", runAt))
	return nil
}

// campaignOf extracts campaign semantics from a job. Deferred messages come
// back as reminder dispatches and are rebuilt from their metadata.
func campaignOf(job *types.Job) (*types.CampaignPayload, error) {
	switch job.Kind {
	case types.JobKindCampaign:
		return job.Campaign, nil
	case types.JobKindReminderDispatch:
		r := job.Reminder
		p := &types.CampaignPayload{
			TenantID: r.TenantID,
			Channel:  r.Channel,
			To:       r.To,
			Message:  r.Message,
			Metadata: r.Metadata,
		}
		if r.Metadata != nil {
			if v, ok := r.Metadata["campaignId"].(string); ok {
				p.CampaignID = v
			}
			if v, ok := r.Metadata["clientId"].(string); ok {
				p.ClientID = v
			}
			if v, ok := r.Metadata["timeZone"].(string); ok {
				p.TimeZone = v
			}
		}
		return p, nil
	default:
		return nil, types.NewAppError(types.ErrCodeValidationService,
			"mk worker cannot handle kind "+string(job.Kind), nil)
	}
}
