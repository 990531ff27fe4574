package workers

import (
	"context"
	"log/slog"

	"saloncore/internal/senders"
	"saloncore/internal/types"
)

// TxHandler routes transactional notifications to the per-channel send
// queues. It also accepts reminder dispatches, which are transactional by
// nature.
type TxHandler struct {
	queue  Enqueuer
	logger *slog.Logger
}

// NewTxHandler creates the transactional router.
func NewTxHandler(q Enqueuer, logger *slog.Logger) *TxHandler {
	return &TxHandler{queue: q, logger: logger}
}

// Handle forwards the job to the channel's send queue.
func (h *TxHandler) Handle(ctx context.Context, job *types.Job) error {
	var (
		tenantID, channel, to, message string
		metadata                       map[string]any
	)
	switch job.Kind {
	case types.JobKindNotify:
		p := job.Notify
		tenantID, channel, to, message, metadata = p.TenantID, p.Channel, p.To, p.Message, p.Metadata
	case types.JobKindReminderDispatch:
		p := job.Reminder
		tenantID, channel, to, message, metadata = p.TenantID, p.Channel, p.To, p.Message, p.Metadata
		if p.BookingID != "" {
			if metadata == nil {
				metadata = map[string]any{}
			}
			metadata["bookingId"] = p.BookingID
		}
	default:
		return types.NewAppError(types.ErrCodeValidationService,
			"tx worker cannot handle kind "+string(job.Kind), nil)
	}

	if !senders.IsSupported(channel) {
		return types.NewAppError(types.ErrCodeValidationChannel, "unsupported channel: "+channel, nil)
	}
	if to == "" || message == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "to and message are required", nil)
	}

	send := &types.Job{
		Queue: types.SendQueue(channel),
		Kind:  types.JobKindChannelSend,
		ChannelSend: &types.ChannelSendPayload{
			TenantID: tenantID,
			Channel:  channel,
			To:       to,
			Message:  message,
			Metadata: metadata,
		},
	}
	if err := h.queue.Enqueue(ctx, send); err != nil {
		return err
	}
	h.logger.Debug("notification routed",
		slog.String("tenant_id", tenantID),
		slog.String("channel", channel),
		slog.String("job_id", job.ID))
	return nil
}
