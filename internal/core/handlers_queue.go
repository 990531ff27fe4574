package core

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"saloncore/internal/ratelimit"
	"saloncore/internal/senders"
	"saloncore/internal/tenant"
	"saloncore/internal/types"
)

// enqueueRequest is the body for POST /queue/{name}. RunAt applies only to
// the reminders queue.
type enqueueRequest struct {
	TenantID       string         `json:"tenantId,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey"`
	Channel        string         `json:"channel"`
	To             string         `json:"to"`
	Message        string         `json:"message"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CampaignID     string         `json:"campaignId,omitempty"`
	ClientID       string         `json:"clientId,omitempty"`
	TimeZone       string         `json:"timeZone,omitempty"`
	BookingID      string         `json:"bookingId,omitempty"`
	RunAt          string         `json:"runAt,omitempty"`
}

type enqueueResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
	RunAt  string `json:"runAt,omitempty"`
}

// HandleEnqueue accepts a job for the tx, mk, or reminders queue. The
// request must carry a fresh idempotency key; replays are 409.
func (s *Server) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name != "tx" && name != "mk" && name != "reminders" {
		Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "unknown queue: "+name, nil))
		return
	}

	var req enqueueRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	tenantID := tenant.ResolveID(r, req.TenantID, s.tenantIDOptions())

	if req.IdempotencyKey == "" || req.Channel == "" || req.To == "" || req.Message == "" {
		Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"idempotencyKey, channel, to, and message are required", nil))
		return
	}
	if !senders.IsSupported(req.Channel) {
		Error(w, r, types.NewAppError(types.ErrCodeValidationChannel, "unsupported channel: "+req.Channel, nil))
		return
	}

	if ok := s.allowEnqueue(w, r, name, tenantID); !ok {
		return
	}

	won, err := s.Guard.Reserve(r.Context(),
		"idemp:enqueue:"+name+":"+tenantID+":"+req.IdempotencyKey, "1", 24*time.Hour)
	if err != nil {
		Error(w, r, err)
		return
	}
	if !won {
		Error(w, r, types.NewAppError(types.ErrCodeConflictDuplicate, "duplicate request", nil))
		return
	}

	if name == "reminders" {
		s.scheduleReminder(w, r, tenantID, req)
		return
	}

	job := buildQueueJob(name, tenantID, req)
	if err := s.Queue.Enqueue(r.Context(), job); err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusAccepted, enqueueResponse{JobID: job.ID, Status: "queued"})
}

// allowEnqueue applies the per-tenant daily quota for the queue. Reminders
// have no quota of their own; they were paid for at original enqueue time.
func (s *Server) allowEnqueue(w http.ResponseWriter, r *http.Request, name, tenantID string) bool {
	var limit int
	var window time.Duration
	switch name {
	case "tx":
		limit, window = s.Config.RateLimits.TxTenantLimit, s.Config.RateLimits.TxTenantWindow
	case "mk":
		limit, window = s.Config.RateLimits.MkTenantLimit, s.Config.RateLimits.MkTenantWindow
	default:
		return true
	}
	rate, err := s.Limiter.Allow(r.Context(), ratelimit.TenantKey(name, tenantID), limit, window)
	if err != nil {
		Error(w, r, err)
		return false
	}
	if !rate.Allowed {
		Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeRateLimit, "rate limit exceeded", nil,
			map[string]any{"resetInSeconds": rate.ResetInSeconds}))
		return false
	}
	return true
}

func (s *Server) scheduleReminder(w http.ResponseWriter, r *http.Request, tenantID string, req enqueueRequest) {
	if req.RunAt == "" {
		Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "runAt is required for the reminders queue", nil))
		return
	}
	runAt, err := time.Parse(time.RFC3339, req.RunAt)
	if err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidTime, "runAt must be an ISO date-time", err))
		return
	}
	id, err := s.Scheduler.Schedule(r.Context(), types.ReminderEntry{
		TenantID:  tenantID,
		Channel:   req.Channel,
		To:        req.To,
		Message:   req.Message,
		Metadata:  req.Metadata,
		TimeZone:  req.TimeZone,
		BookingID: req.BookingID,
	}, runAt)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusAccepted, enqueueResponse{JobID: id, Status: "scheduled", RunAt: runAt.UTC().Format(time.RFC3339)})
}

func buildQueueJob(name, tenantID string, req enqueueRequest) *types.Job {
	if name == "mk" {
		return &types.Job{
			Queue: types.QueueMk,
			Kind:  types.JobKindCampaign,
			Campaign: &types.CampaignPayload{
				TenantID:   tenantID,
				CampaignID: req.CampaignID,
				ClientID:   req.ClientID,
				Channel:    req.Channel,
				To:         req.To,
				Message:    req.Message,
				TimeZone:   req.TimeZone,
				Metadata:   req.Metadata,
			},
		}
	}
	return &types.Job{
		Queue: types.QueueTx,
		Kind:  types.JobKindNotify,
		Notify: &types.NotifyPayload{
			TenantID: tenantID,
			Channel:  req.Channel,
			To:       req.To,
			Message:  req.Message,
			Metadata: req.Metadata,
		},
	}
}

// directSendRequest is the body for POST /send/{channel}.
type directSendRequest struct {
	TenantID string         `json:"tenantId,omitempty"`
	To       string         `json:"to"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// HandleDirectSend enqueues straight onto a channel's send queue, bypassing
// the routing workers. Used by trusted internal callers.
func (s *Server) HandleDirectSend(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	if !senders.IsSupported(channel) {
		Error(w, r, types.NewAppError(types.ErrCodeValidationChannel, "unsupported channel: "+channel, nil))
		return
	}

	var req directSendRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	if req.To == "" || req.Message == "" {
		Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "to and message are required", nil))
		return
	}
	tenantID := tenant.ResolveID(r, req.TenantID, s.tenantIDOptions())

	job := &types.Job{
		Queue: types.SendQueue(channel),
		Kind:  types.JobKindChannelSend,
		ChannelSend: &types.ChannelSendPayload{
			TenantID: tenantID,
			Channel:  channel,
			To:       req.To,
			Message:  req.Message,
			Metadata: req.Metadata,
		},
	}
	if err := s.Queue.Enqueue(r.Context(), job); err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, map[string]string{"messageId": job.ID, "status": "queued"})
}
