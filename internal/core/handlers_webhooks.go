package core

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"saloncore/internal/senders"
	"saloncore/internal/tenant"
	"saloncore/internal/types"
	"saloncore/internal/webhooks"
)

// readWebhookBody reads the raw body (bounded) and decodes it as a JSON
// object. The raw bytes are kept for signature verification.
func readWebhookBody(w http.ResponseWriter, r *http.Request) ([]byte, map[string]any, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, nil, types.NewAppError(errCodeValidationInvalidJSON, "failed to read request body", err)
	}
	body := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, nil, types.NewAppError(errCodeValidationInvalidJSON, "malformed JSON in request body", err)
		}
	}
	return raw, body, nil
}

func webhookSignature(r *http.Request) string {
	if sig := r.Header.Get("X-Signature"); sig != "" {
		return sig
	}
	return r.Header.Get("X-Webhook-Signature")
}

// HandleChannelWebhook ingests one inbound delivery from a messaging
// channel.
func (s *Server) HandleChannelWebhook(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	if !senders.IsSupported(channel) {
		Error(w, r, types.NewAppError(types.ErrCodeValidationChannel, "unsupported channel: "+channel, nil))
		return
	}

	raw, body, err := readWebhookBody(w, r)
	if err != nil {
		Error(w, r, err)
		return
	}
	bodyTenant, _ := body["tenantId"].(string)
	tenantID := tenant.ResolveID(r, bodyTenant, s.tenantIDOptions())

	res, err := s.Ingestor.HandleInbound(r.Context(), webhooks.InboundRequest{
		TenantID:      tenantID,
		Channel:       channel,
		RawBody:       raw,
		Signature:     webhookSignature(r),
		IntegrationID: r.Header.Get("X-Integration-Id"),
		Body:          body,
	})
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, res)
}

// HandleCalendarWebhook ingests booking lifecycle events pushed by the
// calendar provider.
func (s *Server) HandleCalendarWebhook(w http.ResponseWriter, r *http.Request) {
	raw, body, err := readWebhookBody(w, r)
	if err != nil {
		Error(w, r, err)
		return
	}
	bodyTenant, _ := body["tenantId"].(string)
	tenantID := tenant.ResolveID(r, bodyTenant, s.tenantIDOptions())

	res, err := s.Ingestor.HandleCalendar(r.Context(), webhooks.CalendarRequest{
		TenantID:  tenantID,
		RawBody:   raw,
		Signature: webhookSignature(r),
		Body:      body,
	})
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, res)
}
