// Package senders implements the outbound channel adapters: telegram,
// whatsapp, instagram, and vkmax. Each adapter translates the canonical
// (to, message) pair into the provider's wire format, resolving credentials
// from the tenant's channel config with platform-level fallbacks.
//
// All sends go through one resilient HTTP client per channel, so each
// provider trips its own circuit breaker.
package senders

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"saloncore/internal/config"
	"saloncore/internal/external"
	"saloncore/internal/types"
)

// Channels lists the supported outbound channels in a stable order.
var Channels = []string{"telegram", "whatsapp", "instagram", "vkmax"}

// IsSupported reports whether the channel has an adapter.
func IsSupported(channel string) bool {
	for _, c := range Channels {
		if c == channel {
			return true
		}
	}
	return false
}

// Sender delivers one message over one channel. The tenant's channel config
// overrides the platform credentials; either may be empty for fields the
// other supplies.
type Sender interface {
	Send(ctx context.Context, to, message string, cc types.ChannelConfig) (*types.DeliveryResult, error)
}

// Registry maps channel names to their adapters.
type Registry struct {
	senders map[string]Sender
}

// NewRegistry builds the adapter set from the platform channel config.
// With cfg.MockSenders set, every adapter is replaced by a mock that
// succeeds without network calls.
func NewRegistry(cfg config.ChannelsConfig) *Registry {
	if cfg.MockSenders {
		mock := &MockSender{}
		return &Registry{senders: map[string]Sender{
			"telegram":  mock,
			"whatsapp":  mock,
			"instagram": mock,
			"vkmax":     mock,
		}}
	}
	return &Registry{senders: map[string]Sender{
		"telegram":  newTelegramSender(cfg),
		"whatsapp":  newWhatsappSender(cfg),
		"instagram": newInstagramSender(cfg),
		"vkmax":     newVkmaxSender(cfg),
	}}
}

// Sender returns the adapter for the channel.
func (r *Registry) Sender(channel string) (Sender, error) {
	s, ok := r.senders[channel]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeValidationChannel, "unsupported channel: "+channel, nil)
	}
	return s, nil
}

// MockSender succeeds without delivering anywhere.
type MockSender struct{}

// Send fabricates a successful delivery.
func (*MockSender) Send(_ context.Context, _, _ string, _ types.ChannelConfig) (*types.DeliveryResult, error) {
	return &types.DeliveryResult{
		ProviderMessageID: fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Mocked:            true,
	}, nil
}

// newChannelClient builds the shared resilient HTTP base for one channel.
func newChannelClient(name string) *external.BaseClient {
	return external.NewBaseClient(
		&http.Client{Timeout: 15 * time.Second},
		"sender-"+name,
		external.DefaultRetryPolicy(),
		types.ErrCodeUpstreamChannel,
	)
}

// post performs one provider send call and extracts a message id from the
// response when the provider returns one.
func post(ctx context.Context, base *external.BaseClient, url, bearer string, payload any) (*types.DeliveryResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode send payload", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(raw)))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build send request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamChannel, "failed to read provider response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamChannel,
			fmt.Sprintf("channel provider returned %d", resp.StatusCode),
			nil,
			map[string]any{"body": string(body[:min(len(body), 512)])},
		)
	}
	return &types.DeliveryResult{ProviderMessageID: extractMessageID(body)}, nil
}

// extractMessageID pulls the provider's message identifier from common
// response shapes; "" when the shape is unrecognized.
func extractMessageID(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var probe struct {
		MessageID any    `json:"message_id"`
		ID        string `json:"id"`
		Result    struct {
			MessageID any `json:"message_id"`
		} `json:"result"`
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	if id := anyToString(probe.Result.MessageID); id != "" {
		return id
	}
	if id := anyToString(probe.MessageID); id != "" {
		return id
	}
	if probe.ID != "" {
		return probe.ID
	}
	if len(probe.Messages) > 0 {
		return probe.Messages[0].ID
	}
	return ""
}

func anyToString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return ""
	}
}
