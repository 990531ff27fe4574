package senders

import (
	"context"

	"saloncore/internal/config"
	"saloncore/internal/external"
	"saloncore/internal/types"
)

// vkmaxSender posts flat to/message payloads.
type vkmaxSender struct {
	base    *external.BaseClient
	sendURL string
	token   string
}

func newVkmaxSender(cfg config.ChannelsConfig) *vkmaxSender {
	return &vkmaxSender{
		base:    newChannelClient("vkmax"),
		sendURL: cfg.VkmaxSendURL,
		token:   cfg.VkmaxToken.Unmask(),
	}
}

func (s *vkmaxSender) Send(ctx context.Context, to, message string, cc types.ChannelConfig) (*types.DeliveryResult, error) {
	url := cc.SendURL
	if url == "" {
		url = s.sendURL
	}
	token := cc.Token
	if token == "" {
		token = s.token
	}
	if url == "" || token == "" {
		return nil, types.NewAppError(types.ErrCodeValidationTenantConfig, "vkmax send url and token are required", nil)
	}
	return post(ctx, s.base, url, token, map[string]any{
		"to":      to,
		"message": message,
	})
}
