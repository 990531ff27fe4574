package senders

import (
	"context"

	"saloncore/internal/config"
	"saloncore/internal/external"
	"saloncore/internal/types"
)

// instagramSender posts messenger-style recipient/message payloads.
type instagramSender struct {
	base    *external.BaseClient
	sendURL string
	token   string
}

func newInstagramSender(cfg config.ChannelsConfig) *instagramSender {
	return &instagramSender{
		base:    newChannelClient("instagram"),
		sendURL: cfg.InstagramSendURL,
		token:   cfg.InstagramToken.Unmask(),
	}
}

func (s *instagramSender) Send(ctx context.Context, to, message string, cc types.ChannelConfig) (*types.DeliveryResult, error) {
	url := cc.SendURL
	if url == "" {
		url = s.sendURL
	}
	token := cc.Token
	if token == "" {
		token = s.token
	}
	if url == "" || token == "" {
		return nil, types.NewAppError(types.ErrCodeValidationTenantConfig, "instagram send url and token are required", nil)
	}
	return post(ctx, s.base, url, token, map[string]any{
		"recipient": map[string]string{"id": to},
		"message":   map[string]string{"text": message},
	})
}
