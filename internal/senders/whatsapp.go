package senders

import (
	"context"

	"saloncore/internal/config"
	"saloncore/internal/external"
	"saloncore/internal/types"
)

// whatsappSender posts to the Cloud API messages endpoint. The URL is either
// configured directly or assembled from the API base and phone number id.
type whatsappSender struct {
	base    *external.BaseClient
	sendURL string
	apiBase string
	phoneID string
	token   string
}

func newWhatsappSender(cfg config.ChannelsConfig) *whatsappSender {
	return &whatsappSender{
		base:    newChannelClient("whatsapp"),
		sendURL: cfg.WhatsappSendURL,
		apiBase: cfg.WhatsappAPIBase,
		phoneID: cfg.WhatsappPhoneID,
		token:   cfg.WhatsappToken.Unmask(),
	}
}

func (s *whatsappSender) Send(ctx context.Context, to, message string, cc types.ChannelConfig) (*types.DeliveryResult, error) {
	url := cc.SendURL
	if url == "" {
		url = s.sendURL
	}
	if url == "" {
		apiBase := cc.APIBase
		if apiBase == "" {
			apiBase = s.apiBase
		}
		phoneID := cc.PhoneID
		if phoneID == "" {
			phoneID = s.phoneID
		}
		if apiBase != "" && phoneID != "" {
			url = apiBase + "/" + phoneID + "/messages"
		}
	}
	token := cc.Token
	if token == "" {
		token = s.token
	}
	if url == "" || token == "" {
		return nil, types.NewAppError(types.ErrCodeValidationTenantConfig,
			"whatsapp token and send url (or api base plus phone id) are required", nil)
	}
	return post(ctx, s.base, url, token, map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": message},
	})
}
