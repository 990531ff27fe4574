package senders

import (
	"context"

	"saloncore/internal/config"
	"saloncore/internal/external"
	"saloncore/internal/types"
)

// telegramSender posts to the Bot API sendMessage endpoint. The send URL may
// be configured directly or derived from the bot token.
type telegramSender struct {
	base     *external.BaseClient
	botToken string
	sendURL  string
}

func newTelegramSender(cfg config.ChannelsConfig) *telegramSender {
	return &telegramSender{
		base:     newChannelClient("telegram"),
		botToken: cfg.TelegramBotToken.Unmask(),
		sendURL:  cfg.TelegramSendURL,
	}
}

func (s *telegramSender) Send(ctx context.Context, to, message string, cc types.ChannelConfig) (*types.DeliveryResult, error) {
	token := cc.BotToken
	if token == "" {
		token = s.botToken
	}
	url := cc.SendURL
	if url == "" {
		url = s.sendURL
	}
	if url == "" && token != "" {
		url = "https://api.telegram.org/bot" + token + "/sendMessage"
	}
	if url == "" {
		return nil, types.NewAppError(types.ErrCodeValidationTenantConfig, "telegram send url or bot token is required", nil)
	}
	return post(ctx, s.base, url, "", map[string]any{
		"chat_id": to,
		"text":    message,
	})
}
