package senders

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saloncore/internal/config"
	"saloncore/internal/external"
	"saloncore/internal/types"
)

// providerCall is one request captured by the stub provider server.
type providerCall struct {
	path        string
	auth        string
	contentType string
	payload     map[string]any
}

type providerStub struct {
	mu       sync.Mutex
	calls    []providerCall
	status   int
	response string
	srv      *httptest.Server
}

func newProviderStub(t *testing.T, status int, response string) *providerStub {
	t.Helper()
	p := &providerStub{status: status, response: response}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		payload := map[string]any{}
		_ = json.Unmarshal(raw, &payload)
		p.mu.Lock()
		p.calls = append(p.calls, providerCall{
			path:        r.URL.Path,
			auth:        r.Header.Get("Authorization"),
			contentType: r.Header.Get("Content-Type"),
			payload:     payload,
		})
		p.mu.Unlock()
		w.WriteHeader(p.status)
		_, _ = w.Write([]byte(p.response))
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *providerStub) lastCall(t *testing.T) providerCall {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.calls)
	return p.calls[len(p.calls)-1]
}

func TestTelegramSenderWireFormat(t *testing.T) {
	stub := newProviderStub(t, http.StatusOK, `{"ok":true,"result":{"message_id":777}}`)
	s := newTelegramSender(config.ChannelsConfig{})

	res, err := s.Send(context.Background(), "12345", "see you at 10:00",
		types.ChannelConfig{SendURL: stub.srv.URL + "/bot123/sendMessage"})
	require.NoError(t, err)
	assert.Equal(t, "777", res.ProviderMessageID)

	call := stub.lastCall(t)
	assert.Equal(t, "/bot123/sendMessage", call.path)
	assert.Empty(t, call.auth, "telegram authenticates through the URL")
	assert.Equal(t, "application/json", call.contentType)
	assert.Equal(t, "12345", call.payload["chat_id"])
	assert.Equal(t, "see you at 10:00", call.payload["text"])
}

func TestTelegramSenderRequiresTokenOrURL(t *testing.T) {
	s := newTelegramSender(config.ChannelsConfig{})

	_, err := s.Send(context.Background(), "12345", "hi", types.ChannelConfig{})

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationTenantConfig, appErr.Code)
}

func TestWhatsappSenderWireFormat(t *testing.T) {
	stub := newProviderStub(t, http.StatusOK, `{"messages":[{"id":"wamid.ABC"}]}`)
	s := newWhatsappSender(config.ChannelsConfig{})

	res, err := s.Send(context.Background(), "+79991234567", "your booking is confirmed",
		types.ChannelConfig{APIBase: stub.srv.URL, PhoneID: "5550001", Token: "wa-token"})
	require.NoError(t, err)
	assert.Equal(t, "wamid.ABC", res.ProviderMessageID)

	call := stub.lastCall(t)
	assert.Equal(t, "/5550001/messages", call.path)
	assert.Equal(t, "Bearer wa-token", call.auth)
	assert.Equal(t, "whatsapp", call.payload["messaging_product"])
	assert.Equal(t, "+79991234567", call.payload["to"])
	assert.Equal(t, "text", call.payload["type"])
	text := call.payload["text"].(map[string]any)
	assert.Equal(t, "your booking is confirmed", text["body"])
}

func TestWhatsappSenderRequiresToken(t *testing.T) {
	s := newWhatsappSender(config.ChannelsConfig{WhatsappSendURL: "https://example.invalid/messages"})

	_, err := s.Send(context.Background(), "+7999", "hi", types.ChannelConfig{})

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationTenantConfig, appErr.Code)
}

func TestInstagramSenderWireFormat(t *testing.T) {
	stub := newProviderStub(t, http.StatusOK, `{"message_id":"m-1"}`)
	s := newInstagramSender(config.ChannelsConfig{InstagramToken: "ig-token"})

	res, err := s.Send(context.Background(), "ig-900", "thanks for reaching out",
		types.ChannelConfig{SendURL: stub.srv.URL + "/me/messages"})
	require.NoError(t, err)
	assert.Equal(t, "m-1", res.ProviderMessageID)

	call := stub.lastCall(t)
	assert.Equal(t, "Bearer ig-token", call.auth)
	recipient := call.payload["recipient"].(map[string]any)
	assert.Equal(t, "ig-900", recipient["id"])
	message := call.payload["message"].(map[string]any)
	assert.Equal(t, "thanks for reaching out", message["text"])
}

func TestVkmaxSenderWireFormat(t *testing.T) {
	stub := newProviderStub(t, http.StatusOK, `{"id":"v-1"}`)
	s := newVkmaxSender(config.ChannelsConfig{VkmaxToken: "vk-token"})

	res, err := s.Send(context.Background(), "77", "your slot is booked",
		types.ChannelConfig{SendURL: stub.srv.URL + "/messages"})
	require.NoError(t, err)
	assert.Equal(t, "v-1", res.ProviderMessageID)

	call := stub.lastCall(t)
	assert.Equal(t, "Bearer vk-token", call.auth)
	assert.Equal(t, "77", call.payload["to"])
	assert.Equal(t, "your slot is booked", call.payload["message"])
}

func TestSendSurfacesProviderRejection(t *testing.T) {
	stub := newProviderStub(t, http.StatusBadRequest, `{"error":"chat not found"}`)
	s := newTelegramSender(config.ChannelsConfig{TelegramSendURL: stub.srv.URL})

	_, err := s.Send(context.Background(), "12345", "hi", types.ChannelConfig{})

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamChannel, appErr.Code)
	assert.Contains(t, appErr.Details["body"], "chat not found")
	assert.Len(t, stub.calls, 1, "4xx responses are not retried")
}

func TestSendRetriesServerErrors(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"result":{"message_id":42}}`))
	}))
	t.Cleanup(srv.Close)

	s := &telegramSender{
		base: external.NewBaseClient(
			srv.Client(),
			"sender-test",
			external.RetryPolicy{MaxRetries: 2, MinWait: time.Millisecond, MaxWait: time.Millisecond},
			types.ErrCodeUpstreamChannel,
			external.WithSleepFunc(func(time.Duration) {}),
		),
		sendURL: srv.URL,
	}

	res, err := s.Send(context.Background(), "12345", "hi", types.ChannelConfig{})
	require.NoError(t, err)
	assert.Equal(t, "42", res.ProviderMessageID)
	assert.Equal(t, 3, attempts)
}

func TestExtractMessageID(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"telegram result", `{"ok":true,"result":{"message_id":777}}`, "777"},
		{"top-level numeric", `{"message_id":12}`, "12"},
		{"top-level string", `{"message_id":"abc"}`, "abc"},
		{"plain id", `{"id":"v-1"}`, "v-1"},
		{"whatsapp messages", `{"messages":[{"id":"wamid.X"}]}`, "wamid.X"},
		{"empty body", ``, ""},
		{"unrecognized shape", `{"status":"ok"}`, ""},
		{"garbage", `not json`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractMessageID([]byte(tt.body)))
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(config.ChannelsConfig{MockSenders: true})

	s, err := r.Sender("telegram")
	require.NoError(t, err)
	res, err := s.Send(context.Background(), "1", "hi", types.ChannelConfig{})
	require.NoError(t, err)
	assert.True(t, res.Mocked)
	assert.NotEmpty(t, res.ProviderMessageID)

	_, err = r.Sender("fax")
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationChannel, appErr.Code)
}

func TestIsSupported(t *testing.T) {
	for _, ch := range Channels {
		assert.True(t, IsSupported(ch), ch)
	}
	assert.False(t, IsSupported("sms"))
	assert.False(t, IsSupported(""))
}
