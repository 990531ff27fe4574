// Package calendar holds the client for the external calendar provider that
// owns bookings and availability. The provider exposes a versioned REST API
// keyed by event type; per-tenant credentials override the platform-level
// ones resolved from configuration.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"saloncore/internal/config"
	"saloncore/internal/external"
	"saloncore/internal/types"
)

// defaultAPIVersion is sent in the provider's version header when the tenant
// and platform config leave it unset.
const defaultAPIVersion = "2024-08-13"

// BookingRequest is a provider booking creation call.
type BookingRequest struct {
	EventTypeID      int               `json:"eventTypeId,omitempty"`
	EventTypeSlug    string            `json:"eventTypeSlug,omitempty"`
	Username         string            `json:"username,omitempty"`
	TeamSlug         string            `json:"teamSlug,omitempty"`
	OrganizationSlug string            `json:"organizationSlug,omitempty"`
	Start            string            `json:"start"`
	LengthInMinutes  int               `json:"lengthInMinutes,omitempty"`
	Attendee         Attendee          `json:"attendee"`
	Guests           []string          `json:"guests,omitempty"`
	Location         string            `json:"location,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Attendee identifies the person the booking is for.
type Attendee struct {
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	TimeZone    string `json:"timeZone,omitempty"`
	Language    string `json:"language,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// RescheduleRequest moves an existing provider booking.
type RescheduleRequest struct {
	BookingUID         string `json:"-"`
	Start              string `json:"start"`
	RescheduledBy      string `json:"rescheduledBy,omitempty"`
	ReschedulingReason string `json:"reschedulingReason,omitempty"`
}

// CancelRequest cancels an existing provider booking.
type CancelRequest struct {
	BookingUID         string `json:"-"`
	CancellationReason string `json:"cancellationReason,omitempty"`
}

// SlotsQuery asks the provider for availability in [Start, End).
type SlotsQuery struct {
	EventTypeID      int
	EventTypeSlug    string
	Username         string
	TeamSlug         string
	OrganizationSlug string
	Start            time.Time
	End              time.Time
	TimeZone         string
	DurationMinutes  int
}

// BookingResult is the provider's view of a booking after a mutation.
type BookingResult struct {
	UID    string `json:"uid"`
	Status string `json:"status,omitempty"`
	Start  string `json:"start,omitempty"`
	Mocked bool   `json:"-"`
}

// Overrides carries the per-tenant provider credentials. Empty fields fall
// back to the platform config.
type Overrides struct {
	APIBase    string
	APIKey     string
	APIVersion string
}

// Provider is the calendar surface the booking orchestrator and the slot
// engine consume.
type Provider interface {
	CreateBooking(ctx context.Context, req BookingRequest, ov Overrides) (*BookingResult, error)
	RescheduleBooking(ctx context.Context, req RescheduleRequest, ov Overrides) (*BookingResult, error)
	CancelBooking(ctx context.Context, req CancelRequest, ov Overrides) (*BookingResult, error)
	AvailableSlots(ctx context.Context, q SlotsQuery, ov Overrides) ([]types.Slot, error)
}

// Client talks to the real provider through the resilient base client.
type Client struct {
	base *external.BaseClient
	cfg  config.CalendarConfig
}

// NewClient creates a provider client. When cfg.Mock is set the client
// fabricates successful responses without network calls; NewProvider below
// selects accordingly.
func NewClient(cfg config.CalendarConfig, opts ...external.BaseClientOption) *Client {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	base := external.NewBaseClient(
		httpClient,
		"calendar",
		external.DefaultRetryPolicy(),
		types.ErrCodeUpstreamCalendar,
		opts...,
	)
	return &Client{base: base, cfg: cfg}
}

// NewProvider returns the mock provider when configured, the real client
// otherwise.
func NewProvider(cfg config.CalendarConfig) Provider {
	if cfg.Mock {
		return &MockProvider{}
	}
	return NewClient(cfg)
}

// CreateBooking creates a booking with the provider.
func (c *Client) CreateBooking(ctx context.Context, req BookingRequest, ov Overrides) (*BookingResult, error) {
	var out struct {
		Status string        `json:"status"`
		Data   BookingResult `json:"data"`
	}
	if err := c.call(ctx, http.MethodPost, "/bookings", nil, req, ov, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// RescheduleBooking moves a booking to a new start.
func (c *Client) RescheduleBooking(ctx context.Context, req RescheduleRequest, ov Overrides) (*BookingResult, error) {
	var out struct {
		Status string        `json:"status"`
		Data   BookingResult `json:"data"`
	}
	path := "/bookings/" + url.PathEscape(req.BookingUID) + "/reschedule"
	if err := c.call(ctx, http.MethodPost, path, nil, req, ov, &out); err != nil {
		return nil, err
	}
	if out.Data.UID == "" {
		out.Data.UID = req.BookingUID
	}
	return &out.Data, nil
}

// CancelBooking cancels a booking.
func (c *Client) CancelBooking(ctx context.Context, req CancelRequest, ov Overrides) (*BookingResult, error) {
	var out struct {
		Status string        `json:"status"`
		Data   BookingResult `json:"data"`
	}
	path := "/bookings/" + url.PathEscape(req.BookingUID) + "/cancel"
	if err := c.call(ctx, http.MethodPost, path, nil, req, ov, &out); err != nil {
		return nil, err
	}
	if out.Data.UID == "" {
		out.Data.UID = req.BookingUID
	}
	return &out.Data, nil
}

// AvailableSlots returns the provider's free ranges, flattened and sorted
// the way the provider returns them (grouped by day).
func (c *Client) AvailableSlots(ctx context.Context, q SlotsQuery, ov Overrides) ([]types.Slot, error) {
	params := url.Values{}
	params.Set("start", q.Start.UTC().Format(time.RFC3339))
	params.Set("end", q.End.UTC().Format(time.RFC3339))
	params.Set("format", "range")
	if q.EventTypeID != 0 {
		params.Set("eventTypeId", strconv.Itoa(q.EventTypeID))
	}
	if q.EventTypeSlug != "" {
		params.Set("eventTypeSlug", q.EventTypeSlug)
	}
	if q.Username != "" {
		params.Set("username", q.Username)
	}
	if q.TeamSlug != "" {
		params.Set("teamSlug", q.TeamSlug)
	}
	if q.OrganizationSlug != "" {
		params.Set("organizationSlug", q.OrganizationSlug)
	}
	if q.TimeZone != "" {
		params.Set("timeZone", q.TimeZone)
	}
	if q.DurationMinutes != 0 {
		params.Set("duration", strconv.Itoa(q.DurationMinutes))
	}

	var out struct {
		Status string `json:"status"`
		Data   map[string][]struct {
			Start string `json:"start"`
			End   string `json:"end"`
		} `json:"data"`
	}
	if err := c.call(ctx, http.MethodGet, "/slots", params, nil, ov, &out); err != nil {
		return nil, err
	}

	var slots []types.Slot
	for _, day := range out.Data {
		for _, s := range day {
			start, err := time.Parse(time.RFC3339, s.Start)
			if err != nil {
				continue
			}
			var end time.Time
			if s.End != "" {
				end, _ = time.Parse(time.RFC3339, s.End)
			}
			slots = append(slots, types.Slot{Start: start.UTC(), End: end.UTC()})
		}
	}
	return slots, nil
}

// call performs one provider request and decodes its JSON response.
// Non-2xx responses surface as upstream errors with the provider's body
// attached for diagnosis.
func (c *Client) call(ctx context.Context, method, path string, params url.Values, body any, ov Overrides, out any) error {
	apiBase := ov.APIBase
	if apiBase == "" {
		apiBase = c.cfg.APIBase
	}
	apiKey := ov.APIKey
	if apiKey == "" {
		apiKey = c.cfg.APIKey.Unmask()
	}
	apiVersion := ov.APIVersion
	if apiVersion == "" {
		apiVersion = c.cfg.APIVersion
	}
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	if apiBase == "" || apiKey == "" {
		return types.NewAppError(types.ErrCodeValidationTenantConfig, "calendar provider base or key is not configured", nil)
	}

	endpoint := normalizeBase(apiBase) + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode provider request", err)
		}
		reqBody = strings.NewReader(string(raw))
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build provider request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("cal-api-version", apiVersion)

	resp, err := c.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamCalendar, "failed to read provider response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamCalendar,
			fmt.Sprintf("calendar provider returned %d", resp.StatusCode),
			nil,
			map[string]any{"body": truncateBody(raw)},
		)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return types.NewAppError(types.ErrCodeUpstreamCalendar, "failed to decode provider response", err)
		}
	}
	return nil
}

// normalizeBase accepts bases with or without the /v2 suffix and with the
// legacy /bookings tail some tenants configured.
func normalizeBase(base string) string {
	trimmed := strings.TrimRight(base, "/")
	trimmed = strings.TrimSuffix(trimmed, "/bookings")
	if strings.HasSuffix(trimmed, "/v2") {
		return trimmed
	}
	return trimmed + "/v2"
}

func truncateBody(raw []byte) string {
	const limit = 512
	if len(raw) <= limit {
		return string(raw)
	}
	return string(raw[:limit]) + "..."
}
