package core

import (
	"net/http"
	"time"

	"saloncore/internal/booking"
	"saloncore/internal/slots"
	"saloncore/internal/tenant"
	"saloncore/internal/types"
)

type bookingCreateRequest struct {
	TenantID       string         `json:"tenantId,omitempty"`
	ServiceID      string         `json:"serviceId"`
	Start          string         `json:"start"`
	End            string         `json:"end,omitempty"`
	Name           string         `json:"name"`
	Phone          string         `json:"phone,omitempty"`
	Email          string         `json:"email,omitempty"`
	TimeZone       string         `json:"timeZone"`
	Language       string         `json:"language,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey"`
}

// HandleBookingCreate orchestrates a booking against the calendar provider.
func (s *Server) HandleBookingCreate(w http.ResponseWriter, r *http.Request) {
	var req bookingCreateRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	tenantID := tenant.ResolveID(r, req.TenantID, s.tenantIDOptions())

	start, err := parseOptionalTime(req.Start)
	if err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidTime, "start must be an ISO date-time", err))
		return
	}
	end, err := parseOptionalTime(req.End)
	if err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidTime, "end must be an ISO date-time", err))
		return
	}

	res, err := s.Bookings.Create(r.Context(), booking.CreateInput{
		TenantID:       tenantID,
		ServiceID:      req.ServiceID,
		Start:          start,
		End:            end,
		ClientName:     req.Name,
		ClientPhone:    req.Phone,
		ClientEmail:    req.Email,
		TimeZone:       req.TimeZone,
		Language:       req.Language,
		Metadata:       req.Metadata,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, res)
}

type bookingRescheduleRequest struct {
	TenantID      string `json:"tenantId,omitempty"`
	BookingID     string `json:"bookingId"`
	Start         string `json:"start"`
	ServiceID     string `json:"serviceId,omitempty"`
	Reason        string `json:"reason,omitempty"`
	RescheduledBy string `json:"rescheduledBy,omitempty"`
}

// HandleBookingReschedule moves an existing booking to a new grid-aligned
// start.
func (s *Server) HandleBookingReschedule(w http.ResponseWriter, r *http.Request) {
	var req bookingRescheduleRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	tenantID := tenant.ResolveID(r, req.TenantID, s.tenantIDOptions())

	start, err := parseOptionalTime(req.Start)
	if err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidTime, "start must be an ISO date-time", err))
		return
	}

	res, err := s.Bookings.Reschedule(r.Context(), booking.RescheduleInput{
		TenantID:      tenantID,
		BookingID:     req.BookingID,
		Start:         start,
		ServiceID:     req.ServiceID,
		Reason:        req.Reason,
		RescheduledBy: req.RescheduledBy,
	})
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, res)
}

type bookingCancelRequest struct {
	TenantID  string `json:"tenantId,omitempty"`
	BookingID string `json:"bookingId"`
	Reason    string `json:"reason,omitempty"`
}

// HandleBookingCancel cancels a booking and purges its pending reminders.
func (s *Server) HandleBookingCancel(w http.ResponseWriter, r *http.Request) {
	var req bookingCancelRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	tenantID := tenant.ResolveID(r, req.TenantID, s.tenantIDOptions())

	res, err := s.Bookings.Cancel(r.Context(), booking.CancelInput{
		TenantID:  tenantID,
		BookingID: req.BookingID,
		Reason:    req.Reason,
	})
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, res)
}

type slotsSuggestRequest struct {
	TenantID         string `json:"tenantId,omitempty"`
	ServiceID        string `json:"serviceId,omitempty"`
	PreferredTime    string `json:"preferredTime,omitempty"`
	TimeZone         string `json:"timeZone,omitempty"`
	EventTypeID      int    `json:"eventTypeId,omitempty"`
	EventTypeSlug    string `json:"eventTypeSlug,omitempty"`
	Username         string `json:"username,omitempty"`
	TeamSlug         string `json:"teamSlug,omitempty"`
	OrganizationSlug string `json:"organizationSlug,omitempty"`
	DurationMinutes  int    `json:"durationMinutes,omitempty"`
	BufferMinutes    int    `json:"bufferMinutes,omitempty"`
	GridMinutes      int    `json:"gridMinutes,omitempty"`
	Start            string `json:"start,omitempty"`
	End              string `json:"end,omitempty"`
	Limit            int    `json:"limit,omitempty"`
}

// HandleSlotsSuggest returns ranked open slots around the preferred time.
// Advisory only; it never writes state.
func (s *Server) HandleSlotsSuggest(w http.ResponseWriter, r *http.Request) {
	var req slotsSuggestRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	tenantID := tenant.ResolveID(r, req.TenantID, s.tenantIDOptions())

	preferred, err := parseOptionalTime(req.PreferredTime)
	if err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidTime, "preferredTime must be an ISO date-time", err))
		return
	}
	start, err := parseOptionalTime(req.Start)
	if err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidTime, "start must be an ISO date-time", err))
		return
	}
	end, err := parseOptionalTime(req.End)
	if err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidTime, "end must be an ISO date-time", err))
		return
	}

	ranked, err := s.Slots.Suggest(r.Context(), slots.SuggestionInput{
		TenantID:         tenantID,
		ServiceID:        req.ServiceID,
		PreferredTime:    preferred,
		TimeZone:         req.TimeZone,
		EventTypeID:      req.EventTypeID,
		EventTypeSlug:    req.EventTypeSlug,
		Username:         req.Username,
		TeamSlug:         req.TeamSlug,
		OrganizationSlug: req.OrganizationSlug,
		DurationMinutes:  req.DurationMinutes,
		BufferMinutes:    req.BufferMinutes,
		GridMinutes:      req.GridMinutes,
		Start:            start,
		End:              end,
		Limit:            req.Limit,
	})
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, map[string]any{"slots": ranked})
}

func parseOptionalTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
