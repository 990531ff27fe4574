package calendar

import (
	"context"
	"fmt"
	"time"

	"saloncore/internal/types"
)

// MockProvider fabricates successful provider responses for local
// development and demo environments without provider credentials.
type MockProvider struct{}

// CreateBooking returns a synthetic booking UID.
func (*MockProvider) CreateBooking(_ context.Context, req BookingRequest, _ Overrides) (*BookingResult, error) {
	return &BookingResult{
		UID:    fmt.Sprintf("mock-%d", time.Now().UnixMilli()),
		Status: "created",
		Start:  req.Start,
		Mocked: true,
	}, nil
}

// RescheduleBooking echoes the request as a success.
func (*MockProvider) RescheduleBooking(_ context.Context, req RescheduleRequest, _ Overrides) (*BookingResult, error) {
	return &BookingResult{UID: req.BookingUID, Status: "rescheduled", Start: req.Start, Mocked: true}, nil
}

// CancelBooking echoes the request as a success.
func (*MockProvider) CancelBooking(_ context.Context, req CancelRequest, _ Overrides) (*BookingResult, error) {
	return &BookingResult{UID: req.BookingUID, Status: "cancelled", Mocked: true}, nil
}

// AvailableSlots returns no availability.
func (*MockProvider) AvailableSlots(context.Context, SlotsQuery, Overrides) ([]types.Slot, error) {
	return nil, nil
}
