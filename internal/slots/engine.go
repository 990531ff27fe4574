package slots

import (
	"context"
	"strconv"
	"time"

	"saloncore/internal/calendar"
	"saloncore/internal/config"
	"saloncore/internal/tenant"
	"saloncore/internal/types"
)

// SuggestionInput is one slot suggestion request. Explicit fields override
// the tenant's per-service config, which overrides platform defaults.
type SuggestionInput struct {
	TenantID         string
	ServiceID        string
	PreferredTime    time.Time
	TimeZone         string
	EventTypeID      int
	EventTypeSlug    string
	Username         string
	TeamSlug         string
	OrganizationSlug string
	DurationMinutes  int
	BufferMinutes    int
	GridMinutes      int
	Start            time.Time
	End              time.Time
	Limit            int
}

// Engine queries the calendar provider for availability and ranks it.
type Engine struct {
	provider   calendar.Provider
	resolver   *tenant.Resolver
	scheduling config.SchedulingConfig
	strict     bool
}

// NewEngine creates a suggestion engine. strict controls whether an unknown
// tenant is an error or falls through to platform defaults.
func NewEngine(provider calendar.Provider, resolver *tenant.Resolver, scheduling config.SchedulingConfig, strict bool) *Engine {
	return &Engine{provider: provider, resolver: resolver, scheduling: scheduling, strict: strict}
}

// Suggest fetches availability over the horizon around the preferred time,
// drops slots off the booking grid, and returns the top suggestions ranked
// by score.
func (e *Engine) Suggest(ctx context.Context, in SuggestionInput) ([]types.Slot, error) {
	cfg, ok := e.resolver.Resolve(ctx, in.TenantID)
	if !ok && e.strict {
		return nil, types.NewAppError(types.ErrCodeAuthUnknownTenant, "unknown tenant", nil)
	}

	svc, _ := cfg.Service(in.ServiceID)

	duration := firstPositive(in.DurationMinutes, svc.DurationMinutes, e.scheduling.DefaultDurationMinutes)
	buffer := firstPositive(in.BufferMinutes, svc.BufferMinutes, e.scheduling.SlotBufferMinutes)
	grid := firstPositive(in.GridMinutes, svc.GridMinutes, e.scheduling.SlotGridMinutes)

	eventTypeID := in.EventTypeID
	if eventTypeID == 0 {
		eventTypeID = svc.EventTypeID
	}
	if eventTypeID == 0 {
		// A numeric service ID doubles as the event type for tenants that
		// never mapped services explicitly.
		if n, err := strconv.Atoi(in.ServiceID); err == nil {
			eventTypeID = n
		}
	}
	eventTypeSlug := firstNonEmpty(in.EventTypeSlug, svc.EventTypeSlug)
	username := firstNonEmpty(in.Username, svc.Username)
	teamSlug := firstNonEmpty(in.TeamSlug, svc.TeamSlug)
	orgSlug := firstNonEmpty(in.OrganizationSlug, svc.OrganizationSlug)

	if eventTypeID == 0 && eventTypeSlug == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "eventTypeId or eventTypeSlug is required", nil)
	}
	if eventTypeSlug != "" && username == "" && teamSlug == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "eventTypeSlug requires username or teamSlug", nil)
	}

	start := in.Start
	if start.IsZero() {
		start = in.PreferredTime
	}
	end := in.End
	if end.IsZero() {
		end = in.PreferredTime.Add(time.Duration(e.scheduling.SuggestHorizonDays) * 24 * time.Hour)
	}

	raw, err := e.provider.AvailableSlots(ctx, calendar.SlotsQuery{
		EventTypeID:      eventTypeID,
		EventTypeSlug:    eventTypeSlug,
		Username:         username,
		TeamSlug:         teamSlug,
		OrganizationSlug: orgSlug,
		Start:            start,
		End:              end,
		TimeZone:         in.TimeZone,
		DurationMinutes:  duration,
	}, calendarOverrides(cfg))
	if err != nil {
		return nil, err
	}

	aligned := make([]types.Slot, 0, len(raw))
	for _, s := range raw {
		if !IsAlignedToGrid(s.Start, grid) {
			continue
		}
		if s.End.IsZero() {
			s.End = s.Start.Add(time.Duration(duration+buffer) * time.Minute)
		}
		aligned = append(aligned, s)
	}

	scored := Score(aligned, in.PreferredTime, ScoreParams{
		GridMinutes:         grid,
		OffpeakMorningEnd:   e.scheduling.OffpeakMorningEndHour,
		OffpeakEveningStart: e.scheduling.OffpeakEveningStart,
		TimeZone:            in.TimeZone,
	})

	limit := in.Limit
	if limit <= 0 {
		limit = e.scheduling.SuggestLimit
	}
	if limit < 1 {
		limit = 1
	}
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// calendarOverrides extracts the tenant's provider credential overrides.
func calendarOverrides(cfg *types.TenantConfig) calendar.Overrides {
	if cfg == nil || cfg.Calendar == nil {
		return calendar.Overrides{}
	}
	return calendar.Overrides{
		APIBase:    cfg.Calendar.APIBase,
		APIKey:     cfg.Calendar.APIKey,
		APIVersion: cfg.Calendar.APIVersion,
	}
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
