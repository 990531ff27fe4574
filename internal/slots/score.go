package slots

import (
	"math"
	"sort"
	"strings"
	"time"

	"saloncore/internal/types"
)

// ScoreParams tunes the slot ranking heuristics.
type ScoreParams struct {
	// GridMinutes sets the packing horizon: a neighbor within two grid
	// lengths makes a slot "packed" and favored, filling gaps in the day.
	GridMinutes int
	// OffpeakMorningEnd and OffpeakEveningStart delimit the peak hours in
	// the client's local time; slots outside them get the offpeak bonus.
	OffpeakMorningEnd   int
	OffpeakEveningStart int
	// TimeZone is the client's IANA zone for local-hour and same-day
	// grouping. Empty means UTC.
	TimeZone string
}

// Score ranks the slots around preferred, highest score first with distance
// to preferred as the tie break. Scores combine three components:
//
//	packing   up to 0.5  the slot's nearest same-day neighbor is close,
//	                     so taking it keeps the calendar dense
//	offpeak   0.2        the slot falls outside peak hours
//	proximity up to 0.3  the slot is within two hours of the preference
//
// Each slot's Reason lists the components that contributed ("offpeak",
// "packed", "near", joined with "+"), or "ok" when none did.
func Score(slots []types.Slot, preferred time.Time, p ScoreParams) []types.Slot {
	loc := location(p.TimeZone)
	grid := p.GridMinutes
	if grid < 1 {
		grid = 1
	}

	// Group starts by local date for same-day gap computation.
	byDay := make(map[string][]time.Time)
	for _, s := range slots {
		key := s.Start.In(loc).Format("2006-01-02")
		byDay[key] = append(byDay[key], s.Start)
	}

	scored := make([]types.Slot, len(slots))
	for i, s := range slots {
		local := s.Start.In(loc)
		key := local.Format("2006-01-02")

		// Gap to the nearest other slot on the same day; a lone slot
		// counts as wide open.
		gapMinutes := 180.0
		for _, other := range byDay[key] {
			if other.Equal(s.Start) {
				continue
			}
			diff := math.Abs(other.Sub(s.Start).Minutes())
			if diff < gapMinutes {
				gapMinutes = diff
			}
		}
		gapDenom := float64(grid * 2)
		gapScore := clamp((gapDenom-gapMinutes)/gapDenom, 0, 0.5)

		offpeak := 0.0
		if hour := local.Hour(); hour < p.OffpeakMorningEnd || hour >= p.OffpeakEveningStart {
			offpeak = 0.2
		}

		distanceMinutes := math.Abs(s.Start.Sub(preferred).Minutes())
		proximity := clamp(1-distanceMinutes/120, 0, 1) * 0.3

		var reasons []string
		if offpeak > 0 {
			reasons = append(reasons, "offpeak")
		}
		if gapScore > 0.1 {
			reasons = append(reasons, "packed")
		}
		if proximity > 0.1 {
			reasons = append(reasons, "near")
		}
		reason := "ok"
		if len(reasons) > 0 {
			reason = strings.Join(reasons, "+")
		}

		scored[i] = types.Slot{
			Start:  s.Start,
			End:    s.End,
			Score:  clamp(gapScore+offpeak+proximity, 0, 1),
			Reason: reason,
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		di := math.Abs(scored[i].Start.Sub(preferred).Minutes())
		dj := math.Abs(scored[j].Start.Sub(preferred).Minutes())
		return di < dj
	})
	return scored
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func location(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
