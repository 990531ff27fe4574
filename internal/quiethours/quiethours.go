// Package quiethours computes the do-not-disturb window for marketing
// traffic. The window is expressed in local hours of the recipient's
// timezone as [Start, End): a message at exactly the start hour is quiet,
// a message at exactly the end hour is allowed.
package quiethours

import "time"

// Window is a local-hour quiet window. Start > End means the window wraps
// midnight (the default, 22 to 9, covers 22:00 through 08:59).
type Window struct {
	Start int
	End   int
}

// DefaultWindow is the platform default quiet window.
var DefaultWindow = Window{Start: 22, End: 9}

// Contains reports whether t falls inside the quiet window, evaluated in
// t's location. A degenerate window with Start == End never matches.
func (w Window) Contains(t time.Time) bool {
	if w.Start == w.End {
		return false
	}
	h := t.Hour()
	if w.Start < w.End {
		return h >= w.Start && h < w.End
	}
	return h >= w.Start || h < w.End
}

// NextAllowed returns the earliest time at or after t outside the quiet
// window, aligned to the top of the hour when t had to move. Times already
// outside the window are returned unchanged.
//
// The shift walks hour by hour so DST transitions resolve through the
// location instead of fixed offsets. The walk is bounded: a window that
// somehow covers every hour yields t shifted by the bound rather than an
// infinite loop.
func (w Window) NextAllowed(t time.Time) time.Time {
	if !w.Contains(t) {
		return t
	}
	// Align to the local top of the hour; Truncate would align to UTC
	// hours and miss zones with fractional offsets.
	shifted := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
	for i := 0; i < 48; i++ {
		shifted = shifted.Add(time.Hour)
		if !w.Contains(shifted) {
			return shifted
		}
	}
	return shifted
}

// ContainsIn evaluates the window with t viewed in the named IANA timezone.
// An empty or unknown name falls back to UTC so a bad tenant config degrades
// to a deterministic result instead of an error on every send.
func (w Window) ContainsIn(t time.Time, tz string) bool {
	return w.Contains(t.In(location(tz)))
}

// NextAllowedIn returns the earliest allowed time with the window evaluated
// in the named IANA timezone. The result keeps the resolved location.
func (w Window) NextAllowedIn(t time.Time, tz string) time.Time {
	return w.NextAllowed(t.In(location(tz)))
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
