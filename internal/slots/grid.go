// Package slots implements slot-grid alignment and the suggestion engine
// that ranks provider availability around a client's preferred time.
package slots

import "time"

// IsAlignedToGrid reports whether t lands on the service's booking grid.
// Alignment is absolute: t's unix millisecond offset must be a multiple of
// the grid length, so a 15-minute grid admits :00/:15/:30/:45 regardless of
// timezone. Grids of one minute or less accept everything.
func IsAlignedToGrid(t time.Time, gridMinutes int) bool {
	if gridMinutes <= 1 {
		return true
	}
	gridMs := int64(gridMinutes) * 60_000
	return t.UnixMilli()%gridMs == 0
}
