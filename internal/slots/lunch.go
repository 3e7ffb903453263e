package slots

import "time"

// The practice lunch break, local time.
const (
	lunchStartHour = 13
	lunchEndHour   = 14
)

// OverlapsLunch reports whether [start, start+duration) intersects the local
// 13:00-14:00 window. Touching the boundary is not an overlap: a slot ending at
// exactly 13:00 or starting at exactly 14:00 is kept.
func OverlapsLunch(start time.Time, duration time.Duration, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	local := start.In(loc)
	end := local.Add(duration)

	y, m, d := local.Date()
	lunchStart := time.Date(y, m, d, lunchStartHour, 0, 0, 0, loc)
	lunchEnd := time.Date(y, m, d, lunchEndHour, 0, 0, 0, loc)
	return local.Before(lunchEnd) && end.After(lunchStart)
}

// ExcludeLunch drops every slot whose interval overlaps lunch.
func ExcludeLunch(list []SlotData, duration time.Duration, loc *time.Location) []SlotData {
	out := make([]SlotData, 0, len(list))
	for _, s := range list {
		t, err := s.Start(loc)
		if err != nil {
			continue
		}
		if OverlapsLunch(t, duration, loc) {
			continue
		}
		out = append(out, s)
	}
	return out
}
