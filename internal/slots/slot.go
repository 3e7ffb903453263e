// Package slots finds bookable appointment times: it fans out availability
// queries to NexHealth, merges the per-provider grids, and applies the lunch
// break, time-of-day bucketing and practice-timezone rules.
package slots

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SlotData is one bookable start time. It is produced by the search engine and
// never modified afterwards; callers copy it by value.
type SlotData struct {
	Time        string `json:"time"` // ISO-8601 as returned upstream
	OperatoryID *int   `json:"operatory_id,omitempty"`
	ProviderID  int    `json:"providerId"`
	LocationID  *int   `json:"locationId,omitempty"`
}

// Key identifies a slot by time, provider and operatory.
func (s SlotData) Key() string {
	op := 0
	if s.OperatoryID != nil {
		op = *s.OperatoryID
	}
	return fmt.Sprintf("%s|%d|%d", s.Time, s.ProviderID, op)
}

// Equal reports whether two slots refer to the same bookable time.
func (s SlotData) Equal(other SlotData) bool {
	return s.Key() == other.Key()
}

// Operatory returns the operatory id or zero.
func (s SlotData) Operatory() int {
	if s.OperatoryID == nil {
		return 0
	}
	return *s.OperatoryID
}

// Clone returns a deep copy so the pointer fields are not shared.
func (s SlotData) Clone() SlotData {
	out := SlotData{Time: s.Time, ProviderID: s.ProviderID}
	if s.OperatoryID != nil {
		v := *s.OperatoryID
		out.OperatoryID = &v
	}
	if s.LocationID != nil {
		v := *s.LocationID
		out.LocationID = &v
	}
	return out
}

// Start parses the slot time into the given location.
func (s SlotData) Start(loc *time.Location) (time.Time, error) {
	return ParseSlotTime(s.Time, loc)
}

// Contains reports whether slot is one of list.
func Contains(list []SlotData, slot SlotData) bool {
	for _, s := range list {
		if s.Equal(slot) {
			return true
		}
	}
	return false
}

// ParseSlotTime parses a time string from the scheduling API into loc. Handles:
//   - RFC3339 with offset or fractional seconds: "2006-01-02T15:04:05.000-05:00"
//   - RFC3339 UTC: "2006-01-02T15:04:05Z"
//   - Naive datetime (no timezone): "2006-01-02T15:04:05", treated as practice local
func ParseSlotTime(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	raw = strings.TrimSpace(raw)

	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.In(loc), nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", raw, loc); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", raw, loc); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("slots: cannot parse slot time %q", raw)
}

// FormatForSpeech renders a slot as "Monday, March 3 at 9:00 AM" in loc.
func FormatForSpeech(s SlotData, loc *time.Location) string {
	t, err := s.Start(loc)
	if err != nil {
		return s.Time
	}
	return t.Format("Monday, January 2 at 3:04 PM")
}

// SortByTime orders slots chronologically, breaking ties by provider then operatory.
func SortByTime(list []SlotData, loc *time.Location) {
	sort.SliceStable(list, func(i, j int) bool {
		ti, erri := list[i].Start(loc)
		tj, errj := list[j].Start(loc)
		if erri == nil && errj == nil && !ti.Equal(tj) {
			return ti.Before(tj)
		}
		if list[i].ProviderID != list[j].ProviderID {
			return list[i].ProviderID < list[j].ProviderID
		}
		return list[i].Operatory() < list[j].Operatory()
	})
}

// SpreadAcrossDays picks at most total slots, no more than maxPerDay from any
// single local day, round-robin across days. Input must be sorted by time.
func SpreadAcrossDays(list []SlotData, total, maxPerDay int, loc *time.Location) []SlotData {
	if maxPerDay <= 0 {
		maxPerDay = total
	}

	type dayGroup struct {
		slots []SlotData
	}
	var days []dayGroup
	dayIndex := map[string]int{}
	for _, s := range list {
		t, err := s.Start(loc)
		if err != nil {
			continue
		}
		d := t.Format("2006-01-02")
		if idx, ok := dayIndex[d]; ok {
			days[idx].slots = append(days[idx].slots, s)
		} else {
			dayIndex[d] = len(days)
			days = append(days, dayGroup{slots: []SlotData{s}})
		}
	}

	var result []SlotData
	for round := 0; round < maxPerDay && len(result) < total; round++ {
		for i := range days {
			if round < len(days[i].slots) && len(result) < total {
				result = append(result, days[i].slots[round])
			}
		}
	}
	SortByTime(result, loc)
	return result
}
