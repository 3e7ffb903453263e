package slots

import (
	"strings"
	"time"
)

// Bucket is a named local time-of-day window.
type Bucket string

const (
	BucketEarly     Bucket = "early"
	BucketMorning   Bucket = "morning"
	BucketMidday    Bucket = "midday"
	BucketAfternoon Bucket = "afternoon"
	BucketEvening   Bucket = "evening"
	BucketLate      Bucket = "late"
	BucketAllDay    Bucket = "all_day"
)

type window struct {
	start, end int // minutes after local midnight; start inclusive, end exclusive
}

var bucketWindows = map[Bucket]window{
	BucketEarly:     {5 * 60, 8*60 + 30},
	BucketMorning:   {5 * 60, 12 * 60},
	BucketMidday:    {10 * 60, 15 * 60},
	BucketAfternoon: {12 * 60, 17 * 60},
	BucketEvening:   {15*60 + 30, 20 * 60},
	BucketLate:      {17 * 60, 22 * 60},
	BucketAllDay:    {5 * 60, 22 * 60},
}

// AllBuckets lists buckets in presentation order.
var AllBuckets = []Bucket{BucketEarly, BucketMorning, BucketMidday, BucketAfternoon, BucketEvening, BucketLate, BucketAllDay}

// PrimaryBuckets are the coarse choices offered before exact times.
var PrimaryBuckets = []Bucket{BucketMorning, BucketAfternoon, BucketEvening}

// ParseBucket accepts loose spellings such as "Mornings", "all day" or "anytime".
func ParseBucket(raw string) (Bucket, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimSuffix(s, "s")
	s = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
	switch s {
	case "early", "earlymorning":
		return BucketEarly, true
	case "morning", "am":
		return BucketMorning, true
	case "midday", "noon", "lunchtime":
		return BucketMidday, true
	case "afternoon":
		return BucketAfternoon, true
	case "evening":
		return BucketEvening, true
	case "late", "night", "lateevening":
		return BucketLate, true
	case "allday", "anytime", "any", "":
		return BucketAllDay, true
	}
	return "", false
}

// Contains reports whether t (already in practice local time) starts inside the bucket.
func (b Bucket) Contains(t time.Time) bool {
	w, ok := bucketWindows[b]
	if !ok {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	return m >= w.start && m < w.end
}

// BucketsFor returns every bucket the local time belongs to.
func BucketsFor(t time.Time) []Bucket {
	var out []Bucket
	for _, b := range AllBuckets {
		if b.Contains(t) {
			out = append(out, b)
		}
	}
	return out
}

// FilterByBucket keeps slots whose local start time falls in the bucket.
func FilterByBucket(list []SlotData, b Bucket, loc *time.Location) []SlotData {
	var out []SlotData
	for _, s := range list {
		t, err := s.Start(loc)
		if err != nil {
			continue
		}
		if b.Contains(t) {
			out = append(out, s)
		}
	}
	return out
}

// DayAvailability reports which primary buckets have at least one slot on a local date.
type DayAvailability struct {
	Date      string `json:"date"`
	Morning   bool   `json:"morning"`
	Afternoon bool   `json:"afternoon"`
	Evening   bool   `json:"evening"`
}

// Buckets returns the available primary buckets in order.
func (d DayAvailability) Buckets() []Bucket {
	var out []Bucket
	if d.Morning {
		out = append(out, BucketMorning)
	}
	if d.Afternoon {
		out = append(out, BucketAfternoon)
	}
	if d.Evening {
		out = append(out, BucketEvening)
	}
	return out
}

// SummarizeDays groups slots by local date. Input order is preserved for dates.
func SummarizeDays(list []SlotData, loc *time.Location) []DayAvailability {
	var out []DayAvailability
	index := map[string]int{}
	for _, s := range list {
		t, err := s.Start(loc)
		if err != nil {
			continue
		}
		date := t.Format("2006-01-02")
		i, ok := index[date]
		if !ok {
			i = len(out)
			index[date] = i
			out = append(out, DayAvailability{Date: date})
		}
		if BucketMorning.Contains(t) {
			out[i].Morning = true
		}
		if BucketAfternoon.Contains(t) {
			out[i].Afternoon = true
		}
		if BucketEvening.Contains(t) {
			out[i].Evening = true
		}
	}
	return out
}
