package slots

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/dental-scheduling-assistant/internal/apperr"
	"github.com/wolfman30/dental-scheduling-assistant/internal/nexhealth"
	"github.com/wolfman30/dental-scheduling-assistant/internal/practice"
	"github.com/wolfman30/dental-scheduling-assistant/pkg/logging"
)

var slotsTracer = otel.Tracer("dental.internal.slots")

const (
	// windowDays is the widest range one upstream availability query may cover.
	windowDays = 14
	// DefaultSearchDays applies when the caller does not say how far to look.
	DefaultSearchDays = 7
	// MaxSearchDays caps a single search.
	MaxSearchDays = 30
	// defaultDuration is used when an appointment type has no duration configured.
	defaultDuration = 30 * time.Minute
)

// Scheduler is the slice of the NexHealth client the engine needs.
type Scheduler interface {
	ListAvailableSlots(ctx context.Context, q nexhealth.SlotQuery) ([]nexhealth.SlotGroup, error)
}

// Result is the outcome of an availability search.
type Result struct {
	FoundSlots        []SlotData        `json:"foundSlots"`
	NextAvailableDate *string           `json:"nextAvailableDate"`
	Days              []DayAvailability `json:"days,omitempty"`
}

// Engine computes bookable slots for an appointment type.
type Engine struct {
	scheduler Scheduler
	directory practice.Directory
	logger    *logging.Logger
	now       func() time.Time
}

// NewEngine constructs a slot search engine.
func NewEngine(scheduler Scheduler, directory practice.Directory, logger *logging.Logger) *Engine {
	if scheduler == nil {
		panic("slots: scheduler required")
	}
	if directory == nil {
		panic("slots: practice directory required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{scheduler: scheduler, directory: directory, logger: logger, now: time.Now}
}

// WithClock overrides the engine's notion of "now". Used by tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// FindAvailableSlots searches [startDate, startDate+searchDays) for open times of the
// appointment type. startDate is YYYY-MM-DD in the practice timezone; empty means today.
// The call has no side effects.
func (e *Engine) FindAvailableSlots(ctx context.Context, appointmentTypeID string, p *practice.Practice, startDate string, searchDays int) (*Result, error) {
	ctx, span := slotsTracer.Start(ctx, "slots.find_available", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	if err := p.ValidateUpstream(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	apptType, ok := p.AppointmentType(appointmentTypeID)
	if !ok {
		err := apperr.NotFound("appointment type %s", appointmentTypeID)
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("dental.practice_id", p.ID),
		attribute.String("dental.appointment_type_id", appointmentTypeID),
	)

	loc := p.Location()
	now := e.now().In(loc)
	start, err := resolveStartDate(startDate, now, loc)
	if err != nil {
		return nil, err
	}
	searchDays = clampSearchDays(searchDays)

	resources, err := e.directory.EligibleResources(ctx, p.ID, appointmentTypeID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	duration := time.Duration(apptType.DurationMinutes) * time.Minute
	if duration <= 0 {
		duration = defaultDuration
	}

	groups, err := e.fetchWindows(ctx, p, resources, start, searchDays, int(duration/time.Minute))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "availability query failed")
		return nil, err
	}

	merged, upstreamNext := e.merge(groups)
	SortByTime(merged, loc)

	upcoming := make([]SlotData, 0, len(merged))
	for _, s := range merged {
		t, err := s.Start(loc)
		if err != nil {
			e.logger.Warn("dropping unparseable slot", "time", s.Time, "error", err)
			continue
		}
		if !t.Before(now) {
			upcoming = append(upcoming, s)
		}
	}
	found := ExcludeLunch(upcoming, duration, loc)

	result := &Result{FoundSlots: found, Days: SummarizeDays(found, loc)}
	if len(found) > 0 {
		t, _ := found[0].Start(loc)
		date := t.Format("2006-01-02")
		result.NextAvailableDate = &date
	} else if upstreamNext != "" {
		result.NextAvailableDate = &upstreamNext
	}

	span.SetAttributes(attribute.Int("dental.slots_found", len(found)))
	e.logger.Debug("slot search complete",
		"practice_id", p.ID,
		"appointment_type_id", appointmentTypeID,
		"start_date", start.Format("2006-01-02"),
		"search_days", searchDays,
		"raw_slots", len(merged),
		"found_slots", len(found),
	)
	return result, nil
}

// fetchWindows splits the range into windows of at most windowDays and queries
// them concurrently. Results keep window order.
func (e *Engine) fetchWindows(ctx context.Context, p *practice.Practice, res *practice.Resources, start time.Time, days, slotLength int) ([]nexhealth.SlotGroup, error) {
	type window struct {
		start string
		days  int
	}
	var windows []window
	for offset := 0; offset < days; offset += windowDays {
		n := windowDays
		if days-offset < n {
			n = days - offset
		}
		windows = append(windows, window{start: start.AddDate(0, 0, offset).Format("2006-01-02"), days: n})
	}

	results := make([][]nexhealth.SlotGroup, len(windows))
	g, gctx := errgroup.WithContext(ctx)
	for i, w := range windows {
		i, w := i, w
		g.Go(func() error {
			groups, err := e.scheduler.ListAvailableSlots(gctx, nexhealth.SlotQuery{
				Subdomain:         p.NexHealthSubdomain,
				LocationID:        p.NexHealthLocationID,
				ProviderIDs:       res.ProviderIDs(),
				OperatoryIDs:      res.OperatoryIDs(),
				StartDate:         w.start,
				Days:              w.days,
				SlotLengthMinutes: slotLength,
			})
			if err != nil {
				return err
			}
			results[i] = groups
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if apperr.KindOf(err) == apperr.KindUnknown {
			return nil, apperr.Upstream(err, "list available slots")
		}
		return nil, err
	}

	var all []nexhealth.SlotGroup
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

// merge flattens per-provider groups into tagged slots, dropping duplicates, and
// returns the earliest next_available_date reported upstream.
func (e *Engine) merge(groups []nexhealth.SlotGroup) ([]SlotData, string) {
	seen := make(map[string]struct{})
	var out []SlotData
	next := ""
	for _, g := range groups {
		if d := strings.TrimSpace(g.NextAvailableDate); d != "" {
			if len(d) > 10 {
				d = d[:10]
			}
			if next == "" || d < next {
				next = d
			}
		}
		for _, raw := range g.Slots {
			s := SlotData{Time: raw.Time, ProviderID: g.ProviderID}
			if raw.OperatoryID != 0 {
				op := raw.OperatoryID
				s.OperatoryID = &op
			}
			if g.LocationID != 0 {
				lid := g.LocationID
				s.LocationID = &lid
			}
			key := s.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, s)
		}
	}
	return out, next
}

func resolveStartDate(raw string, now time.Time, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc), nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		return time.Time{}, apperr.Validation("startDate %q must be YYYY-MM-DD", raw)
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if t.Before(today) {
		return today, nil
	}
	return t, nil
}

func clampSearchDays(days int) int {
	switch {
	case days <= 0:
		return DefaultSearchDays
	case days > MaxSearchDays:
		return MaxSearchDays
	default:
		return days
	}
}

// Present selects up to max slots for the caller, spread across days two at a time.
func Present(list []SlotData, max int, loc *time.Location) []SlotData {
	return SpreadAcrossDays(list, max, 2, loc)
}

// Describe renders a numbered list for speech, e.g. "1. Monday, March 3 at 9:00 AM".
func Describe(list []SlotData, loc *time.Location) string {
	var sb strings.Builder
	for i, s := range list {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf("%d. %s", i+1, FormatForSpeech(s, loc)))
	}
	return sb.String()
}
