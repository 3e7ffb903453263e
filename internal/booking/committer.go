// Package booking commits a chosen slot in two phases: a temporary upstream
// hold, then the appointment itself. All progress is recorded on the call
// state so a repeated or interrupted turn never books twice.
package booking

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/dental-scheduling-assistant/internal/apperr"
	"github.com/wolfman30/dental-scheduling-assistant/internal/bookings"
	"github.com/wolfman30/dental-scheduling-assistant/internal/callstate"
	"github.com/wolfman30/dental-scheduling-assistant/internal/nexhealth"
	"github.com/wolfman30/dental-scheduling-assistant/internal/notify"
	"github.com/wolfman30/dental-scheduling-assistant/internal/practice"
	"github.com/wolfman30/dental-scheduling-assistant/internal/slots"
	"github.com/wolfman30/dental-scheduling-assistant/pkg/logging"
)

// DefaultHoldTTL is how long a hold is trusted before booking must start over.
const DefaultHoldTTL = 10 * time.Minute

var tracer = otel.Tracer("dental.internal.booking")

// ErrPatientRequired is returned by Hold and Book until the caller has been
// identified or registered. The selection is kept.
var ErrPatientRequired = apperr.Validation("booking: patient identity required")

// Upstream is the part of the NexHealth client used for committing.
type Upstream interface {
	HoldSlot(ctx context.Context, subdomain string, locationID int, req nexhealth.HoldRequest) (*nexhealth.Hold, error)
	CreateAppointment(ctx context.Context, subdomain string, locationID int, req nexhealth.AppointmentRequest) (*nexhealth.Appointment, error)
}

// RecordLog receives completed bookings.
type RecordLog interface {
	Record(ctx context.Context, rec bookings.Record) error
}

// Notifier enqueues the patient confirmation.
type Notifier interface {
	PublishBookingConfirmed(ctx context.Context, evt notify.BookingConfirmed) error
}

// Confirmation describes a booked appointment.
type Confirmation struct {
	BookingID string
	Slot      slots.SlotData
	When      string
	// Replayed is set when the booking already existed and nothing was sent upstream.
	Replayed bool
}

type Committer struct {
	api      Upstream
	holdTTL  time.Duration
	records  RecordLog
	notifier Notifier
	logger   *logging.Logger
	now      func() time.Time
}

func NewCommitter(api Upstream, holdTTL time.Duration, logger *logging.Logger) *Committer {
	if api == nil {
		panic("booking: upstream client required")
	}
	if holdTTL <= 0 {
		holdTTL = DefaultHoldTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Committer{api: api, holdTTL: holdTTL, logger: logger, now: time.Now}
}

func (c *Committer) WithRecordLog(l RecordLog) *Committer {
	c.records = l
	return c
}

func (c *Committer) WithNotifier(n Notifier) *Committer {
	c.notifier = n
	return c
}

func (c *Committer) WithClock(now func() time.Time) *Committer {
	if now != nil {
		c.now = now
	}
	return c
}

// Select records the caller's choice. The slot must be one of the presented
// slots; the stored value is the presented element, not the argument.
func (c *Committer) Select(st *callstate.State, slot slots.SlotData) error {
	if st.IsBooked() {
		return apperr.Validation("booking: call already has a confirmed booking")
	}
	for _, presented := range st.Booking.PresentedSlots {
		if presented.Equal(slot) {
			chosen := presented.Clone()
			st.ClearSelection()
			st.Booking.SelectedSlot = &chosen
			st.Booking.PresentedSlots = []slots.SlotData{}
			st.LastAction = callstate.ActionSlotSelected
			return nil
		}
	}
	return apperr.Validation("booking: slot %s was not offered", slot.Time)
}

// Hold reserves the selected slot for the identified patient. An active hold
// is reused. On a conflict the selection is cleared.
func (c *Committer) Hold(ctx context.Context, p *practice.Practice, st *callstate.State) (err error) {
	ctx, span := tracer.Start(ctx, "booking.hold")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("dental.call_id", st.CallID))

	if st.IsBooked() {
		return nil
	}
	slot := st.Booking.SelectedSlot
	if slot == nil {
		return apperr.Validation("booking: no slot selected")
	}
	if !st.HasPatient() {
		return ErrPatientRequired
	}
	now := c.now()
	if st.HoldActive(now) {
		return nil
	}
	if err := p.ValidateUpstream(); err != nil {
		return err
	}
	duration, err := appointmentDuration(p, st)
	if err != nil {
		return err
	}

	hold, err := c.api.HoldSlot(ctx, p.NexHealthSubdomain, locationFor(p, *slot), nexhealth.HoldRequest{
		PatientID:       *st.Patient.ID,
		ProviderID:      slot.ProviderID,
		OperatoryID:     slot.Operatory(),
		StartTime:       slot.Time,
		DurationMinutes: duration,
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindSlotConflict {
			st.ClearSelection()
			st.LastAction = callstate.ActionSlotConflict
			c.logger.Info("slot taken before hold", "call_id", st.CallID, "slot", slot.Time)
		}
		return err
	}

	expires := now.Add(c.holdTTL).UTC()
	st.Booking.HeldSlotID = strconv.Itoa(hold.ID)
	st.Booking.HeldSlotExpiresAt = &expires
	st.LastAction = callstate.ActionSlotHeld
	c.logger.Info("slot held", "call_id", st.CallID, "hold_id", hold.ID, "expires_at", expires)
	return nil
}

// Book converts the hold into an appointment. A call that already has a
// confirmed booking returns it without contacting NexHealth.
func (c *Committer) Book(ctx context.Context, p *practice.Practice, st *callstate.State) (conf *Confirmation, err error) {
	ctx, span := tracer.Start(ctx, "booking.book")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("dental.call_id", st.CallID))

	loc := p.Location()
	if st.IsBooked() {
		out := &Confirmation{BookingID: st.Booking.ConfirmedBookingID, Replayed: true}
		if st.Booking.SelectedSlot != nil {
			out.Slot = st.Booking.SelectedSlot.Clone()
			out.When = slots.FormatForSpeech(out.Slot, loc)
		}
		return out, nil
	}

	slot := st.Booking.SelectedSlot
	if slot == nil {
		return nil, apperr.Validation("booking: no slot selected")
	}
	if !st.HasPatient() {
		return nil, ErrPatientRequired
	}
	if st.Booking.HeldSlotID == "" {
		return nil, apperr.Validation("booking: slot %s is not held", slot.Time)
	}
	if !st.HoldActive(c.now()) {
		heldID := st.Booking.HeldSlotID
		st.ClearSelection()
		st.LastAction = callstate.ActionHoldExpired
		return nil, apperr.New(apperr.KindHoldExpired, "booking: hold %s expired", heldID)
	}
	if err := p.ValidateUpstream(); err != nil {
		return nil, err
	}
	duration, err := appointmentDuration(p, st)
	if err != nil {
		return nil, err
	}
	start, err := slot.Start(loc)
	if err != nil {
		return nil, apperr.Validation("booking: %v", err)
	}
	holdID, _ := strconv.Atoi(st.Booking.HeldSlotID)

	appt, err := c.api.CreateAppointment(ctx, p.NexHealthSubdomain, locationFor(p, *slot), nexhealth.AppointmentRequest{
		PatientID:   *st.Patient.ID,
		ProviderID:  slot.ProviderID,
		OperatoryID: slot.Operatory(),
		StartTime:   slot.Time,
		EndTime:     start.Add(time.Duration(duration) * time.Minute).Format(time.RFC3339),
		Note:        st.Booking.AppointmentLabel() + " (booked by phone assistant)",
		HoldID:      holdID,
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindSlotConflict {
			st.ClearSelection()
			st.LastAction = callstate.ActionSlotConflict
			c.logger.Info("slot taken before booking", "call_id", st.CallID, "slot", slot.Time)
		}
		return nil, err
	}

	booked := slot.Clone()
	st.Booking.ConfirmedBookingID = strconv.Itoa(appt.ID)
	st.Stage = callstate.StageBooked
	st.LastAction = callstate.ActionBookingConfirmed
	span.SetAttributes(attribute.String("dental.booking_id", st.Booking.ConfirmedBookingID))
	c.logger.Info("appointment booked", "call_id", st.CallID, "practice_id", p.ID, "booking_id", st.Booking.ConfirmedBookingID)

	conf = &Confirmation{
		BookingID: st.Booking.ConfirmedBookingID,
		Slot:      booked,
		When:      slots.FormatForSpeech(booked, loc),
	}
	c.afterBooking(ctx, p, st, conf, start)
	return conf, nil
}

// afterBooking writes the booking record and queues the confirmation. Neither
// can undo a booking, so failures are only logged.
func (c *Committer) afterBooking(ctx context.Context, p *practice.Practice, st *callstate.State, conf *Confirmation, start time.Time) {
	if c.records != nil {
		rec := bookings.Record{
			CallID:              st.CallID,
			PracticeID:          p.ID,
			PatientID:           *st.Patient.ID,
			PatientName:         st.Patient.FullName(),
			PatientPhone:        st.Patient.Phone,
			PatientEmail:        st.Patient.Email,
			AppointmentTypeID:   st.Booking.AppointmentTypeID,
			AppointmentTypeName: st.Booking.AppointmentTypeName,
			ProviderID:          conf.Slot.ProviderID,
			OperatoryID:         conf.Slot.Operatory(),
			StartTime:           start.UTC(),
			ExternalBookingID:   conf.BookingID,
		}
		if err := c.records.Record(ctx, rec); err != nil {
			c.logger.Warn("booking record failed", "call_id", st.CallID, "booking_id", conf.BookingID, "error", err)
		}
	}
	if c.notifier != nil {
		evt := notify.BookingConfirmed{
			BookingID:       conf.BookingID,
			CallID:          st.CallID,
			PracticeID:      p.ID,
			PracticeName:    p.Name,
			OfficePhone:     p.OfficePhone,
			PatientName:     st.Patient.FullName(),
			PatientEmail:    st.Patient.Email,
			AppointmentType: st.Booking.AppointmentLabel(),
			When:            conf.When,
		}
		if err := c.notifier.PublishBookingConfirmed(ctx, evt); err != nil {
			c.logger.Warn("booking confirmation enqueue failed", "call_id", st.CallID, "booking_id", conf.BookingID, "error", err)
		}
	}
}

func appointmentDuration(p *practice.Practice, st *callstate.State) (int, error) {
	if st.Booking.Duration > 0 {
		return st.Booking.Duration, nil
	}
	if t, ok := p.AppointmentType(st.Booking.AppointmentTypeID); ok && t.DurationMinutes > 0 {
		return t.DurationMinutes, nil
	}
	return 0, apperr.Validation("booking: appointment type not chosen")
}

func locationFor(p *practice.Practice, slot slots.SlotData) int {
	if slot.LocationID != nil && *slot.LocationID > 0 {
		return *slot.LocationID
	}
	return p.NexHealthLocationID
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
	}
	span.End()
}
