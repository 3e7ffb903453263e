package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-scheduling-assistant/internal/apperr"
	"github.com/wolfman30/dental-scheduling-assistant/internal/bookings"
	"github.com/wolfman30/dental-scheduling-assistant/internal/callstate"
	"github.com/wolfman30/dental-scheduling-assistant/internal/nexhealth"
	"github.com/wolfman30/dental-scheduling-assistant/internal/notify"
	"github.com/wolfman30/dental-scheduling-assistant/internal/practice"
	"github.com/wolfman30/dental-scheduling-assistant/internal/slots"
)

type fakeUpstream struct {
	holds        []nexhealth.HoldRequest
	appointments []nexhealth.AppointmentRequest
	holdErr      error
	bookErr      error
}

func (f *fakeUpstream) HoldSlot(_ context.Context, _ string, _ int, req nexhealth.HoldRequest) (*nexhealth.Hold, error) {
	f.holds = append(f.holds, req)
	if f.holdErr != nil {
		return nil, f.holdErr
	}
	return &nexhealth.Hold{ID: 555}, nil
}

func (f *fakeUpstream) CreateAppointment(_ context.Context, _ string, _ int, req nexhealth.AppointmentRequest) (*nexhealth.Appointment, error) {
	f.appointments = append(f.appointments, req)
	if f.bookErr != nil {
		return nil, f.bookErr
	}
	return &nexhealth.Appointment{ID: 9001, StartTime: req.StartTime}, nil
}

type recordingLog struct {
	records []bookings.Record
	err     error
}

func (r *recordingLog) Record(_ context.Context, rec bookings.Record) error {
	r.records = append(r.records, rec)
	return r.err
}

type recordingNotifier struct {
	events []notify.BookingConfirmed
	err    error
}

func (r *recordingNotifier) PublishBookingConfirmed(_ context.Context, evt notify.BookingConfirmed) error {
	r.events = append(r.events, evt)
	return r.err
}

var testNow = time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC)

func testPractice() *practice.Practice {
	return &practice.Practice{
		ID:                  "prac-1",
		Name:                "Bright Smiles",
		Timezone:            "America/Chicago",
		NexHealthSubdomain:  "bright",
		NexHealthLocationID: 42,
		AppointmentTypes: []practice.AppointmentType{
			{ID: "type-clean", Name: "Cleaning", SpokenName: "teeth cleaning", DurationMinutes: 60, Active: true},
		},
	}
}

func intPtr(v int) *int { return &v }

func offeredSlots() []slots.SlotData {
	return []slots.SlotData{
		{Time: "2025-03-03T09:00:00-06:00", ProviderID: 101, OperatoryID: intPtr(7), LocationID: intPtr(42)},
		{Time: "2025-03-03T14:00:00-06:00", ProviderID: 101, OperatoryID: intPtr(7), LocationID: intPtr(42)},
	}
}

func newState() *callstate.State {
	st := callstate.New("call-1", "prac-1", testNow)
	st.Stage = callstate.StagePresentingSlots
	st.Booking.AppointmentTypeID = "type-clean"
	st.Booking.AppointmentTypeName = "Cleaning"
	st.Booking.SpokenName = "teeth cleaning"
	st.Booking.Duration = 60
	st.Booking.PresentedSlots = offeredSlots()
	return st
}

func identified(st *callstate.State) *callstate.State {
	st.Patient.ID = intPtr(12)
	st.Patient.FirstName = "Jane"
	st.Patient.LastName = "Doe"
	st.Patient.Email = "jane@example.com"
	st.Patient.Status = callstate.PatientIdentifiedExisting
	return st
}

func newTestCommitter(api *fakeUpstream) *Committer {
	return NewCommitter(api, 0, nil).WithClock(func() time.Time { return testNow })
}

func TestSelectRequiresPresentedSlot(t *testing.T) {
	c := newTestCommitter(&fakeUpstream{})
	st := newState()

	err := c.Select(st, slots.SlotData{Time: "2025-03-04T09:00:00-06:00", ProviderID: 101})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Nil(t, st.Booking.SelectedSlot)
	assert.Len(t, st.Booking.PresentedSlots, 2)

	require.NoError(t, c.Select(st, offeredSlots()[1]))
	require.NotNil(t, st.Booking.SelectedSlot)
	assert.Equal(t, "2025-03-03T14:00:00-06:00", st.Booking.SelectedSlot.Time)
	assert.Empty(t, st.Booking.PresentedSlots)
	assert.NotNil(t, st.Booking.PresentedSlots)
	assert.Equal(t, callstate.ActionSlotSelected, st.LastAction)
}

func TestHoldRequiresPatient(t *testing.T) {
	api := &fakeUpstream{}
	c := newTestCommitter(api)
	st := newState()
	require.NoError(t, c.Select(st, offeredSlots()[0]))

	err := c.Hold(context.Background(), testPractice(), st)
	assert.True(t, errors.Is(err, ErrPatientRequired))
	assert.NotNil(t, st.Booking.SelectedSlot)
	assert.Empty(t, api.holds)
}

func TestHoldStoresHoldAndExpiry(t *testing.T) {
	api := &fakeUpstream{}
	c := NewCommitter(api, 5*time.Minute, nil).WithClock(func() time.Time { return testNow })
	st := identified(newState())
	require.NoError(t, c.Select(st, offeredSlots()[0]))

	require.NoError(t, c.Hold(context.Background(), testPractice(), st))
	require.Len(t, api.holds, 1)
	assert.Equal(t, nexhealth.HoldRequest{
		PatientID: 12, ProviderID: 101, OperatoryID: 7,
		StartTime: "2025-03-03T09:00:00-06:00", DurationMinutes: 60,
	}, api.holds[0])
	assert.Equal(t, "555", st.Booking.HeldSlotID)
	assert.Equal(t, testNow.Add(5*time.Minute), *st.Booking.HeldSlotExpiresAt)

	// an active hold is reused
	require.NoError(t, c.Hold(context.Background(), testPractice(), st))
	assert.Len(t, api.holds, 1)
}

func TestHoldConflictClearsSelection(t *testing.T) {
	api := &fakeUpstream{holdErr: apperr.SlotConflict(nil, "hold_slot")}
	c := newTestCommitter(api)
	st := identified(newState())
	require.NoError(t, c.Select(st, offeredSlots()[0]))

	err := c.Hold(context.Background(), testPractice(), st)
	assert.Equal(t, apperr.KindSlotConflict, apperr.KindOf(err))
	assert.Nil(t, st.Booking.SelectedSlot)
	assert.Equal(t, callstate.ActionSlotConflict, st.LastAction)
}

func TestHoldUpstreamErrorLeavesSelection(t *testing.T) {
	api := &fakeUpstream{holdErr: apperr.Upstream(errors.New("503"), "hold_slot")}
	c := newTestCommitter(api)
	st := identified(newState())
	require.NoError(t, c.Select(st, offeredSlots()[0]))

	err := c.Hold(context.Background(), testPractice(), st)
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
	assert.NotNil(t, st.Booking.SelectedSlot)
	assert.Empty(t, st.Booking.HeldSlotID)
}

func TestBookIsIdempotent(t *testing.T) {
	api := &fakeUpstream{}
	records := &recordingLog{}
	notifier := &recordingNotifier{}
	c := newTestCommitter(api).WithRecordLog(records).WithNotifier(notifier)
	st := identified(newState())
	require.NoError(t, c.Select(st, offeredSlots()[0]))
	require.NoError(t, c.Hold(context.Background(), testPractice(), st))

	conf, err := c.Book(context.Background(), testPractice(), st)
	require.NoError(t, err)
	assert.Equal(t, "9001", conf.BookingID)
	assert.False(t, conf.Replayed)
	assert.Equal(t, "Monday, March 3 at 9:00 AM", conf.When)
	assert.Equal(t, callstate.StageBooked, st.Stage)
	assert.Equal(t, "9001", st.Booking.ConfirmedBookingID)

	require.Len(t, api.appointments, 1)
	req := api.appointments[0]
	assert.Equal(t, 555, req.HoldID)
	assert.Equal(t, "2025-03-03T10:00:00-06:00", req.EndTime)

	again, err := c.Book(context.Background(), testPractice(), st)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, "9001", again.BookingID)
	assert.Len(t, api.appointments, 1)

	require.Len(t, records.records, 1)
	assert.Equal(t, "Jane Doe", records.records[0].PatientName)
	assert.Equal(t, 7, records.records[0].OperatoryID)
	require.Len(t, notifier.events, 1)
	assert.Equal(t, "teeth cleaning", notifier.events[0].AppointmentType)
	assert.Equal(t, "jane@example.com", notifier.events[0].PatientEmail)
}

func TestBookSideEffectFailuresDoNotFailBooking(t *testing.T) {
	c := newTestCommitter(&fakeUpstream{}).
		WithRecordLog(&recordingLog{err: errors.New("db down")}).
		WithNotifier(&recordingNotifier{err: errors.New("sqs down")})
	st := identified(newState())
	require.NoError(t, c.Select(st, offeredSlots()[0]))
	require.NoError(t, c.Hold(context.Background(), testPractice(), st))

	conf, err := c.Book(context.Background(), testPractice(), st)
	require.NoError(t, err)
	assert.Equal(t, "9001", conf.BookingID)
}

func TestBookExpiredHold(t *testing.T) {
	api := &fakeUpstream{}
	now := testNow
	c := newTestCommitter(api).WithClock(func() time.Time { return now })
	st := identified(newState())
	require.NoError(t, c.Select(st, offeredSlots()[0]))
	require.NoError(t, c.Hold(context.Background(), testPractice(), st))

	now = testNow.Add(DefaultHoldTTL + time.Second)
	_, err := c.Book(context.Background(), testPractice(), st)
	assert.True(t, errors.Is(err, apperr.ErrHoldExpired))
	assert.Nil(t, st.Booking.SelectedSlot)
	assert.Empty(t, st.Booking.HeldSlotID)
	assert.Nil(t, st.Booking.HeldSlotExpiresAt)
	assert.Empty(t, st.Booking.ConfirmedBookingID)
	assert.Empty(t, api.appointments)
}

func TestBookSlotTakenClearsSelectionAndHold(t *testing.T) {
	api := &fakeUpstream{bookErr: apperr.SlotConflict(&nexhealth.APIError{Status: 409, Message: "slot unavailable"}, "create_appointment")}
	c := newTestCommitter(api)
	st := identified(newState())
	require.NoError(t, c.Select(st, offeredSlots()[0]))
	require.NoError(t, c.Hold(context.Background(), testPractice(), st))

	_, err := c.Book(context.Background(), testPractice(), st)
	assert.Equal(t, apperr.KindSlotConflict, apperr.KindOf(err))
	assert.Nil(t, st.Booking.SelectedSlot)
	assert.Empty(t, st.Booking.HeldSlotID)
	assert.Empty(t, st.Booking.ConfirmedBookingID)
	assert.NotEqual(t, callstate.StageBooked, st.Stage)
}

func TestBookWithoutHold(t *testing.T) {
	c := newTestCommitter(&fakeUpstream{})
	st := identified(newState())
	require.NoError(t, c.Select(st, offeredSlots()[0]))

	_, err := c.Book(context.Background(), testPractice(), st)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.NotNil(t, st.Booking.SelectedSlot)
}
