package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/dental-scheduling-assistant/internal/apperr"
	"github.com/wolfman30/dental-scheduling-assistant/internal/booking"
	"github.com/wolfman30/dental-scheduling-assistant/internal/callstate"
	"github.com/wolfman30/dental-scheduling-assistant/internal/patients"
	"github.com/wolfman30/dental-scheduling-assistant/internal/slots"
)

// maxPresented caps how many times are read to the caller at once.
const maxPresented = 6

func keep(t *turn, message string) Result {
	return Result{Message: message, State: t.state}
}

func (o *Orchestrator) findAppointmentType(ctx context.Context, t *turn, raw json.RawMessage) Result {
	args, err := decodeArgs[findAppointmentTypeArgs](raw)
	if err != nil {
		return invalid("I couldn't read the reason for the visit.")
	}
	reason := strings.TrimSpace(args.Reason)
	if reason == "" {
		return invalid("Please tell me the reason for the visit.")
	}
	st := t.state
	if st.IsBooked() {
		return Result{Message: fmt.Sprintf("You're already booked for your %s. Is there anything else I can help with?", st.Booking.AppointmentLabel())}
	}

	types := t.practice.ActiveAppointmentTypes()
	if len(types) == 0 {
		return failure(t.practice, apperr.Configuration("assistant: practice %s has no appointment types", t.practice.ID))
	}
	matched, err := o.deps.TypeMatcher.Match(ctx, reason, types)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			r := Result{kind: apperr.KindNotFound}
			r.Message = "I'm not sure which kind of appointment that is. Could you describe what you'd like to come in for, for example a cleaning, a checkup, or a tooth that's bothering you?"
			return r
		}
		return failure(t.practice, err)
	}

	if err := st.Advance(callstate.StageAppointmentTypeIdentified); err != nil {
		return failure(t.practice, err)
	}
	if st.Booking.AppointmentTypeID != matched.ID {
		st.ClearSelection()
		st.Booking.PresentedSlots = []slots.SlotData{}
	}
	st.Booking.AppointmentTypeID = matched.ID
	st.Booking.AppointmentTypeName = matched.Name
	st.Booking.SpokenName = matched.SpokenName
	st.Booking.Duration = matched.DurationMinutes
	st.Booking.IsUrgent = bool(args.IsUrgent)
	st.LastAction = callstate.ActionAppointmentTypeFound

	label := st.Booking.AppointmentLabel()
	if args.CheckAvailability || args.IsUrgent {
		res := keep(t, fmt.Sprintf("I can help you schedule a %s.", label))
		res.NextTool = &NextTool{Name: ToolCheckAvailableSlots}
		return res
	}
	return keep(t, fmt.Sprintf("I can help you schedule a %s. Would you like me to check our availability?", label))
}

func (o *Orchestrator) checkAvailableSlots(ctx context.Context, t *turn, raw json.RawMessage) Result {
	args, err := decodeArgs[checkAvailableSlotsArgs](raw)
	if err != nil {
		return invalid("I couldn't read the dates you asked about.")
	}
	st := t.state
	if st.IsBooked() {
		return Result{Message: fmt.Sprintf("You're already booked for your %s.", st.Booking.AppointmentLabel())}
	}
	if st.Booking.AppointmentTypeID == "" {
		return invalid("I need to know what kind of appointment you'd like before I can check availability.")
	}
	bucket := slots.BucketAllDay
	if strings.TrimSpace(args.TimeOfDay) != "" {
		b, ok := slots.ParseBucket(args.TimeOfDay)
		if !ok {
			return invalid("Do you prefer mornings, afternoons, or evenings?")
		}
		bucket = b
	}
	if args.SearchDays < 0 {
		return invalid("How many days ahead should I look?")
	}

	found, err := o.deps.Slots.FindAvailableSlots(ctx, st.Booking.AppointmentTypeID, t.practice, strings.TrimSpace(args.StartDate), int(args.SearchDays))
	if err != nil {
		if apperr.KindOf(err) == apperr.KindValidation {
			return invalid("I didn't catch which date to start from. Could you give me a date?")
		}
		return failure(t.practice, err)
	}

	loc := t.practice.Location()
	candidates := slots.FilterByBucket(found.FoundSlots, bucket, loc)
	if len(candidates) == 0 {
		st.Booking.PresentedSlots = []slots.SlotData{}
		st.LastAction = callstate.ActionNoSlotsFound
		label := st.Booking.AppointmentLabel()
		switch {
		case len(found.FoundSlots) > 0:
			return keep(t, fmt.Sprintf("I don't have any %sopenings for a %s in that range. I do have %s. Would one of those work?",
				bucketLabel(bucket), label, describeDays(found.Days, loc)))
		case found.NextAvailableDate != nil:
			return keep(t, fmt.Sprintf("I don't see any openings for a %s in that range. The next available day is %s. Would you like me to check that day?",
				label, spokenDate(*found.NextAvailableDate, loc)))
		default:
			return keep(t, fmt.Sprintf("I'm sorry, I don't see any openings for a %s in that range. Would you like me to look further out?", label))
		}
	}

	if err := st.Advance(callstate.StagePresentingSlots); err != nil {
		return failure(t.practice, err)
	}
	presented := slots.Present(candidates, maxPresented, loc)
	st.ClearSelection()
	st.Booking.PresentedSlots = presented
	st.LastAction = callstate.ActionSlotsPresented
	return keep(t, presentSlotsMessage(st, presented, loc))
}

func (o *Orchestrator) identifyPatient(ctx context.Context, t *turn, raw json.RawMessage) Result {
	args, err := decodeArgs[identifyPatientArgs](raw)
	if err != nil {
		return invalid("I couldn't read the name and date of birth.")
	}
	if strings.TrimSpace(args.FullName) == "" || strings.TrimSpace(args.DateOfBirth) == "" {
		return invalid("I'll need your full name and date of birth to look you up.")
	}
	st := t.state
	if st.HasPatient() {
		return Result{Message: fmt.Sprintf("I already have you as %s.", st.Patient.FullName())}
	}

	match, err := o.deps.Patients.FindAndConfirm(ctx, t.practice, args.FullName, args.DateOfBirth)
	if err != nil {
		if apperr.KindOf(err) != apperr.KindNotFound {
			return failure(t.practice, err)
		}
		// Unknown caller: switch to registering a new patient.
		if err := st.Advance(callstate.StageCollectingPatientDetails); err != nil {
			return failure(t.practice, err)
		}
		st.Patient.DOB = strings.TrimSpace(args.DateOfBirth)
		st.LastAction = callstate.ActionPatientNotFound
		step := o.deps.Collector.Start(st, args.FullName)
		res := keep(t, "I couldn't find a record with that name and date of birth, so I'll set you up as a new patient. "+step.Prompt)
		res.kind = apperr.KindNotFound
		return res
	}

	if err := st.Advance(callstate.StageIdentifyingPatient); err != nil {
		return failure(t.practice, err)
	}
	id := match.PatientID
	st.Patient.ID = &id
	st.Patient.FirstName = match.FirstName
	st.Patient.LastName = match.LastName
	st.Patient.DOB = strings.TrimSpace(args.DateOfBirth)
	st.Patient.Status = callstate.PatientIdentifiedExisting
	st.Patient.IsNameConfirmed = true
	st.LastAction = callstate.ActionPatientIdentified
	return o.afterPatientKnown(t, fmt.Sprintf("Thank you, %s, I found your record.", match.FirstName))
}

// afterPatientKnown continues toward booking once the patient id is set.
func (o *Orchestrator) afterPatientKnown(t *turn, message string) Result {
	st := t.state
	res := keep(t, message)
	switch {
	case st.Booking.SelectedSlot != nil:
		res.NextTool = &NextTool{Name: ToolSelectAndBookSlot}
	case len(st.Booking.PresentedSlots) > 0:
		res.Message += " Which of the times I mentioned works best for you?"
	case st.Booking.AppointmentTypeID != "":
		res.NextTool = &NextTool{Name: ToolCheckAvailableSlots}
	default:
		res.Message += " What can we help you with today?"
	}
	return res
}

func (o *Orchestrator) collectPatientDetails(ctx context.Context, t *turn, raw json.RawMessage) Result {
	args, err := decodeArgs[collectPatientDetailsArgs](raw)
	if err != nil {
		return invalid("I couldn't read that detail.")
	}
	st := t.state
	if st.HasPatient() {
		return Result{Message: "I already have your details on file."}
	}
	field, ok := patients.ParseField(args.Field)
	if !ok {
		return invalid("Which detail is that: your name, phone number, email, or insurance?")
	}
	if err := st.Advance(callstate.StageCollectingPatientDetails); err != nil {
		return failure(t.practice, err)
	}

	var step patients.Step
	switch {
	case args.Confirmed != nil:
		step, err = o.deps.Collector.Confirm(st, field, bool(*args.Confirmed))
	case strings.TrimSpace(args.Value) != "" || field == patients.FieldInsurance:
		step, err = o.deps.Collector.Provide(st, field, args.Value)
	default:
		return invalid(fmt.Sprintf("What is your %s?", field))
	}
	if err != nil {
		return invalid(fieldProblem(field))
	}

	if args.Confirmed != nil && bool(*args.Confirmed) {
		st.LastAction = callstate.ActionPatientFieldConfirmed
	} else {
		st.LastAction = callstate.ActionPatientFieldPending
	}
	if field == patients.FieldInsurance && st.Insurance.QueriedPlan != "" {
		applyInsurance(t, st.Insurance.QueriedPlan)
	}
	if !step.Ready {
		return keep(t, step.Prompt)
	}

	match, err := o.deps.Patients.Create(ctx, t.practice, st.Booking.AppointmentTypeID, patients.NewPatientFields(st))
	if err != nil {
		return failure(t.practice, err)
	}
	id := match.PatientID
	st.Patient.ID = &id
	st.Patient.Status = callstate.PatientNewDetailsCollected
	st.LastAction = callstate.ActionPatientCreated
	return o.afterPatientKnown(t, fmt.Sprintf("Thank you, %s, you're all set up as a new patient.", st.Patient.FirstName))
}

func fieldProblem(field patients.Field) string {
	switch field {
	case patients.FieldPhone:
		return "That doesn't sound like a complete phone number. Could you say the full ten-digit number?"
	case patients.FieldEmail:
		return "I couldn't make out a valid email address. Could you spell it for me?"
	case patients.FieldName:
		return "Could you tell me your first and last name?"
	default:
		return "Could you repeat that?"
	}
}

func applyInsurance(t *turn, plan string) (string, bool) {
	accepted, ok := t.practice.MatchInsurance(plan)
	t.state.Insurance.QueriedPlan = strings.TrimSpace(plan)
	if ok {
		t.state.Insurance.Status = callstate.InsuranceInNetwork
	} else {
		t.state.Insurance.Status = callstate.InsuranceOutOfNetwork
	}
	return accepted, ok
}

func (o *Orchestrator) checkInsurance(_ context.Context, t *turn, raw json.RawMessage) Result {
	args, err := decodeArgs[checkInsuranceArgs](raw)
	if err != nil || strings.TrimSpace(args.PlanName) == "" {
		return invalid("Which insurance plan do you have?")
	}
	accepted, ok := applyInsurance(t, args.PlanName)
	t.state.LastAction = callstate.ActionInsuranceChecked
	if ok {
		return keep(t, fmt.Sprintf("Good news, we're in network with %s.", accepted))
	}
	return keep(t, fmt.Sprintf("It looks like we're not in network with %s, but you're still welcome to book with us and we can give you the paperwork to submit to your plan.", strings.TrimSpace(args.PlanName)))
}

func (o *Orchestrator) selectAndBookSlot(ctx context.Context, t *turn, raw json.RawMessage) Result {
	args, err := decodeArgs[selectAndBookSlotArgs](raw)
	if err != nil {
		return invalid("I couldn't read which time you'd like.")
	}
	st := t.state
	p := t.practice
	loc := p.Location()

	if st.IsBooked() {
		conf, err := o.deps.Committer.Book(ctx, p, st)
		if err != nil {
			return failure(p, err)
		}
		return Result{Message: bookedMessage(st, conf)}
	}

	// Declining the read-back means the caller wants a different time.
	if t.stageAtStart == callstate.StageAwaitingBookingConfirmation && args.Confirmed != nil && !bool(*args.Confirmed) &&
		strings.TrimSpace(args.Utterance) == "" {
		st.ClearSelection()
		if err := st.Advance(callstate.StagePresentingSlots); err != nil {
			return failure(p, err)
		}
		res := keep(t, "No problem, let's find a different time.")
		res.NextTool = &NextTool{Name: ToolCheckAvailableSlots}
		return res
	}

	if utterance := strings.TrimSpace(args.Utterance); utterance != "" && len(st.Booking.PresentedSlots) > 0 {
		chosen := o.deps.SlotMatcher.Match(ctx, utterance, st.Booking.PresentedSlots, loc)
		if chosen == nil {
			return Result{Message: "Sorry, I didn't catch which time you'd like. The options are:\n" + slots.Describe(st.Booking.PresentedSlots, loc)}
		}
		if err := o.deps.Committer.Select(st, *chosen); err != nil {
			return failure(p, err)
		}
		if err := st.Advance(callstate.StageAwaitingSlotConfirmation); err != nil {
			return failure(p, err)
		}
	}
	if st.Booking.SelectedSlot == nil {
		if len(st.Booking.PresentedSlots) == 0 && st.Booking.AppointmentTypeID != "" {
			res := Result{Message: "Let me check what's available first."}
			res.NextTool = &NextTool{Name: ToolCheckAvailableSlots}
			return res
		}
		return invalid("Which time would you like?")
	}
	when := slots.FormatForSpeech(*st.Booking.SelectedSlot, loc)

	if !st.HasPatient() {
		if err := st.Advance(callstate.StageIdentifyingPatient); err != nil {
			return failure(p, err)
		}
		return keep(t, fmt.Sprintf("Great, let's get you booked for %s. Have you visited us before? If so, please tell me your full name and date of birth.", when))
	}

	if !st.HoldActive(o.deps.Now()) {
		if err := o.deps.Committer.Hold(ctx, p, st); err != nil {
			return o.commitFailure(t, err)
		}
	}

	confirmed := args.Confirmed != nil && bool(*args.Confirmed)
	if !confirmed || t.stageAtStart != callstate.StageAwaitingBookingConfirmation {
		if err := st.Advance(callstate.StageAwaitingBookingConfirmation); err != nil {
			return failure(p, err)
		}
		return keep(t, fmt.Sprintf("I have a %s for %s on %s. Shall I go ahead and book it?",
			st.Booking.AppointmentLabel(), st.Patient.FullName(), when))
	}

	conf, err := o.deps.Committer.Book(ctx, p, st)
	if err != nil {
		return o.commitFailure(t, err)
	}
	return keep(t, bookedMessage(st, conf))
}

// commitFailure handles hold/book errors. A lost slot or hold keeps the
// cleared selection and starts a fresh search; anything else leaves state as
// it was.
func (o *Orchestrator) commitFailure(t *turn, err error) Result {
	if errors.Is(err, booking.ErrPatientRequired) {
		return keep(t, "Before I book, could I get your full name and date of birth?")
	}
	switch apperr.KindOf(err) {
	case apperr.KindSlotConflict, apperr.KindHoldExpired:
		res := failure(t.practice, err)
		if advErr := t.state.Advance(callstate.StageAppointmentTypeIdentified); advErr != nil {
			return failure(t.practice, advErr)
		}
		res.Message += " Let me find you another time."
		res.State = t.state
		res.NextTool = &NextTool{Name: ToolCheckAvailableSlots}
		return res
	default:
		return failure(t.practice, err)
	}
}

func bookedMessage(st *callstate.State, conf *booking.Confirmation) string {
	msg := fmt.Sprintf("You're all set! Your %s is booked", st.Booking.AppointmentLabel())
	if conf.When != "" {
		msg += " for " + conf.When
	}
	msg += "."
	if st.Patient.Email != "" {
		msg += " You'll receive a confirmation email shortly."
	}
	return msg
}
