package callstate

import (
	"time"

	"github.com/wolfman30/dental-scheduling-assistant/internal/slots"
)

// Stage is the conversation stage of a call.
type Stage string

const (
	StageGreeting                    Stage = "GREETING"
	StageAppointmentTypeIdentified   Stage = "APPOINTMENT_TYPE_IDENTIFIED"
	StagePresentingSlots             Stage = "PRESENTING_SLOTS"
	StageAwaitingSlotConfirmation    Stage = "AWAITING_SLOT_CONFIRMATION"
	StageIdentifyingPatient          Stage = "IDENTIFYING_PATIENT"
	StageCollectingPatientDetails    Stage = "COLLECTING_PATIENT_DETAILS"
	StageAwaitingBookingConfirmation Stage = "AWAITING_BOOKING_CONFIRMATION"
	StageBooked                      Stage = "BOOKED"
)

// LastAction records the most recent completed step so handlers can avoid
// re-asking questions the caller already answered.
type LastAction string

const (
	ActionNone                  LastAction = ""
	ActionAppointmentTypeFound  LastAction = "APPOINTMENT_TYPE_FOUND"
	ActionSlotsPresented        LastAction = "SLOTS_PRESENTED"
	ActionNoSlotsFound          LastAction = "NO_SLOTS_FOUND"
	ActionSlotSelected          LastAction = "SLOT_SELECTED"
	ActionSlotHeld              LastAction = "SLOT_HELD"
	ActionSlotConflict          LastAction = "SLOT_CONFLICT"
	ActionHoldExpired           LastAction = "HOLD_EXPIRED"
	ActionPatientIdentified     LastAction = "PATIENT_IDENTIFIED"
	ActionPatientNotFound       LastAction = "PATIENT_NOT_FOUND"
	ActionPatientFieldPending   LastAction = "PATIENT_FIELD_PENDING"
	ActionPatientFieldConfirmed LastAction = "PATIENT_FIELD_CONFIRMED"
	ActionPatientCreated        LastAction = "PATIENT_CREATED"
	ActionInsuranceChecked      LastAction = "INSURANCE_CHECKED"
	ActionBookingConfirmed      LastAction = "BOOKING_CONFIRMED"
)

type PatientStatus string

const (
	PatientUnknown             PatientStatus = "UNKNOWN"
	PatientIdentifiedExisting  PatientStatus = "IDENTIFIED_EXISTING"
	PatientNewDetailsCollected PatientStatus = "NEW_DETAILS_COLLECTED"
)

type InsuranceStatus string

const (
	InsuranceNotChecked   InsuranceStatus = "NOT_CHECKED"
	InsuranceInNetwork    InsuranceStatus = "IN_NETWORK"
	InsuranceOutOfNetwork InsuranceStatus = "OUT_OF_NETWORK"
)

// FieldState is one field of the new-patient collection flow. Pending holds
// the value read back to the caller; Confirmed is set once they agree.
type FieldState struct {
	Pending   string `json:"pending,omitempty"`
	Confirmed bool   `json:"confirmed,omitempty"`
}

// Collection tracks progressive new-patient field collection.
type Collection struct {
	Name      FieldState `json:"name"`
	Phone     FieldState `json:"phone"`
	Email     FieldState `json:"email"`
	Insurance FieldState `json:"insurance"`
}

type PatientState struct {
	Status          PatientStatus `json:"status"`
	ID              *int          `json:"id,omitempty"`
	FirstName       string        `json:"firstName,omitempty"`
	LastName        string        `json:"lastName,omitempty"`
	DOB             string        `json:"dob,omitempty"`
	Phone           string        `json:"phone,omitempty"`
	Email           string        `json:"email,omitempty"`
	IsNameConfirmed bool          `json:"isNameConfirmed"`
	Collection      *Collection   `json:"collection,omitempty"`
}

// FullName joins first and last name.
func (p PatientState) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	default:
		return p.FirstName + " " + p.LastName
	}
}

type BookingState struct {
	AppointmentTypeID   string           `json:"appointmentTypeId,omitempty"`
	AppointmentTypeName string           `json:"appointmentTypeName,omitempty"`
	SpokenName          string           `json:"spokenName,omitempty"`
	Duration            int              `json:"duration,omitempty"`
	IsUrgent            bool             `json:"isUrgent"`
	PresentedSlots      []slots.SlotData `json:"presentedSlots"`
	SelectedSlot        *slots.SlotData  `json:"selectedSlot,omitempty"`
	HeldSlotID          string           `json:"heldSlotId,omitempty"`
	HeldSlotExpiresAt   *time.Time       `json:"heldSlotExpiresAt,omitempty"`
	ConfirmedBookingID  string           `json:"confirmedBookingId,omitempty"`
}

// AppointmentLabel is the name used when speaking about the appointment type.
func (b BookingState) AppointmentLabel() string {
	if b.SpokenName != "" {
		return b.SpokenName
	}
	if b.AppointmentTypeName != "" {
		return b.AppointmentTypeName
	}
	return "appointment"
}

type InsuranceState struct {
	Status      InsuranceStatus `json:"status"`
	QueriedPlan string          `json:"queriedPlan,omitempty"`
}

// State is the conversation state persisted per call.
type State struct {
	CallID     string         `json:"callId"`
	PracticeID string         `json:"practiceId"`
	Stage      Stage          `json:"stage"`
	LastAction LastAction     `json:"lastAction,omitempty"`
	Patient    PatientState   `json:"patient"`
	Booking    BookingState   `json:"booking"`
	Insurance  InsuranceState `json:"insurance"`
	Version    int64          `json:"version"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// New returns the initial state for a call.
func New(callID, practiceID string, now time.Time) *State {
	now = now.UTC()
	return &State{
		CallID:     callID,
		PracticeID: practiceID,
		Stage:      StageGreeting,
		Patient:    PatientState{Status: PatientUnknown},
		Booking:    BookingState{PresentedSlots: []slots.SlotData{}},
		Insurance:  InsuranceState{Status: InsuranceNotChecked},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	if s.Patient.ID != nil {
		id := *s.Patient.ID
		out.Patient.ID = &id
	}
	if s.Patient.Collection != nil {
		c := *s.Patient.Collection
		out.Patient.Collection = &c
	}
	if s.Booking.PresentedSlots != nil {
		out.Booking.PresentedSlots = make([]slots.SlotData, len(s.Booking.PresentedSlots))
		for i, slot := range s.Booking.PresentedSlots {
			out.Booking.PresentedSlots[i] = slot.Clone()
		}
	}
	if s.Booking.SelectedSlot != nil {
		sel := s.Booking.SelectedSlot.Clone()
		out.Booking.SelectedSlot = &sel
	}
	if s.Booking.HeldSlotExpiresAt != nil {
		exp := *s.Booking.HeldSlotExpiresAt
		out.Booking.HeldSlotExpiresAt = &exp
	}
	return &out
}

// IsBooked reports whether a confirmed booking exists. Booked state is terminal.
func (s *State) IsBooked() bool {
	return s.Booking.ConfirmedBookingID != ""
}

// HasPatient reports whether an external patient id is known.
func (s *State) HasPatient() bool {
	return s.Patient.ID != nil && *s.Patient.ID > 0
}

// HoldActive reports whether a hold exists and has not expired at now.
func (s *State) HoldActive(now time.Time) bool {
	b := s.Booking
	return b.HeldSlotID != "" && b.HeldSlotExpiresAt != nil && now.Before(*b.HeldSlotExpiresAt)
}

// ClearHold drops the hold but keeps the selection.
func (s *State) ClearHold() {
	s.Booking.HeldSlotID = ""
	s.Booking.HeldSlotExpiresAt = nil
}

// ClearSelection drops the selected slot and any hold on it.
func (s *State) ClearSelection() {
	s.Booking.SelectedSlot = nil
	s.ClearHold()
}
