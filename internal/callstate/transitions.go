package callstate

import (
	"github.com/wolfman30/dental-scheduling-assistant/internal/apperr"
)

// transitions lists the legal next stages for each stage. Staying in the
// current stage is always legal except after booking.
var transitions = map[Stage][]Stage{
	StageGreeting: {
		StageAppointmentTypeIdentified,
		StageIdentifyingPatient,
		StageCollectingPatientDetails,
	},
	StageAppointmentTypeIdentified: {
		StagePresentingSlots,
		StageIdentifyingPatient,
		StageCollectingPatientDetails,
	},
	StagePresentingSlots: {
		StageAppointmentTypeIdentified,
		StageAwaitingSlotConfirmation,
		StageIdentifyingPatient,
		StageCollectingPatientDetails,
	},
	StageAwaitingSlotConfirmation: {
		StageAppointmentTypeIdentified,
		StagePresentingSlots,
		StageIdentifyingPatient,
		StageCollectingPatientDetails,
		StageAwaitingBookingConfirmation,
	},
	StageIdentifyingPatient: {
		StageGreeting,
		StageAppointmentTypeIdentified,
		StagePresentingSlots,
		StageAwaitingSlotConfirmation,
		StageCollectingPatientDetails,
		StageAwaitingBookingConfirmation,
	},
	StageCollectingPatientDetails: {
		StageGreeting,
		StageAppointmentTypeIdentified,
		StagePresentingSlots,
		StageAwaitingSlotConfirmation,
		StageIdentifyingPatient,
		StageAwaitingBookingConfirmation,
	},
	StageAwaitingBookingConfirmation: {
		StageAppointmentTypeIdentified,
		StagePresentingSlots,
		StageBooked,
	},
	StageBooked: nil,
}

// CanTransition reports whether moving from one stage to another is legal.
func CanTransition(from, to Stage) bool {
	if from == StageBooked {
		return false
	}
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Advance moves the state to the next stage, or returns a validation error
// when the transition is illegal. The state is left untouched on error.
func (s *State) Advance(to Stage) error {
	if !CanTransition(s.Stage, to) {
		return apperr.Validation("callstate: illegal transition %s -> %s", s.Stage, to)
	}
	s.Stage = to
	return nil
}
