package nexhealth

import (
	"encoding/json"
	"fmt"
	"strings"
)

// envelope is the wrapper NexHealth puts around every response body.
type envelope struct {
	Code        bool            `json:"code"`
	Description json.RawMessage `json:"description"`
	Error       json.RawMessage `json:"error"`
	Data        json.RawMessage `json:"data"`
	Count       int             `json:"count"`
}

func (e envelope) message() string {
	var parts []string
	for _, raw := range []json.RawMessage{e.Description, e.Error} {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			parts = append(parts, s)
			continue
		}
		var list []string
		if err := json.Unmarshal(raw, &list); err == nil {
			parts = append(parts, list...)
			continue
		}
		parts = append(parts, string(raw))
	}
	return strings.Join(parts, "; ")
}

// Patient is a patient record at a practice location.
type Patient struct {
	ID        int        `json:"id"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Bio       PatientBio `json:"bio"`
}

// PatientBio holds demographic details.
type PatientBio struct {
	DateOfBirth     string `json:"date_of_birth"`
	PhoneNumber     string `json:"phone_number,omitempty"`
	CellPhoneNumber string `json:"cell_phone_number,omitempty"`
	InsuranceName   string `json:"insurance_name,omitempty"`
}

// FullName joins first and last name, falling back to the display name.
func (p Patient) FullName() string {
	full := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if full == "" {
		return strings.TrimSpace(p.Name)
	}
	return full
}

// NewPatient carries the fields collected for a patient that does not exist yet.
type NewPatient struct {
	FirstName     string
	LastName      string
	Email         string
	Phone         string
	DateOfBirth   string
	InsuranceName string
}

type createPatientBody struct {
	Provider struct {
		ProviderID int `json:"provider_id"`
	} `json:"provider"`
	Patient struct {
		FirstName string     `json:"first_name"`
		LastName  string     `json:"last_name"`
		Email     string     `json:"email,omitempty"`
		Bio       PatientBio `json:"bio"`
	} `json:"patient"`
}

// SlotQuery narrows an availability search.
type SlotQuery struct {
	Subdomain         string
	LocationID        int
	ProviderIDs       []int
	OperatoryIDs      []int
	StartDate         string // YYYY-MM-DD
	Days              int
	SlotLengthMinutes int
}

// SlotGroup is the availability of one provider at one location.
type SlotGroup struct {
	LocationID        int    `json:"lid"`
	ProviderID        int    `json:"pid"`
	NextAvailableDate string `json:"next_available_date"`
	Slots             []Slot `json:"slots"`
}

// Slot is one open start time returned by the appointment_slots endpoint.
type Slot struct {
	Time        string `json:"time"`
	EndTime     string `json:"end_time"`
	OperatoryID int    `json:"operatory_id"`
}

// HoldRequest reserves a slot for a patient.
type HoldRequest struct {
	PatientID       int
	ProviderID      int
	OperatoryID     int
	StartTime       string
	DurationMinutes int
}

// Hold is a confirmed temporary reservation.
type Hold struct {
	ID        int    `json:"id"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

type holdBody struct {
	AppointmentSlotHold struct {
		PatientID   int    `json:"patient_id"`
		ProviderID  int    `json:"provider_id"`
		OperatoryID int    `json:"operatory_id,omitempty"`
		StartTime   string `json:"start_time"`
		Duration    int    `json:"duration"`
	} `json:"appointment_slot_hold"`
}

// AppointmentRequest converts a held slot into an appointment.
type AppointmentRequest struct {
	PatientID   int
	ProviderID  int
	OperatoryID int
	StartTime   string
	EndTime     string
	Note        string
	HoldID      int
}

// Appointment is a booked visit.
type Appointment struct {
	ID        int    `json:"id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	PatientID int    `json:"patient_id"`
}

type appointmentBody struct {
	Appt struct {
		PatientID   int    `json:"patient_id"`
		ProviderID  int    `json:"provider_id"`
		OperatoryID int    `json:"operatory_id,omitempty"`
		StartTime   string `json:"start_time"`
		EndTime     string `json:"end_time,omitempty"`
		Note        string `json:"note,omitempty"`
		HoldID      int    `json:"appointment_slot_hold_id,omitempty"`
	} `json:"appt"`
}

// APIError is a non-2xx response from NexHealth.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("nexhealth: API error (status %d): %s", e.Status, e.Message)
}
