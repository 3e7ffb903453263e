package patients

import (
	"fmt"
	"strings"

	"github.com/wolfman30/dental-scheduling-assistant/internal/apperr"
	"github.com/wolfman30/dental-scheduling-assistant/internal/callstate"
	"github.com/wolfman30/dental-scheduling-assistant/internal/nexhealth"
)

// Field names a new-patient detail collected over several turns.
type Field string

const (
	FieldName      Field = "name"
	FieldPhone     Field = "phone"
	FieldEmail     Field = "email"
	FieldInsurance Field = "insurance"
)

// collectionOrder is the order fields are asked in. Insurance is optional.
var collectionOrder = []Field{FieldName, FieldPhone, FieldEmail, FieldInsurance}

var skipWords = map[string]bool{"none": true, "no": true, "skip": true, "n/a": true, "self pay": true, "self-pay": true, "no insurance": true}

// ParseField accepts the field names the voice assistant sends.
func ParseField(raw string) (Field, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "name", "fullname", "full_name":
		return FieldName, true
	case "phone", "phonenumber", "phone_number":
		return FieldPhone, true
	case "email", "emailaddress", "email_address":
		return FieldEmail, true
	case "insurance", "insuranceplan", "insurance_plan":
		return FieldInsurance, true
	default:
		return "", false
	}
}

// Step is what the assistant should say next.
type Step struct {
	Prompt string
	// Next is the field being asked for; empty when collection is complete.
	Next Field
	// Ready means every field is confirmed and the patient can be created.
	Ready bool
}

// Collector drives progressive new-patient collection. Each value is read
// back for confirmation before it is committed to the patient state; a
// rejection clears only that field.
type Collector struct{}

func NewCollector() *Collector { return &Collector{} }

func collection(st *callstate.State) *callstate.Collection {
	if st.Patient.Collection == nil {
		st.Patient.Collection = &callstate.Collection{}
	}
	return st.Patient.Collection
}

func fieldState(c *callstate.Collection, f Field) *callstate.FieldState {
	switch f {
	case FieldName:
		return &c.Name
	case FieldPhone:
		return &c.Phone
	case FieldEmail:
		return &c.Email
	default:
		return &c.Insurance
	}
}

// Start begins collection, optionally seeding the name the caller already
// gave so it can be spelled back.
func (c *Collector) Start(st *callstate.State, knownName string) Step {
	col := collection(st)
	if name := strings.Join(strings.Fields(knownName), " "); name != "" && !col.Name.Confirmed {
		col.Name.Pending = name
		return Step{Prompt: readBack(FieldName, name), Next: FieldName}
	}
	return c.next(st)
}

// Provide records a value for field and asks the caller to confirm it.
func (c *Collector) Provide(st *callstate.State, field Field, value string) (Step, error) {
	col := collection(st)
	fs := fieldState(col, field)
	value = strings.TrimSpace(value)

	switch field {
	case FieldName:
		name := strings.Join(strings.Fields(value), " ")
		if first, _ := SplitName(name); first == "" {
			return Step{}, apperr.Validation("patients: name is required")
		}
		value = name
	case FieldPhone:
		phone, ok := NormalizePhone(value)
		if !ok {
			return Step{}, apperr.Validation("patients: phone number %q is not a 10-digit number", value)
		}
		value = phone
	case FieldEmail:
		email, ok := NormalizeEmail(value)
		if !ok {
			return Step{}, apperr.Validation("patients: email address %q is not valid", value)
		}
		value = email
	case FieldInsurance:
		if value == "" || skipWords[strings.ToLower(value)] {
			*fs = callstate.FieldState{Confirmed: true}
			st.Insurance.QueriedPlan = ""
			return c.next(st), nil
		}
	default:
		return Step{}, apperr.Validation("patients: unknown field %q", field)
	}

	*fs = callstate.FieldState{Pending: value}
	return Step{Prompt: readBack(field, value), Next: field}, nil
}

// Confirm applies the caller's yes/no to the pending value of field.
func (c *Collector) Confirm(st *callstate.State, field Field, yes bool) (Step, error) {
	col := collection(st)
	fs := fieldState(col, field)
	if fs.Pending == "" && !fs.Confirmed {
		return Step{}, apperr.Validation("patients: no pending %s to confirm", field)
	}
	if !yes {
		*fs = callstate.FieldState{}
		if field == FieldName {
			st.Patient.IsNameConfirmed = false
		}
		return Step{Prompt: reAsk(field), Next: field}, nil
	}
	if fs.Confirmed {
		return c.next(st), nil
	}

	fs.Confirmed = true
	switch field {
	case FieldName:
		st.Patient.FirstName, st.Patient.LastName = SplitName(fs.Pending)
		st.Patient.IsNameConfirmed = true
	case FieldPhone:
		st.Patient.Phone = fs.Pending
	case FieldEmail:
		st.Patient.Email = fs.Pending
	case FieldInsurance:
		st.Insurance.QueriedPlan = fs.Pending
	}
	return c.next(st), nil
}

// NewPatientFields builds the create request from confirmed state.
func NewPatientFields(st *callstate.State) nexhealth.NewPatient {
	return nexhealth.NewPatient{
		FirstName:     st.Patient.FirstName,
		LastName:      st.Patient.LastName,
		Email:         st.Patient.Email,
		Phone:         st.Patient.Phone,
		DateOfBirth:   st.Patient.DOB,
		InsuranceName: st.Insurance.QueriedPlan,
	}
}

func (c *Collector) next(st *callstate.State) Step {
	col := collection(st)
	for _, f := range collectionOrder {
		fs := fieldState(col, f)
		if fs.Confirmed {
			continue
		}
		if fs.Pending != "" {
			return Step{Prompt: readBack(f, fs.Pending), Next: f}
		}
		return Step{Prompt: ask(f), Next: f}
	}
	return Step{Prompt: "Thank you, I have everything I need.", Ready: true}
}

func ask(f Field) string {
	switch f {
	case FieldName:
		return "Can I get your first and last name?"
	case FieldPhone:
		return "What's the best phone number to reach you?"
	case FieldEmail:
		return "And what email address should we send your confirmation to?"
	default:
		return "Do you have dental insurance you'd like us to keep on file? If not, just say none."
	}
}

func reAsk(f Field) string {
	switch f {
	case FieldName:
		return "Sorry about that. Could you spell your first and last name for me?"
	case FieldPhone:
		return "My apologies. What's the correct phone number?"
	case FieldEmail:
		return "Sorry about that. Could you spell out your email address for me?"
	default:
		return "No problem. What's the name of your insurance plan?"
	}
}

func readBack(f Field, value string) string {
	switch f {
	case FieldName:
		return fmt.Sprintf("I have your name as %s, spelled %s. Is that correct?", value, SpellName(value))
	case FieldPhone:
		return fmt.Sprintf("I have your phone number as %s. Is that right?", SpeakPhone(value))
	case FieldEmail:
		return fmt.Sprintf("I have your email as %s. Is that correct?", SpellEmail(value))
	default:
		return fmt.Sprintf("I have your insurance as %s. Is that right?", value)
	}
}
