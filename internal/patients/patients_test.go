package patients

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-scheduling-assistant/internal/apperr"
	"github.com/wolfman30/dental-scheduling-assistant/internal/callstate"
	"github.com/wolfman30/dental-scheduling-assistant/internal/nexhealth"
	"github.com/wolfman30/dental-scheduling-assistant/internal/practice"
)

type fakeUpstream struct {
	candidates []nexhealth.Patient
	searchErr  error
	searched   string

	created    *nexhealth.NewPatient
	providerID int
	createErr  error
}

func (f *fakeUpstream) SearchPatients(_ context.Context, _ string, _ int, name string) ([]nexhealth.Patient, error) {
	f.searched = name
	return f.candidates, f.searchErr
}

func (f *fakeUpstream) CreatePatient(_ context.Context, _ string, _ int, providerID int, p nexhealth.NewPatient) (*nexhealth.Patient, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = &p
	f.providerID = providerID
	return &nexhealth.Patient{ID: 9001, FirstName: p.FirstName, LastName: p.LastName}, nil
}

func testPractice() *practice.Practice {
	return &practice.Practice{
		ID:                  "prac-1",
		Timezone:            "America/Chicago",
		NexHealthSubdomain:  "brightsmiles",
		NexHealthLocationID: 42,
		AppointmentTypes: []practice.AppointmentType{
			{ID: "type-clean", Name: "Cleaning", DurationMinutes: 30, Active: true},
		},
	}
}

func testDirectory() practice.Directory {
	p := testPractice()
	return practice.NewStaticDirectory(practice.StaticPractice{
		Practice: *p,
		Resources: map[string]*practice.Resources{
			"type-clean": {
				Providers:   []practice.Provider{{ID: "prov-1", NexHealthProviderID: 101}, {ID: "prov-2", NexHealthProviderID: 102}},
				Operatories: []practice.Operatory{{ID: "op-1", NexHealthOperatoryID: 7}},
			},
		},
	})
}

func janeDoe(id int, dob string) nexhealth.Patient {
	return nexhealth.Patient{ID: id, FirstName: "Jane", LastName: "Doe", Bio: nexhealth.PatientBio{DateOfBirth: dob}}
}

func TestFindAndConfirmSingleDOBMatch(t *testing.T) {
	api := &fakeUpstream{candidates: []nexhealth.Patient{janeDoe(11, "1985-06-15"), janeDoe(12, " 1990-01-01 ")}}
	r := NewResolver(api, testDirectory(), nil)

	m, err := r.FindAndConfirm(context.Background(), testPractice(), " Jane Doe ", "1990-01-01")
	require.NoError(t, err)
	assert.Equal(t, 12, m.PatientID)
	assert.Equal(t, "Jane Doe", m.Name)
	assert.Equal(t, "Jane Doe", api.searched)
}

func TestFindAndConfirmOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		candidates []nexhealth.Patient
		dob        string
		kind       apperr.Kind
	}{
		{"no candidates", nil, "1990-01-01", apperr.KindNotFound},
		{"no dob match", []nexhealth.Patient{janeDoe(1, "1985-06-15")}, "1990-01-01", apperr.KindNotFound},
		{"format difference is not a match", []nexhealth.Patient{janeDoe(1, "1990-01-01")}, "1990-1-1", apperr.KindNotFound},
		{"two records share name and dob", []nexhealth.Patient{janeDoe(1, "1990-01-01"), janeDoe(2, "1990-01-01")}, "1990-01-01", apperr.KindAmbiguousMatch},
		{"missing dob", []nexhealth.Patient{janeDoe(1, "1990-01-01")}, "  ", apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(&fakeUpstream{candidates: tt.candidates}, testDirectory(), nil)
			_, err := r.FindAndConfirm(context.Background(), testPractice(), "Jane Doe", tt.dob)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}
}

func TestFindAndConfirmPropagatesUpstreamAndConfig(t *testing.T) {
	upstream := apperr.Upstream(errors.New("502"), "search patients")
	r := NewResolver(&fakeUpstream{searchErr: upstream}, testDirectory(), nil)
	_, err := r.FindAndConfirm(context.Background(), testPractice(), "Jane Doe", "1990-01-01")
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))

	p := testPractice()
	p.NexHealthSubdomain = ""
	_, err = r.FindAndConfirm(context.Background(), p, "Jane Doe", "1990-01-01")
	assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))
}

func TestCreateUsesFirstEligibleProvider(t *testing.T) {
	api := &fakeUpstream{}
	r := NewResolver(api, testDirectory(), nil)

	m, err := r.Create(context.Background(), testPractice(), "", nexhealth.NewPatient{
		FirstName: "Sam", LastName: "Lee", Phone: "5551234567", Email: "sam@example.com", DateOfBirth: "1992-04-03",
	})
	require.NoError(t, err)
	assert.Equal(t, 9001, m.PatientID)
	assert.Equal(t, 101, api.providerID)
	require.NotNil(t, api.created)
	assert.Equal(t, "1992-04-03", api.created.DateOfBirth)

	_, err = r.Create(context.Background(), testPractice(), "", nexhealth.NewPatient{FirstName: "Sam"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCollectorFullFlow(t *testing.T) {
	st := callstate.New("call-1", "prac-1", time.Now())
	c := NewCollector()

	step := c.Start(st, "jane  doe")
	assert.Equal(t, FieldName, step.Next)
	assert.Contains(t, step.Prompt, "J-A-N-E, D-O-E")

	step, err := c.Confirm(st, FieldName, true)
	require.NoError(t, err)
	assert.Equal(t, FieldPhone, step.Next)
	assert.True(t, st.Patient.IsNameConfirmed)
	assert.Equal(t, "jane", st.Patient.FirstName)
	assert.Equal(t, "doe", st.Patient.LastName)

	step, err = c.Provide(st, FieldPhone, "+1 (555) 123-4567")
	require.NoError(t, err)
	assert.Contains(t, step.Prompt, "5 5 5, 1 2 3, 4 5 6 7")
	_, err = c.Confirm(st, FieldPhone, true)
	require.NoError(t, err)
	assert.Equal(t, "5551234567", st.Patient.Phone)

	step, err = c.Provide(st, FieldEmail, "Jane dot Doe at Gmail dot com")
	require.NoError(t, err)
	assert.Contains(t, step.Prompt, "J-A-N-E-dot-D-O-E at gmail dot com")
	step, err = c.Confirm(st, FieldEmail, true)
	require.NoError(t, err)
	assert.Equal(t, FieldInsurance, step.Next)
	assert.False(t, step.Ready)

	step, err = c.Provide(st, FieldInsurance, "none")
	require.NoError(t, err)
	assert.True(t, step.Ready)

	fields := NewPatientFields(st)
	assert.Equal(t, "jane.doe@gmail.com", fields.Email)
	assert.Empty(t, fields.InsuranceName)
}

func TestCollectorRejectionKeepsOtherFields(t *testing.T) {
	st := callstate.New("call-1", "prac-1", time.Now())
	c := NewCollector()

	c.Start(st, "Jane Doe")
	_, err := c.Confirm(st, FieldName, true)
	require.NoError(t, err)
	_, err = c.Provide(st, FieldPhone, "555-123-4567")
	require.NoError(t, err)

	step, err := c.Confirm(st, FieldPhone, false)
	require.NoError(t, err)
	assert.Equal(t, FieldPhone, step.Next)
	assert.Empty(t, st.Patient.Collection.Phone.Pending)
	assert.True(t, st.Patient.Collection.Name.Confirmed)
	assert.Equal(t, "Jane", st.Patient.FirstName)

	_, err = c.Confirm(st, FieldPhone, true)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCollectorValidation(t *testing.T) {
	st := callstate.New("call-1", "prac-1", time.Now())
	c := NewCollector()

	_, err := c.Provide(st, FieldPhone, "12345")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = c.Provide(st, FieldEmail, "jane at gmail")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = c.Provide(st, FieldName, "   ")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestSpelling(t *testing.T) {
	assert.Equal(t, "J-A-N-E, D-O-E", SpellName("Jane Doe"))
	assert.Equal(t, "M-A-R-Y-dash-A-N-N, O-apostrophe-N-E-I-L", SpellName("Mary-Ann O'Neil"))
	assert.Equal(t, "J-A-N-E-underscore-D-1 at mail dot example dot org", SpellEmail("jane_d1@Mail.Example.org"))
	assert.Equal(t, "5 5 5, 1 2 3, 4 5 6 7", SpeakPhone("555.123.4567"))

	_, ok := NormalizePhone("2-555-123-4567")
	assert.False(t, ok)
	got, ok := NormalizePhone("1 555 123 4567")
	assert.True(t, ok)
	assert.Equal(t, "5551234567", got)

	email, ok := NormalizeEmail(" Sam.Lee+dental@Example.com ")
	assert.True(t, ok)
	assert.Equal(t, "sam.lee+dental@example.com", email)
	_, ok = NormalizeEmail("sam@localhost")
	assert.False(t, ok)

	first, last := SplitName("Mary Ann Smith")
	assert.Equal(t, "Mary", first)
	assert.Equal(t, "Ann Smith", last)
}

func TestParseField(t *testing.T) {
	f, ok := ParseField("Phone_Number")
	assert.True(t, ok)
	assert.Equal(t, FieldPhone, f)
	_, ok = ParseField("ssn")
	assert.False(t, ok)
}
