// Package patients resolves the caller to a NexHealth patient record, either
// by looking up a returning patient or by collecting and creating a new one.
package patients

import (
	"context"
	"strings"

	"github.com/wolfman30/dental-scheduling-assistant/internal/apperr"
	"github.com/wolfman30/dental-scheduling-assistant/internal/nexhealth"
	"github.com/wolfman30/dental-scheduling-assistant/internal/practice"
	"github.com/wolfman30/dental-scheduling-assistant/pkg/logging"
)

// Upstream is the slice of the scheduling API the resolver needs.
type Upstream interface {
	SearchPatients(ctx context.Context, subdomain string, locationID int, name string) ([]nexhealth.Patient, error)
	CreatePatient(ctx context.Context, subdomain string, locationID, providerID int, p nexhealth.NewPatient) (*nexhealth.Patient, error)
}

// Match is a resolved patient.
type Match struct {
	PatientID int
	FirstName string
	LastName  string
	Name      string
}

type Resolver struct {
	api       Upstream
	directory practice.Directory
	logger    *logging.Logger
}

func NewResolver(api Upstream, directory practice.Directory, logger *logging.Logger) *Resolver {
	if api == nil {
		panic("patients: upstream client required")
	}
	if directory == nil {
		panic("patients: practice directory required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{api: api, directory: directory, logger: logger}
}

// FindAndConfirm looks up a returning patient by name and date of birth.
//
// The date of birth must equal a candidate's exactly after trimming; no
// format normalization is attempted. Zero matches is NotFound. More than one
// record matching both name and date of birth is AmbiguousMatch and is never
// resolved automatically.
func (r *Resolver) FindAndConfirm(ctx context.Context, p *practice.Practice, fullName, dateOfBirth string) (*Match, error) {
	fullName = strings.TrimSpace(fullName)
	dob := strings.TrimSpace(dateOfBirth)
	if fullName == "" || dob == "" {
		return nil, apperr.Validation("patients: full name and date of birth are required")
	}
	if err := p.ValidateUpstream(); err != nil {
		return nil, err
	}

	candidates, err := r.api.SearchPatients(ctx, p.NexHealthSubdomain, p.NexHealthLocationID, fullName)
	if err != nil {
		return nil, err
	}

	var matches []nexhealth.Patient
	for _, c := range candidates {
		if strings.TrimSpace(c.Bio.DateOfBirth) == dob {
			matches = append(matches, c)
		}
	}

	switch len(matches) {
	case 0:
		r.logger.Info("patient lookup found no match", "practice_id", p.ID, "candidates", len(candidates))
		return nil, apperr.NotFound("patients: no patient matches name and date of birth")
	case 1:
		m := matches[0]
		return &Match{PatientID: m.ID, FirstName: m.FirstName, LastName: m.LastName, Name: m.FullName()}, nil
	default:
		r.logger.Warn("patient lookup ambiguous", "practice_id", p.ID, "matches", len(matches))
		return nil, apperr.Ambiguous("patients: %d records match name and date of birth", len(matches))
	}
}

// Create registers a new patient under the first provider eligible for the
// appointment type. An empty appointmentTypeID uses the practice's first
// active type.
func (r *Resolver) Create(ctx context.Context, p *practice.Practice, appointmentTypeID string, fields nexhealth.NewPatient) (*Match, error) {
	if strings.TrimSpace(fields.FirstName) == "" || strings.TrimSpace(fields.Phone) == "" || strings.TrimSpace(fields.Email) == "" {
		return nil, apperr.Validation("patients: name, phone and email are required")
	}
	if err := p.ValidateUpstream(); err != nil {
		return nil, err
	}

	if appointmentTypeID == "" {
		active := p.ActiveAppointmentTypes()
		if len(active) == 0 {
			return nil, apperr.Configuration("patients: practice %s has no active appointment types", p.ID)
		}
		appointmentTypeID = active[0].ID
	}
	res, err := r.directory.EligibleResources(ctx, p.ID, appointmentTypeID)
	if err != nil {
		return nil, err
	}
	if len(res.Providers) == 0 {
		return nil, apperr.Configuration("patients: no active providers for appointment type %s", appointmentTypeID)
	}

	created, err := r.api.CreatePatient(ctx, p.NexHealthSubdomain, p.NexHealthLocationID, res.Providers[0].NexHealthProviderID, fields)
	if err != nil {
		return nil, err
	}
	r.logger.Info("patient created", "practice_id", p.ID, "patient_id", created.ID)
	return &Match{
		PatientID: created.ID,
		FirstName: fields.FirstName,
		LastName:  fields.LastName,
		Name:      strings.TrimSpace(fields.FirstName + " " + fields.LastName),
	}, nil
}
