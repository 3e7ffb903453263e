// Package practice exposes the read-only practice configuration consumed by the
// scheduling core: timezone, NexHealth identifiers, appointment types and the
// providers/operatories eligible for each type.
package practice

import (
	"strings"
	"time"

	"github.com/wolfman30/dental-scheduling-assistant/internal/apperr"
)

// Practice holds the configuration for a single dental office.
type Practice struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name"`
	Timezone            string            `json:"timezone"` // e.g., "America/Chicago"
	OfficePhone         string            `json:"office_phone,omitempty"`
	NexHealthSubdomain  string            `json:"nexhealth_subdomain"`
	NexHealthLocationID int               `json:"nexhealth_location_id"`
	AssistantID         string            `json:"assistant_id,omitempty"`
	AcceptedInsurance   []string          `json:"accepted_insurance,omitempty"`
	AppointmentTypes    []AppointmentType `json:"appointment_types,omitempty"`
}

// AppointmentType is a bookable service such as a cleaning or an emergency exam.
type AppointmentType struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	SpokenName      string   `json:"spoken_name,omitempty"`
	DurationMinutes int      `json:"duration_minutes"`
	Keywords        []string `json:"keywords,omitempty"`
	Active          bool     `json:"active"`
}

// Provider is a dentist or hygienist who can be booked.
type Provider struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	NexHealthProviderID int    `json:"nexhealth_provider_id"`
}

// Operatory is a chair/room that an appointment occupies.
type Operatory struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	NexHealthOperatoryID int    `json:"nexhealth_operatory_id"`
}

// Resources are the active providers and operatories eligible for one appointment type.
type Resources struct {
	Providers   []Provider  `json:"providers"`
	Operatories []Operatory `json:"operatories"`
}

// ProviderIDs returns the upstream provider identifiers.
func (r *Resources) ProviderIDs() []int {
	ids := make([]int, 0, len(r.Providers))
	for _, p := range r.Providers {
		ids = append(ids, p.NexHealthProviderID)
	}
	return ids
}

// OperatoryIDs returns the upstream operatory identifiers.
func (r *Resources) OperatoryIDs() []int {
	ids := make([]int, 0, len(r.Operatories))
	for _, o := range r.Operatories {
		ids = append(ids, o.NexHealthOperatoryID)
	}
	return ids
}

// Location returns the practice timezone, falling back to UTC when unset or invalid.
func (p *Practice) Location() *time.Location {
	if p == nil || p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ValidateUpstream ensures the practice carries the identifiers NexHealth requires
// and, when set, a loadable timezone.
func (p *Practice) ValidateUpstream() error {
	if p == nil {
		return apperr.Configuration("practice not configured")
	}
	if strings.TrimSpace(p.NexHealthSubdomain) == "" {
		return apperr.Configuration("practice %s has no NexHealth subdomain", p.ID)
	}
	if p.NexHealthLocationID <= 0 {
		return apperr.Configuration("practice %s has no NexHealth location", p.ID)
	}
	if tz := strings.TrimSpace(p.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return apperr.Wrap(apperr.KindConfiguration, err, "practice %s has invalid timezone %q", p.ID, tz)
		}
	}
	return nil
}

// AppointmentType returns the active appointment type with the given id.
func (p *Practice) AppointmentType(id string) (AppointmentType, bool) {
	for _, t := range p.AppointmentTypes {
		if t.ID == id && t.Active {
			return t, true
		}
	}
	return AppointmentType{}, false
}

// ActiveAppointmentTypes returns the appointment types that can currently be booked.
func (p *Practice) ActiveAppointmentTypes() []AppointmentType {
	var out []AppointmentType
	for _, t := range p.AppointmentTypes {
		if t.Active {
			out = append(out, t)
		}
	}
	return out
}

// MatchInsurance returns the accepted plan whose name matches the caller's plan.
// Matching is case-insensitive and tolerant of either name containing the other
// ("Delta" matches "Delta Dental PPO").
func (p *Practice) MatchInsurance(plan string) (string, bool) {
	needle := strings.ToLower(strings.TrimSpace(plan))
	if needle == "" {
		return "", false
	}
	for _, accepted := range p.AcceptedInsurance {
		hay := strings.ToLower(strings.TrimSpace(accepted))
		if hay == "" {
			continue
		}
		if hay == needle || strings.Contains(hay, needle) || strings.Contains(needle, hay) {
			return accepted, true
		}
	}
	return "", false
}

// DisplayName is the name used in speech: the spoken alias when configured.
func (t AppointmentType) DisplayName() string {
	if s := strings.TrimSpace(t.SpokenName); s != "" {
		return s
	}
	return t.Name
}
