package practice

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/dental-scheduling-assistant/internal/apperr"
)

// Directory is the read-only view of practice configuration used by the core.
type Directory interface {
	Get(ctx context.Context, practiceID string) (*Practice, error)
	FindByAssistantID(ctx context.Context, assistantID string) (*Practice, error)
	EligibleResources(ctx context.Context, practiceID, appointmentTypeID string) (*Resources, error)
}

type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository reads practice configuration from Postgres.
type Repository struct {
	db rowQuerier
}

// NewRepository creates a repository backed by a pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("practice: pgx pool required")
	}
	return &Repository{db: pool}
}

func newRepositoryWithQuerier(q rowQuerier) *Repository {
	if q == nil {
		panic("practice: querier required")
	}
	return &Repository{db: q}
}

const selectPractice = `
	SELECT id, name, timezone, COALESCE(office_phone, ''), COALESCE(nexhealth_subdomain, ''),
	       COALESCE(nexhealth_location_id, 0), COALESCE(assistant_id, '')
	FROM practices
`

// Get loads a practice with its appointment types and accepted insurance plans.
func (r *Repository) Get(ctx context.Context, practiceID string) (*Practice, error) {
	return r.loadOne(ctx, selectPractice+` WHERE id = $1`, practiceID)
}

// FindByAssistantID resolves the practice configured for a voice assistant.
func (r *Repository) FindByAssistantID(ctx context.Context, assistantID string) (*Practice, error) {
	return r.loadOne(ctx, selectPractice+` WHERE assistant_id = $1`, assistantID)
}

func (r *Repository) loadOne(ctx context.Context, query string, arg string) (*Practice, error) {
	var p Practice
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&p.ID, &p.Name, &p.Timezone, &p.OfficePhone,
		&p.NexHealthSubdomain, &p.NexHealthLocationID, &p.AssistantID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("practice %s", arg)
		}
		return nil, fmt.Errorf("practice: load: %w", err)
	}

	types, err := r.appointmentTypes(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.AppointmentTypes = types

	plans, err := r.insurancePlans(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.AcceptedInsurance = plans
	return &p, nil
}

func (r *Repository) appointmentTypes(ctx context.Context, practiceID string) ([]AppointmentType, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, COALESCE(spoken_name, ''), duration_minutes, keywords, active
		FROM appointment_types
		WHERE practice_id = $1
		ORDER BY name
	`, practiceID)
	if err != nil {
		return nil, fmt.Errorf("practice: list appointment types: %w", err)
	}
	defer rows.Close()

	var out []AppointmentType
	for rows.Next() {
		var t AppointmentType
		if err := rows.Scan(&t.ID, &t.Name, &t.SpokenName, &t.DurationMinutes, &t.Keywords, &t.Active); err != nil {
			return nil, fmt.Errorf("practice: scan appointment type: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("practice: iterate appointment types: %w", err)
	}
	return out, nil
}

func (r *Repository) insurancePlans(ctx context.Context, practiceID string) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT plan_name FROM practice_insurance_plans
		WHERE practice_id = $1
		ORDER BY plan_name
	`, practiceID)
	if err != nil {
		return nil, fmt.Errorf("practice: list insurance plans: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("practice: scan insurance plan: %w", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("practice: iterate insurance plans: %w", err)
	}
	return out, nil
}

// EligibleResources returns the active providers and operatories linked to the
// appointment type. An empty set of either is a configuration problem.
func (r *Repository) EligibleResources(ctx context.Context, practiceID, appointmentTypeID string) (*Resources, error) {
	res := &Resources{}

	rows, err := r.db.Query(ctx, `
		SELECT p.id, p.name, p.nexhealth_provider_id
		FROM providers p
		INNER JOIN appointment_type_providers atp ON atp.provider_id = p.id
		WHERE atp.appointment_type_id = $1 AND p.practice_id = $2 AND p.active
		ORDER BY p.name
	`, appointmentTypeID, practiceID)
	if err != nil {
		return nil, fmt.Errorf("practice: eligible providers: %w", err)
	}
	for rows.Next() {
		var pr Provider
		if err := rows.Scan(&pr.ID, &pr.Name, &pr.NexHealthProviderID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("practice: scan provider: %w", err)
		}
		res.Providers = append(res.Providers, pr)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("practice: iterate providers: %w", err)
	}

	rows, err = r.db.Query(ctx, `
		SELECT o.id, o.name, o.nexhealth_operatory_id
		FROM operatories o
		INNER JOIN appointment_type_operatories ato ON ato.operatory_id = o.id
		WHERE ato.appointment_type_id = $1 AND o.practice_id = $2 AND o.active
		ORDER BY o.name
	`, appointmentTypeID, practiceID)
	if err != nil {
		return nil, fmt.Errorf("practice: eligible operatories: %w", err)
	}
	for rows.Next() {
		var op Operatory
		if err := rows.Scan(&op.ID, &op.Name, &op.NexHealthOperatoryID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("practice: scan operatory: %w", err)
		}
		res.Operatories = append(res.Operatories, op)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("practice: iterate operatories: %w", err)
	}

	if len(res.Providers) == 0 {
		return nil, apperr.Configuration("no active providers for appointment type %s", appointmentTypeID)
	}
	if len(res.Operatories) == 0 {
		return nil, apperr.Configuration("no active operatories for appointment type %s", appointmentTypeID)
	}
	return res, nil
}
