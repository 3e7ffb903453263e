// Package bookings keeps the audit log of completed bookings: one row per
// confirmed appointment, optionally mirrored to S3 as JSON.
package bookings

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Record summarizes one completed booking.
type Record struct {
	ID                  uuid.UUID `json:"id"`
	CallID              string    `json:"call_id"`
	PracticeID          string    `json:"practice_id"`
	PatientID           int       `json:"patient_id"`
	PatientName         string    `json:"patient_name"`
	PatientPhone        string    `json:"patient_phone,omitempty"`
	PatientEmail        string    `json:"patient_email,omitempty"`
	AppointmentTypeID   string    `json:"appointment_type_id"`
	AppointmentTypeName string    `json:"appointment_type_name"`
	ProviderID          int       `json:"provider_id"`
	OperatoryID         int       `json:"operatory_id,omitempty"`
	StartTime           time.Time `json:"start_time"`
	ExternalBookingID   string    `json:"external_booking_id"`
	CreatedAt           time.Time `json:"created_at"`
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository writes booking records to Postgres.
type Repository struct {
	db execer
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("bookings: pgx pool required")
	}
	return &Repository{db: pool}
}

func newRepositoryWithDB(db execer) *Repository {
	return &Repository{db: db}
}

const insertBookingRecord = `
	INSERT INTO booking_records (
		id, call_id, practice_id, patient_id, patient_name, patient_phone, patient_email,
		appointment_type_id, appointment_type_name, provider_id, operatory_id,
		start_time, external_booking_id, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (external_booking_id) DO NOTHING
`

// Insert stores rec. A record for the same external booking id is ignored.
func (r *Repository) Insert(ctx context.Context, rec *Record) error {
	_, err := r.db.Exec(ctx, insertBookingRecord,
		rec.ID, rec.CallID, rec.PracticeID, rec.PatientID, rec.PatientName, rec.PatientPhone, rec.PatientEmail,
		rec.AppointmentTypeID, rec.AppointmentTypeName, rec.ProviderID, nullableInt(rec.OperatoryID),
		rec.StartTime, rec.ExternalBookingID, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("bookings: insert record: %w", err)
	}
	return nil
}

func nullableInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
