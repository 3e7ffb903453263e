package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/dental-scheduling-assistant/pkg/logging"
)

const kindBookingConfirmed = "booking_confirmed.v1"

// BookingConfirmed is published after an appointment is created upstream.
type BookingConfirmed struct {
	BookingID       string `json:"booking_id"`
	CallID          string `json:"call_id"`
	PracticeID      string `json:"practice_id"`
	PracticeName    string `json:"practice_name"`
	OfficePhone     string `json:"office_phone,omitempty"`
	PatientName     string `json:"patient_name"`
	PatientEmail    string `json:"patient_email,omitempty"`
	AppointmentType string `json:"appointment_type"`
	// When is the appointment time already rendered in the practice timezone.
	When string `json:"when"`
}

type envelope struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	PublishedAt time.Time         `json:"published_at"`
	Booking     *BookingConfirmed `json:"booking,omitempty"`
}

// Publisher enqueues notification payloads.
type Publisher struct {
	queue  Queue
	logger *logging.Logger
}

func NewPublisher(queue Queue, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("notify: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// PublishBookingConfirmed enqueues a confirmation email job.
func (p *Publisher) PublishBookingConfirmed(ctx context.Context, evt BookingConfirmed) error {
	body, err := json.Marshal(envelope{
		ID:          uuid.NewString(),
		Kind:        kindBookingConfirmed,
		PublishedAt: time.Now().UTC(),
		Booking:     &evt,
	})
	if err != nil {
		return fmt.Errorf("notify: encode payload: %w", err)
	}
	if err := p.queue.Send(ctx, string(body)); err != nil {
		return fmt.Errorf("notify: enqueue booking confirmation: %w", err)
	}
	p.logger.Debug("booking confirmation enqueued", "booking_id", evt.BookingID, "call_id", evt.CallID)
	return nil
}

// ConfirmationEmail renders the patient-facing confirmation.
func ConfirmationEmail(evt BookingConfirmed) EmailMessage {
	practice := evt.PracticeName
	if practice == "" {
		practice = "your dental office"
	}
	subject := fmt.Sprintf("Your %s appointment is confirmed", evt.AppointmentType)

	var text strings.Builder
	fmt.Fprintf(&text, "Hi %s,\n\n", evt.PatientName)
	fmt.Fprintf(&text, "Your %s at %s is booked for %s.\n", evt.AppointmentType, practice, evt.When)
	fmt.Fprintf(&text, "Confirmation number: %s\n", evt.BookingID)
	if evt.OfficePhone != "" {
		fmt.Fprintf(&text, "\nNeed to reschedule? Call us at %s.\n", evt.OfficePhone)
	}

	var body strings.Builder
	fmt.Fprintf(&body, "<p>Hi %s,</p>", html.EscapeString(evt.PatientName))
	fmt.Fprintf(&body, "<p>Your <strong>%s</strong> at %s is booked for <strong>%s</strong>.</p>",
		html.EscapeString(evt.AppointmentType), html.EscapeString(practice), html.EscapeString(evt.When))
	fmt.Fprintf(&body, "<p>Confirmation number: %s</p>", html.EscapeString(evt.BookingID))
	if evt.OfficePhone != "" {
		fmt.Fprintf(&body, "<p>Need to reschedule? Call us at %s.</p>", html.EscapeString(evt.OfficePhone))
	}

	return EmailMessage{
		To:         evt.PatientEmail,
		ToName:     evt.PatientName,
		Subject:    subject,
		Text:       text.String(),
		HTML:       body.String(),
		Category:   CategoryBookingConfirmation,
		PracticeID: evt.PracticeID,
	}
}
