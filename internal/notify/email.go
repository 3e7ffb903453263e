package notify

import (
	"context"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/dental-scheduling-assistant/pkg/logging"
)

// CategoryBookingConfirmation tags confirmation emails at the provider.
const CategoryBookingConfirmation = "booking-confirmation"

const defaultFromName = "Your Dental Office"

// ErrNoRecipient is returned when a message has no destination address.
var ErrNoRecipient = errors.New("notify: email has no recipient")

// EmailSender delivers one email. SendGrid, SES and the stub implement it.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is a rendered patient email.
type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
	// Category and PracticeID are attached as provider metadata for reporting.
	Category   string
	PracticeID string
}

func (m EmailMessage) validate() error {
	if strings.TrimSpace(m.To) == "" {
		return ErrNoRecipient
	}
	return nil
}

// sender identifies the practice mailbox the confirmations come from.
type sender struct {
	email string
	name  string
}

func newSender(email, name string) sender {
	if strings.TrimSpace(name) == "" {
		name = defaultFromName
	}
	return sender{email: strings.TrimSpace(email), name: name}
}

// header renders the From header with RFC 5322 quoting of the display name.
func (s sender) header() string {
	return (&netmail.Address{Name: s.name, Address: s.email}).String()
}

// SendGridSender delivers through the SendGrid v3 mail API.
type SendGridSender struct {
	client *sendgrid.Client
	from   sender
	logger *logging.Logger
}

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SendGridSender{
		client: sendgrid.NewSendClient(cfg.APIKey),
		from:   newSender(cfg.FromEmail, cfg.FromName),
		logger: logger,
	}
}

func (s *SendGridSender) message(msg EmailMessage) *mail.SGMailV3 {
	htmlBody := msg.HTML
	if htmlBody == "" {
		htmlBody = msg.Text
	}
	m := mail.NewSingleEmail(
		mail.NewEmail(s.from.name, s.from.email),
		msg.Subject,
		mail.NewEmail(msg.ToName, msg.To),
		msg.Text,
		htmlBody,
	)
	if msg.Category != "" {
		m.AddCategories(msg.Category)
	}
	if msg.PracticeID != "" {
		m.SetCustomArg("practice_id", msg.PracticeID)
	}
	return m
}

func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}
	if err := msg.validate(); err != nil {
		return err
	}

	resp, err := s.client.SendWithContext(ctx, s.message(msg))
	if err != nil {
		s.logger.Error("sendgrid send failed", "error", err, "practice_id", msg.PracticeID)
		return fmt.Errorf("notify: sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		s.logger.Error("sendgrid rejected email", "status", resp.StatusCode, "body", resp.Body, "practice_id", msg.PracticeID)
		return fmt.Errorf("notify: sendgrid returned status %d", resp.StatusCode)
	}

	s.logger.Info("confirmation email sent", "provider", "sendgrid", "category", msg.Category, "practice_id", msg.PracticeID)
	return nil
}

// StubEmailSender logs instead of sending. Used when no provider is configured.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(_ context.Context, msg EmailMessage) error {
	if err := msg.validate(); err != nil {
		return err
	}
	s.logger.Info("email delivery disabled; dropping message", "subject", msg.Subject, "category", msg.Category, "practice_id", msg.PracticeID)
	return nil
}

var (
	_ EmailSender = (*SendGridSender)(nil)
	_ EmailSender = (*StubEmailSender)(nil)
)
