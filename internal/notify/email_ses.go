package notify

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/wolfman30/dental-scheduling-assistant/pkg/logging"
)

const utf8Charset = "UTF-8"

// SES message tag values allow only ASCII letters, digits, '_' and '-'.
var sesTagUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]`)

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender delivers through Amazon SES v2.
type SESSender struct {
	client sesAPI
	from   sender
	logger *logging.Logger
}

// SESConfig holds configuration for AWS SES.
type SESConfig struct {
	FromEmail string
	FromName  string
}

func NewSESSender(client *sesv2.Client, cfg SESConfig, logger *logging.Logger) *SESSender {
	if client == nil {
		return nil
	}
	return newSESSender(client, cfg, logger)
}

func newSESSender(client sesAPI, cfg SESConfig, logger *logging.Logger) *SESSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &SESSender{client: client, from: newSender(cfg.FromEmail, cfg.FromName), logger: logger}
}

func utf8Content(s string) *types.Content {
	return &types.Content{Data: aws.String(s), Charset: aws.String(utf8Charset)}
}

func (s *SESSender) input(msg EmailMessage) *sesv2.SendEmailInput {
	body := &types.Body{}
	if msg.Text != "" {
		body.Text = utf8Content(msg.Text)
	}
	if msg.HTML != "" {
		body.Html = utf8Content(msg.HTML)
	}

	var tags []types.MessageTag
	if msg.Category != "" {
		tags = append(tags, types.MessageTag{Name: aws.String("category"), Value: aws.String(sesTagUnsafe.ReplaceAllString(msg.Category, "_"))})
	}
	if msg.PracticeID != "" {
		tags = append(tags, types.MessageTag{Name: aws.String("practice_id"), Value: aws.String(sesTagUnsafe.ReplaceAllString(msg.PracticeID, "_"))})
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from.header()),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{Subject: utf8Content(msg.Subject), Body: body},
		},
		EmailTags: tags,
	}
}

func (s *SESSender) Send(ctx context.Context, msg EmailMessage) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("notify: ses client not configured")
	}
	if err := msg.validate(); err != nil {
		return err
	}

	out, err := s.client.SendEmail(ctx, s.input(msg))
	if err != nil {
		s.logger.Error("ses send failed", "error", err, "practice_id", msg.PracticeID)
		return fmt.Errorf("notify: ses send: %w", err)
	}
	s.logger.Info("confirmation email sent", "provider", "ses", "message_id", aws.ToString(out.MessageId), "practice_id", msg.PracticeID)
	return nil
}

var _ EmailSender = (*SESSender)(nil)
