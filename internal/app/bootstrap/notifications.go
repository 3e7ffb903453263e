package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/dental-scheduling-assistant/internal/config"
	"github.com/wolfman30/dental-scheduling-assistant/internal/notify"
	"github.com/wolfman30/dental-scheduling-assistant/pkg/logging"
)

// BuildNotificationQueue returns the SQS queue carrying booking confirmations.
func BuildNotificationQueue(ctx context.Context, cfg *appconfig.Config) (*notify.SQSQueue, error) {
	queueURL := strings.TrimSpace(cfg.NotificationQueueURL)
	if queueURL == "" {
		return nil, fmt.Errorf("bootstrap: NOTIFICATION_QUEUE_URL is required")
	}
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return notify.NewSQSQueue(sqs.NewFromConfig(awsCfg), queueURL), nil
}

// BuildEmailSender picks the confirmation email provider. "auto" prefers
// SendGrid, then SES, then a stub that only logs.
func BuildEmailSender(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (notify.EmailSender, error) {
	if logger == nil {
		logger = logging.Default()
	}
	provider := cfg.EmailProvider
	if provider == "" || provider == "auto" {
		switch {
		case strings.TrimSpace(cfg.SendGridAPIKey) != "":
			provider = "sendgrid"
		case strings.TrimSpace(cfg.SESFromEmail) != "":
			provider = "ses"
		default:
			provider = "stub"
		}
	}

	switch provider {
	case "sendgrid":
		if strings.TrimSpace(cfg.SendGridAPIKey) == "" || strings.TrimSpace(cfg.SendGridFromEmail) == "" {
			return nil, fmt.Errorf("bootstrap: sendgrid requires SENDGRID_API_KEY and SENDGRID_FROM_EMAIL")
		}
		return notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger), nil
	case "ses":
		if strings.TrimSpace(cfg.SESFromEmail) == "" {
			return nil, fmt.Errorf("bootstrap: ses requires SES_FROM_EMAIL")
		}
		awsCfg, err := LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger), nil
	case "stub":
		logger.Warn("email provider not configured; confirmations are logged only")
		return notify.NewStubEmailSender(logger), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown EMAIL_PROVIDER %q", provider)
	}
}
