package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/dental-scheduling-assistant/internal/config"
	"github.com/wolfman30/dental-scheduling-assistant/internal/notify"
)

func TestBuildEmailSender(t *testing.T) {
	ctx := context.Background()
	awsCreds := appconfig.Config{AWSRegion: "us-east-1", AWSAccessKeyID: "test", AWSSecretAccessKey: "test"}

	cases := []struct {
		name    string
		mutate  func(*appconfig.Config)
		want    any
		wantErr bool
	}{
		{"auto without credentials", func(c *appconfig.Config) { c.EmailProvider = "auto" }, &notify.StubEmailSender{}, false},
		{"auto prefers sendgrid", func(c *appconfig.Config) {
			c.EmailProvider = "auto"
			c.SendGridAPIKey = "SG.key"
			c.SendGridFromEmail = "front@example.com"
			c.SESFromEmail = "ses@example.com"
		}, &notify.SendGridSender{}, false},
		{"auto falls back to ses", func(c *appconfig.Config) {
			c.EmailProvider = "auto"
			c.SESFromEmail = "ses@example.com"
		}, &notify.SESSender{}, false},
		{"sendgrid missing key", func(c *appconfig.Config) { c.EmailProvider = "sendgrid" }, nil, true},
		{"ses missing sender", func(c *appconfig.Config) { c.EmailProvider = "ses" }, nil, true},
		{"unknown provider", func(c *appconfig.Config) { c.EmailProvider = "pigeon" }, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := awsCreds
			tc.mutate(&cfg)
			sender, err := BuildEmailSender(ctx, &cfg, nil)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tc.want, sender)
		})
	}
}

func TestBuildNotificationQueueRequiresURL(t *testing.T) {
	_, err := BuildNotificationQueue(context.Background(), &appconfig.Config{AWSRegion: "us-east-1"})
	require.Error(t, err)

	q, err := BuildNotificationQueue(context.Background(), &appconfig.Config{
		AWSRegion:            "us-east-1",
		AWSAccessKeyID:       "test",
		AWSSecretAccessKey:   "test",
		NotificationQueueURL: "http://localhost:4566/000000000000/booking-confirmations",
	})
	require.NoError(t, err)
	assert.NotNil(t, q)
}
