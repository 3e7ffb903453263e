package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/wolfman30/dental-scheduling-assistant/internal/app/bootstrap"
	appconfig "github.com/wolfman30/dental-scheduling-assistant/internal/config"
	"github.com/wolfman30/dental-scheduling-assistant/internal/notify"
	"github.com/wolfman30/dental-scheduling-assistant/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	queue, err := bootstrap.BuildNotificationQueue(ctx, cfg)
	if err != nil {
		logger.Error("failed to build notification queue", "error", err)
		os.Exit(1)
	}
	sender, err := bootstrap.BuildEmailSender(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build email sender", "error", err)
		os.Exit(1)
	}

	worker := notify.NewWorker(queue, sender, logger, notify.WithWorkerCount(2))
	logger.Info("notification worker started", "queue", cfg.NotificationQueueURL, "email_provider", cfg.EmailProvider)
	worker.Start(ctx)

	<-ctx.Done()
	logger.Info("notification worker shutting down")
	worker.Wait()
}
