package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/dental-scheduling-assistant/internal/app/bootstrap"
	appconfig "github.com/wolfman30/dental-scheduling-assistant/internal/config"
	"github.com/wolfman30/dental-scheduling-assistant/pkg/logging"
)

func main() {
	// A local .env is optional; deployed environments set variables directly.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting dental scheduling assistant",
		"env", cfg.Env,
		"port", cfg.Port,
		"state_store", cfg.StateStore,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	api, err := bootstrap.BuildAPI(ctx, cfg, logger, bootstrap.Options{})
	cancel()
	if err != nil {
		logger.Error("failed to build api", "error", err)
		os.Exit(1)
	}
	defer api.Close()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
