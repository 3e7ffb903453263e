package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/dental-scheduling-assistant/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/dental-scheduling-assistant/internal/http/middleware"
	"github.com/wolfman30/dental-scheduling-assistant/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Health         *handlers.HealthHandler
	ToolWebhook    *handlers.ToolWebhookHandler
	AdminCalls     *handlers.AdminCallsHandler
	MetricsHandler http.Handler

	// WebhookSecret is the shared X-Vapi-Secret value; empty disables the check.
	WebhookSecret   string
	AdminAuthSecret string
	// WebhookRateLimit is requests per second per IP on /tool-webhook; zero disables it.
	WebhookRateLimit float64
	WebhookRateBurst int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	health := cfg.Health
	if health == nil {
		health = handlers.NewHealthHandler(nil)
	}
	r.Get("/health", health.HealthCheck)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.ToolWebhook != nil {
		r.Group(func(webhook chi.Router) {
			webhook.Use(httpmiddleware.RateLimit(cfg.WebhookRateLimit, cfg.WebhookRateBurst))
			webhook.Use(httpmiddleware.VapiSecret(cfg.WebhookSecret))
			webhook.Post("/tool-webhook", cfg.ToolWebhook.HandleToolCalls)
		})
	}

	if cfg.AdminCalls != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Route("/calls/{callID}", func(call chi.Router) {
				call.Get("/state", cfg.AdminCalls.GetState)
				call.Get("/tool-executions", cfg.AdminCalls.ListToolExecutions)
			})
		})
	}

	return r
}
