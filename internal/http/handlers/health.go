package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HealthHandler reports liveness and the state of optional dependencies.
type HealthHandler struct {
	checks  map[string]HealthCheck
	timeout time.Duration
}

func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 2 * time.Second}
}

// HealthCheck handles GET /health. Any failing dependency turns the status to
// "degraded" with 503.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	deps := map[string]string{}
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			deps[name] = err.Error()
			status = "degraded"
			continue
		}
		deps[name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	resp := map[string]any{"status": status}
	if len(deps) > 0 {
		resp["dependencies"] = deps
	}
	writeJSON(w, code, resp)
}
