package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/dental-scheduling-assistant/internal/callstate"
	"github.com/wolfman30/dental-scheduling-assistant/internal/toollog"
	"github.com/wolfman30/dental-scheduling-assistant/pkg/logging"
)

// StateReader loads the persisted state of a call.
type StateReader interface {
	State(ctx context.Context, callID string) (*callstate.State, error)
}

// ExecutionLister lists the tool executions of a call.
type ExecutionLister interface {
	ListByCall(ctx context.Context, callID string, limit int) ([]toollog.Execution, error)
}

// AdminCallsHandler exposes read-only call inspection for operators.
type AdminCallsHandler struct {
	states     StateReader
	executions ExecutionLister
	logger     *logging.Logger
}

func NewAdminCallsHandler(states StateReader, executions ExecutionLister, logger *logging.Logger) *AdminCallsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminCallsHandler{states: states, executions: executions, logger: logger}
}

// GetState handles GET /admin/calls/{callID}/state.
func (h *AdminCallsHandler) GetState(w http.ResponseWriter, r *http.Request) {
	callID := strings.TrimSpace(chi.URLParam(r, "callID"))
	if callID == "" {
		jsonError(w, "missing callID", http.StatusBadRequest)
		return
	}
	if h.states == nil {
		jsonError(w, "call state unavailable", http.StatusServiceUnavailable)
		return
	}
	st, err := h.states.State(r.Context(), callID)
	if errors.Is(err, callstate.ErrNotFound) {
		jsonError(w, "call not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("admin: load call state failed", "call_id", callID, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ListToolExecutions handles GET /admin/calls/{callID}/tool-executions.
func (h *AdminCallsHandler) ListToolExecutions(w http.ResponseWriter, r *http.Request) {
	callID := strings.TrimSpace(chi.URLParam(r, "callID"))
	if callID == "" {
		jsonError(w, "missing callID", http.StatusBadRequest)
		return
	}
	if h.executions == nil {
		jsonError(w, "tool log unavailable", http.StatusServiceUnavailable)
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			jsonError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	list, err := h.executions.ListByCall(r.Context(), callID, limit)
	if err != nil {
		h.logger.Error("admin: list tool executions failed", "call_id", callID, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"call_id":    callID,
		"executions": list,
	})
}
