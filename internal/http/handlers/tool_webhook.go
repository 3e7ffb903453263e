package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/wolfman30/dental-scheduling-assistant/internal/apperr"
	"github.com/wolfman30/dental-scheduling-assistant/internal/assistant"
	"github.com/wolfman30/dental-scheduling-assistant/internal/practice"
	"github.com/wolfman30/dental-scheduling-assistant/pkg/logging"
)

// ----- VAPI tool-call webhook payloads -----

// ToolWebhookEvent is the envelope VAPI posts to the server URL.
type ToolWebhookEvent struct {
	Message ToolWebhookMessage `json:"message"`
}

// ToolWebhookMessage carries the call and, for "tool-calls" messages, the
// tool invocations the assistant's model decided to make.
type ToolWebhookMessage struct {
	Type         string          `json:"type"`
	Call         ToolWebhookCall `json:"call"`
	ToolCallList []ToolCall      `json:"toolCallList,omitempty"`
	// ToolCalls is the older name for the same list.
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
}

type ToolWebhookCall struct {
	ID          string         `json:"id"`
	AssistantID string         `json:"assistantId,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type ToolCall struct {
	ID       string           `json:"id"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction holds the tool name and its arguments, which arrive either
// as an object or as a JSON-encoded string.
type ToolCallFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolWebhookResponse is returned for every handled webhook.
type ToolWebhookResponse struct {
	Results []assistant.Reply `json:"results"`
}

const messageTypeToolCalls = "tool-calls"

var toolCallIDPattern = regexp.MustCompile(`"id"\s*:\s*"([^"]+)"`)

// ----- Handler -----

// ToolRunner executes one tool call.
type ToolRunner interface {
	Handle(ctx context.Context, inv assistant.Invocation) assistant.Reply
}

// PracticeLookup resolves the practice a call belongs to.
type PracticeLookup interface {
	Get(ctx context.Context, practiceID string) (*practice.Practice, error)
	FindByAssistantID(ctx context.Context, assistantID string) (*practice.Practice, error)
}

// WebhookObserver counts webhook deliveries.
type WebhookObserver interface {
	ObserveWebhook(messageType, status string)
}

// ToolWebhookHandler receives VAPI tool-call webhooks and answers every tool
// call in the request. Application failures are reported per tool call with
// HTTP 200 so the assistant can speak them.
type ToolWebhookHandler struct {
	runner            ToolRunner
	practices         PracticeLookup
	defaultPracticeID string
	metrics           WebhookObserver
	logger            *logging.Logger
}

// ToolWebhookHandlerConfig configures the ToolWebhookHandler.
type ToolWebhookHandlerConfig struct {
	Runner            ToolRunner
	Practices         PracticeLookup
	DefaultPracticeID string
	Metrics           WebhookObserver
	Logger            *logging.Logger
}

func NewToolWebhookHandler(cfg ToolWebhookHandlerConfig) *ToolWebhookHandler {
	if cfg.Runner == nil {
		panic("handlers: tool runner required")
	}
	if cfg.Practices == nil {
		panic("handlers: practice lookup required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &ToolWebhookHandler{
		runner:            cfg.Runner,
		practices:         cfg.Practices,
		defaultPracticeID: strings.TrimSpace(cfg.DefaultPracticeID),
		metrics:           cfg.Metrics,
		logger:            cfg.Logger,
	}
}

// HandleToolCalls is the HTTP handler for POST /tool-webhook.
func (h *ToolWebhookHandler) HandleToolCalls(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.logger.Error("tool-webhook: failed to read body", "error", err)
		h.observe("unknown", "bad_request")
		jsonError(w, "bad request", http.StatusBadRequest)
		return
	}

	var event ToolWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Warn("tool-webhook: failed to parse event", "error", err)
		if id := recoverToolCallID(body); id != "" {
			h.observe("unknown", "malformed")
			writeJSON(w, http.StatusOK, ToolWebhookResponse{Results: []assistant.Reply{{
				ToolCallID: id,
				Error:      "Malformed request body",
			}}})
			return
		}
		h.observe("unknown", "bad_request")
		jsonError(w, "bad request", http.StatusBadRequest)
		return
	}

	msg := event.Message
	if msg.Type != messageTypeToolCalls {
		h.logger.Debug("tool-webhook: ignoring message", "type", msg.Type, "call_id", msg.Call.ID)
		h.observe(msg.Type, "ignored")
		writeJSON(w, http.StatusOK, ToolWebhookResponse{Results: []assistant.Reply{}})
		return
	}

	calls := msg.ToolCallList
	if len(calls) == 0 {
		calls = msg.ToolCalls
	}
	logger := h.logger.With("call_id", msg.Call.ID, "assistant_id", msg.Call.AssistantID)
	logger.Info("tool-webhook: received tool calls", "count", len(calls))

	p, err := h.resolvePractice(ctx, msg.Call)
	if err != nil {
		// The orchestrator reports a missing practice as a configuration problem.
		logger.Warn("tool-webhook: practice lookup failed", "error", err)
	}

	results := make([]assistant.Reply, 0, len(calls))
	for _, call := range calls {
		results = append(results, h.runner.Handle(ctx, assistant.Invocation{
			CallID:     msg.Call.ID,
			ToolCallID: call.ID,
			Tool:       call.Function.Name,
			Arguments:  call.Function.Arguments,
			Practice:   p,
		}))
	}
	h.observe(msg.Type, "ok")
	writeJSON(w, http.StatusOK, ToolWebhookResponse{Results: results})
}

// resolvePractice picks the practice from call metadata, then from the
// assistant id, then from the configured default.
func (h *ToolWebhookHandler) resolvePractice(ctx context.Context, call ToolWebhookCall) (*practice.Practice, error) {
	if id := metadataString(call.Metadata, "practiceId"); id != "" {
		return h.practices.Get(ctx, id)
	}
	if call.AssistantID != "" {
		p, err := h.practices.FindByAssistantID(ctx, call.AssistantID)
		if err == nil {
			return p, nil
		}
		if apperr.KindOf(err) != apperr.KindNotFound {
			return nil, err
		}
	}
	if h.defaultPracticeID != "" {
		return h.practices.Get(ctx, h.defaultPracticeID)
	}
	return nil, apperr.Configuration("no practice for assistant %q", call.AssistantID)
}

func (h *ToolWebhookHandler) observe(messageType, status string) {
	if h.metrics != nil {
		if messageType == "" {
			messageType = "unknown"
		}
		h.metrics.ObserveWebhook(messageType, status)
	}
}

func metadataString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// recoverToolCallID finds the first tool call id in a body that failed to
// decode so the failure can still be attributed to that call.
func recoverToolCallID(body []byte) string {
	s := string(body)
	idx := strings.Index(s, `"toolCallList"`)
	if idx < 0 {
		idx = strings.Index(s, `"toolCalls"`)
	}
	if idx < 0 {
		return ""
	}
	m := toolCallIDPattern.FindStringSubmatch(s[idx:])
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
