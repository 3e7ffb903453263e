package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-scheduling-assistant/internal/assistant"
	"github.com/wolfman30/dental-scheduling-assistant/internal/booking"
	"github.com/wolfman30/dental-scheduling-assistant/internal/callstate"
	"github.com/wolfman30/dental-scheduling-assistant/internal/nexhealth"
	"github.com/wolfman30/dental-scheduling-assistant/internal/patients"
	"github.com/wolfman30/dental-scheduling-assistant/internal/practice"
	"github.com/wolfman30/dental-scheduling-assistant/internal/slots"
	"github.com/wolfman30/dental-scheduling-assistant/pkg/logging"
)

// --- mocks ---

type recordingRunner struct {
	mu    sync.Mutex
	calls []assistant.Invocation
}

func (r *recordingRunner) Handle(_ context.Context, inv assistant.Invocation) assistant.Reply {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, inv)
	return assistant.Reply{ToolCallID: inv.ToolCallID, Result: "ran " + inv.Tool}
}

type webhookCounts struct {
	seen []string
}

func (c *webhookCounts) ObserveWebhook(messageType, status string) {
	c.seen = append(c.seen, messageType+"/"+status)
}

func testDirectory() *practice.StaticDirectory {
	return practice.NewStaticDirectory(
		practice.StaticPractice{Practice: practice.Practice{
			ID: "prac-1", Name: "Bright Smiles", Timezone: "America/Chicago",
			NexHealthSubdomain: "bright", NexHealthLocationID: 42, AssistantID: "asst-1",
		}},
		practice.StaticPractice{Practice: practice.Practice{
			ID: "prac-default", Name: "Main Street Dental", Timezone: "America/New_York",
			NexHealthSubdomain: "main", NexHealthLocationID: 7,
		}},
	)
}

// --- helpers ---

func postWebhook(t *testing.T, h *ToolWebhookHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/tool-webhook", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.HandleToolCalls(rec, req)
	return rec
}

func decodeResults(t *testing.T, rec *httptest.ResponseRecorder) []assistant.Reply {
	t.Helper()
	var resp ToolWebhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Results)
	return resp.Results
}

func toolCallsBody(call string, calls string) string {
	return `{"message":{"type":"tool-calls","call":` + call + `,"toolCallList":` + calls + `}}`
}

// --- tests ---

func TestToolWebhookRunsEveryToolCall(t *testing.T) {
	runner := &recordingRunner{}
	counts := &webhookCounts{}
	h := NewToolWebhookHandler(ToolWebhookHandlerConfig{Runner: runner, Practices: testDirectory(), Metrics: counts, Logger: logging.Default()})

	rec := postWebhook(t, h, toolCallsBody(
		`{"id":"call-1","assistantId":"asst-1"}`,
		`[{"id":"tc-1","function":{"name":"findAppointmentType","arguments":{"reason":"cleaning"}}},
		  {"id":"tc-2","function":{"name":"checkAvailableSlots","arguments":"{\"timeOfDay\":\"morning\"}"}}]`,
	))

	assert.Equal(t, http.StatusOK, rec.Code)
	results := decodeResults(t, rec)
	require.Len(t, results, 2)
	assert.Equal(t, "tc-1", results[0].ToolCallID)
	assert.Equal(t, "ran checkAvailableSlots", results[1].Result)

	require.Len(t, runner.calls, 2)
	assert.Equal(t, "call-1", runner.calls[0].CallID)
	assert.Equal(t, "prac-1", runner.calls[0].Practice.ID)
	assert.JSONEq(t, `{"reason":"cleaning"}`, string(runner.calls[0].Arguments))
	assert.Equal(t, `"{\"timeOfDay\":\"morning\"}"`, string(runner.calls[1].Arguments))
	assert.Equal(t, []string{"tool-calls/ok"}, counts.seen)
}

func TestToolWebhookPracticeResolution(t *testing.T) {
	cases := []struct {
		name     string
		call     string
		fallback string
		want     string
	}{
		{"metadata wins", `{"id":"c","assistantId":"asst-1","metadata":{"practiceId":"prac-default"}}`, "", "prac-default"},
		{"assistant id", `{"id":"c","assistantId":"asst-1"}`, "prac-default", "prac-1"},
		{"unknown assistant falls back", `{"id":"c","assistantId":"asst-404"}`, "prac-default", "prac-default"},
		{"nothing configured", `{"id":"c","assistantId":"asst-404"}`, "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := &recordingRunner{}
			h := NewToolWebhookHandler(ToolWebhookHandlerConfig{Runner: runner, Practices: testDirectory(), DefaultPracticeID: tc.fallback})

			rec := postWebhook(t, h, toolCallsBody(tc.call, `[{"id":"tc-1","function":{"name":"checkInsurance"}}]`))
			assert.Equal(t, http.StatusOK, rec.Code)
			require.Len(t, runner.calls, 1)
			if tc.want == "" {
				assert.Nil(t, runner.calls[0].Practice)
				return
			}
			require.NotNil(t, runner.calls[0].Practice)
			assert.Equal(t, tc.want, runner.calls[0].Practice.ID)
		})
	}
}

func TestToolWebhookIgnoresOtherMessages(t *testing.T) {
	runner := &recordingRunner{}
	counts := &webhookCounts{}
	h := NewToolWebhookHandler(ToolWebhookHandlerConfig{Runner: runner, Practices: testDirectory(), Metrics: counts})

	rec := postWebhook(t, h, `{"message":{"type":"status-update","call":{"id":"call-1"}}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeResults(t, rec))
	assert.Empty(t, runner.calls)
	assert.Equal(t, []string{"status-update/ignored"}, counts.seen)
}

func TestToolWebhookMalformedBody(t *testing.T) {
	runner := &recordingRunner{}
	h := NewToolWebhookHandler(ToolWebhookHandlerConfig{Runner: runner, Practices: testDirectory()})

	rec := postWebhook(t, h, `{"message":{"type":"tool-calls","toolCallList":[{"id":"tc-9","function":{"name":`)
	assert.Equal(t, http.StatusOK, rec.Code)
	results := decodeResults(t, rec)
	require.Len(t, results, 1)
	assert.Equal(t, "tc-9", results[0].ToolCallID)
	assert.NotEmpty(t, results[0].Error)

	rec = postWebhook(t, h, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, runner.calls)
}

// stubs so a real orchestrator can be built; none of them should be reached.
type unreachable struct{ t *testing.T }

func (u unreachable) FindAvailableSlots(context.Context, string, *practice.Practice, string, int) (*slots.Result, error) {
	u.t.Fatal("slot search should not run")
	return nil, nil
}

func (u unreachable) Match(context.Context, string, []slots.SlotData, *time.Location) *slots.SlotData {
	u.t.Fatal("slot matcher should not run")
	return nil
}

type unreachableTypes struct{ t *testing.T }

func (u unreachableTypes) Match(context.Context, string, []practice.AppointmentType) (practice.AppointmentType, error) {
	u.t.Fatal("type matcher should not run")
	return practice.AppointmentType{}, nil
}

type unreachablePatients struct{ t *testing.T }

func (u unreachablePatients) FindAndConfirm(context.Context, *practice.Practice, string, string) (*patients.Match, error) {
	u.t.Fatal("patient lookup should not run")
	return nil, nil
}

func (u unreachablePatients) Create(context.Context, *practice.Practice, string, nexhealth.NewPatient) (*patients.Match, error) {
	u.t.Fatal("patient create should not run")
	return nil, nil
}

type unreachableUpstream struct{ t *testing.T }

func (u unreachableUpstream) HoldSlot(context.Context, string, int, nexhealth.HoldRequest) (*nexhealth.Hold, error) {
	u.t.Fatal("hold should not run")
	return nil, nil
}

func (u unreachableUpstream) CreateAppointment(context.Context, string, int, nexhealth.AppointmentRequest) (*nexhealth.Appointment, error) {
	u.t.Fatal("create appointment should not run")
	return nil, nil
}

func TestToolWebhookUnknownToolEndToEnd(t *testing.T) {
	store := callstate.NewMemoryStore()
	orch := assistant.New(assistant.Deps{
		Persister:   callstate.NewPersister(store, nil),
		Slots:       unreachable{t},
		SlotMatcher: unreachable{t},
		TypeMatcher: unreachableTypes{t},
		Patients:    unreachablePatients{t},
		Committer:   booking.NewCommitter(unreachableUpstream{t}, 0, nil),
	})
	h := NewToolWebhookHandler(ToolWebhookHandlerConfig{Runner: orch, Practices: testDirectory()})

	rec := postWebhook(t, h, toolCallsBody(
		`{"id":"call-1","assistantId":"asst-1"}`,
		`[{"id":"tc-1","function":{"name":"doStuff","arguments":{}}}]`,
	))

	assert.Equal(t, http.StatusOK, rec.Code)
	results := decodeResults(t, rec)
	require.Len(t, results, 1)
	assert.Equal(t, "tc-1", results[0].ToolCallID)
	assert.Equal(t, "Unknown tool: doStuff", results[0].Error)

	_, err := store.Load(context.Background(), "call-1")
	assert.ErrorIs(t, err, callstate.ErrNotFound)
}
