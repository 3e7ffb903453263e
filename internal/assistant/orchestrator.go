// Package assistant is the conversation state machine behind the voice
// assistant's tools. Each tool call loads the call's state, runs one named
// step (plus a bounded number of follow-up steps), persists the result and returns the
// text the assistant should speak.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/dental-scheduling-assistant/internal/apperr"
	"github.com/wolfman30/dental-scheduling-assistant/internal/booking"
	"github.com/wolfman30/dental-scheduling-assistant/internal/callstate"
	"github.com/wolfman30/dental-scheduling-assistant/internal/nexhealth"
	"github.com/wolfman30/dental-scheduling-assistant/internal/patients"
	"github.com/wolfman30/dental-scheduling-assistant/internal/practice"
	"github.com/wolfman30/dental-scheduling-assistant/internal/slots"
	"github.com/wolfman30/dental-scheduling-assistant/internal/toollog"
	"github.com/wolfman30/dental-scheduling-assistant/pkg/logging"
)

// maxFollowUps bounds how many chained steps one tool call may run, e.g.
// identifyPatient -> selectAndBookSlot -> checkAvailableSlots after a lost slot.
const maxFollowUps = 2

// Tool names as registered on the voice assistant.
const (
	ToolFindAppointmentType   = "findAppointmentType"
	ToolCheckAvailableSlots   = "checkAvailableSlots"
	ToolIdentifyPatient       = "identifyPatient"
	ToolCollectPatientDetails = "collectPatientDetails"
	ToolCheckInsurance        = "checkInsurance"
	ToolSelectAndBookSlot     = "selectAndBookSlot"
)

// SlotFinder searches availability.
type SlotFinder interface {
	FindAvailableSlots(ctx context.Context, appointmentTypeID string, p *practice.Practice, startDate string, searchDays int) (*slots.Result, error)
}

// SlotChooser maps an utterance onto one of the presented slots.
type SlotChooser interface {
	Match(ctx context.Context, utterance string, presented []slots.SlotData, loc *time.Location) *slots.SlotData
}

// TypeMatcher classifies the reason for a visit.
type TypeMatcher interface {
	Match(ctx context.Context, reason string, types []practice.AppointmentType) (practice.AppointmentType, error)
}

// PatientResolver finds or registers the caller.
type PatientResolver interface {
	FindAndConfirm(ctx context.Context, p *practice.Practice, fullName, dateOfBirth string) (*patients.Match, error)
	Create(ctx context.Context, p *practice.Practice, appointmentTypeID string, fields nexhealth.NewPatient) (*patients.Match, error)
}

// Committer runs the hold/book protocol.
type Committer interface {
	Select(st *callstate.State, slot slots.SlotData) error
	Hold(ctx context.Context, p *practice.Practice, st *callstate.State) error
	Book(ctx context.Context, p *practice.Practice, st *callstate.State) (*booking.Confirmation, error)
}

// ExecutionLog records tool executions.
type ExecutionLog interface {
	Record(ctx context.Context, e toollog.Execution) error
}

// ToolObserver receives per-tool outcome and latency.
type ToolObserver interface {
	ObserveTool(tool, outcome string, d time.Duration)
}

// Deps wires the orchestrator.
type Deps struct {
	Persister   *callstate.Persister
	Slots       SlotFinder
	SlotMatcher SlotChooser
	TypeMatcher TypeMatcher
	Patients    PatientResolver
	Collector   *patients.Collector
	Committer   Committer
	Replay      *ReplayCache
	Executions  ExecutionLog
	Metrics     ToolObserver
	Logger      *logging.Logger
	Now         func() time.Time
}

// Invocation is one tool call from the voice platform.
type Invocation struct {
	CallID     string
	ToolCallID string
	Tool       string
	Arguments  json.RawMessage
	Practice   *practice.Practice
}

// Reply is what the voice platform receives for a tool call.
type Reply struct {
	ToolCallID string `json:"toolCallId"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NextTool asks the orchestrator to run a follow-up step in the same turn.
type NextTool struct {
	Name string
	Args json.RawMessage
}

// Result is what a tool handler produces. A nil State means the handler made
// no change that should be kept.
type Result struct {
	Message  string
	Error    string
	State    *callstate.State
	NextTool *NextTool

	kind apperr.Kind
}

type turn struct {
	practice *practice.Practice
	state    *callstate.State
	// stageAtStart is the stage loaded for this tool call, before any step ran.
	stageAtStart callstate.Stage
}

type toolFunc func(ctx context.Context, t *turn, args json.RawMessage) Result

type Orchestrator struct {
	deps  Deps
	tools map[string]toolFunc
}

func New(deps Deps) *Orchestrator {
	if deps.Persister == nil {
		panic("assistant: persister required")
	}
	if deps.Slots == nil || deps.SlotMatcher == nil || deps.TypeMatcher == nil {
		panic("assistant: slot search and matchers required")
	}
	if deps.Patients == nil || deps.Committer == nil {
		panic("assistant: patient resolver and committer required")
	}
	if deps.Collector == nil {
		deps.Collector = patients.NewCollector()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	o := &Orchestrator{deps: deps}
	o.tools = map[string]toolFunc{
		ToolFindAppointmentType:   o.findAppointmentType,
		ToolCheckAvailableSlots:   o.checkAvailableSlots,
		ToolIdentifyPatient:       o.identifyPatient,
		ToolCollectPatientDetails: o.collectPatientDetails,
		ToolCheckInsurance:        o.checkInsurance,
		ToolSelectAndBookSlot:     o.selectAndBookSlot,
	}
	return o
}

// State returns the persisted state of a call.
func (o *Orchestrator) State(ctx context.Context, callID string) (*callstate.State, error) {
	return o.deps.Persister.Store().Load(ctx, callID)
}

// Handle runs one tool call end to end. It never returns an error; failures
// are reported in the reply.
func (o *Orchestrator) Handle(ctx context.Context, inv Invocation) Reply {
	start := o.deps.Now()
	logger := o.deps.Logger.With("call_id", inv.CallID, "tool", inv.Tool, "tool_call_id", inv.ToolCallID)

	cached, status, err := o.deps.Replay.Claim(ctx, inv.CallID, inv.ToolCallID)
	if err != nil {
		logger.Warn("tool replay claim failed", "error", err)
	}
	switch status {
	case ClaimReplayed:
		logger.Info("tool call replayed from cache")
		o.observe(inv.Tool, "replayed", start)
		return cached
	case ClaimInFlight:
		logger.Info("tool call already in flight")
		o.observe(inv.Tool, "in_flight", start)
		return Reply{ToolCallID: inv.ToolCallID, Result: msgStillWorking}
	}

	reply, toolsRun, kind := o.run(ctx, inv, logger)
	reply.ToolCallID = inv.ToolCallID

	outcome := "success"
	if kind != "" {
		outcome = string(kind)
	}
	o.observe(inv.Tool, outcome, start)
	o.recordExecution(ctx, inv, reply, toolsRun, kind == "", start, logger)
	if err := o.deps.Replay.Remember(ctx, inv.CallID, reply); err != nil {
		logger.Warn("tool replay store failed", "error", err)
	}
	return reply
}

func (o *Orchestrator) run(ctx context.Context, inv Invocation, logger *logging.Logger) (Reply, []string, apperr.Kind) {
	if strings.TrimSpace(inv.CallID) == "" {
		return Reply{Error: "Missing call id"}, nil, apperr.KindValidation
	}
	handler, ok := o.tools[inv.Tool]
	if !ok {
		logger.Warn("unknown tool")
		return Reply{Error: "Unknown tool: " + inv.Tool}, nil, apperr.KindValidation
	}
	if err := inv.Practice.ValidateUpstream(); err != nil {
		res := failure(inv.Practice, err)
		return Reply{Result: res.Message, Error: res.Error}, nil, res.kind
	}
	args, err := normalizeArguments(inv.Arguments)
	if err != nil {
		logger.Info("tool arguments rejected", "error", err)
		return Reply{Error: "I couldn't read the details for that request."}, nil, apperr.KindValidation
	}

	loaded, err := o.deps.Persister.Store().Load(ctx, inv.CallID)
	var before *callstate.State
	switch {
	case errors.Is(err, callstate.ErrNotFound):
		loaded = callstate.New(inv.CallID, inv.Practice.ID, o.deps.Now())
	case err != nil:
		logger.Error("load call state failed", "error", err)
		res := failure(inv.Practice, apperr.Upstream(err, "load call state"))
		return Reply{Result: res.Message}, nil, apperr.KindUpstream
	default:
		before = loaded
	}

	t := &turn{practice: inv.Practice, state: loaded.Clone(), stageAtStart: loaded.Stage}
	res := handler(ctx, t, args)
	toolsRun := []string{inv.Tool}
	current := loaded
	if res.State != nil {
		current = res.State
	}

	messages := []string{res.Message}
	errMsg := res.Error
	kind := res.kind
	for hops := 0; res.NextTool != nil && res.Error == "" && hops < maxFollowUps; hops++ {
		next := res.NextTool
		follow, ok := o.tools[next.Name]
		if !ok {
			break
		}
		logger.Debug("chaining tool", "next_tool", next.Name)
		t2 := &turn{practice: inv.Practice, state: current.Clone(), stageAtStart: t.stageAtStart}
		nextArgs := next.Args
		if len(nextArgs) == 0 {
			nextArgs = json.RawMessage(`{}`)
		}
		res = follow(ctx, t2, nextArgs)
		toolsRun = append(toolsRun, next.Name)
		if res.State != nil {
			current = res.State
		}
		messages = append(messages, res.Message)
		errMsg = res.Error
		if kind == "" {
			kind = res.kind
		}
	}

	if current != loaded {
		current.UpdatedAt = o.deps.Now().UTC()
		if _, err := o.deps.Persister.Persist(ctx, before, current); err != nil {
			logger.Error("persist call state failed", "error", err, "booking_id", current.Booking.ConfirmedBookingID)
			if current.IsBooked() && !loaded.IsBooked() {
				// The appointment exists upstream but the call does not know it.
				messages = append(messages, fmt.Sprintf("Your confirmation number is %s.", current.Booking.ConfirmedBookingID))
				kind = apperr.KindUpstream
			}
		}
	}
	return Reply{Result: joinMessages(messages), Error: errMsg}, toolsRun, kind
}

func (o *Orchestrator) observe(tool, outcome string, start time.Time) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.ObserveTool(tool, outcome, o.deps.Now().Sub(start))
	}
}

func (o *Orchestrator) recordExecution(ctx context.Context, inv Invocation, reply Reply, toolsRun []string, success bool, start time.Time, logger *logging.Logger) {
	if o.deps.Executions == nil {
		return
	}
	practiceID := ""
	if inv.Practice != nil {
		practiceID = inv.Practice.ID
	}
	args := inv.Arguments
	if normalized, err := normalizeArguments(inv.Arguments); err == nil {
		args = normalized
	} else if len(args) > 0 {
		// keep the raw text as a JSON string so the column stays valid JSON
		args, _ = json.Marshal(string(args))
	}
	if toolsRun == nil {
		toolsRun = []string{}
	}
	err := o.deps.Executions.Record(context.WithoutCancel(ctx), toollog.Execution{
		CallID:     inv.CallID,
		PracticeID: practiceID,
		ToolCallID: inv.ToolCallID,
		ToolName:   inv.Tool,
		Arguments:  args,
		Result:     reply.Result,
		Error:      reply.Error,
		Success:    success,
		LatencyMS:  o.deps.Now().Sub(start).Milliseconds(),
		ToolsRun:   toolsRun,
	})
	if err != nil {
		logger.Warn("tool execution log failed", "error", err)
	}
}

func joinMessages(parts []string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
