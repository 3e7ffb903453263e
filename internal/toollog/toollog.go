// Package toollog records every tool invocation handled for a call: the tool
// name, its arguments, what was said back, whether it succeeded and how long
// it took.
package toollog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Execution is one tool call as seen by the orchestrator.
type Execution struct {
	ID         string          `json:"id"`
	CallID     string          `json:"call_id"`
	PracticeID string          `json:"practice_id,omitempty"`
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	Result     string          `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Success    bool            `json:"success"`
	LatencyMS  int64           `json:"latency_ms"`
	// ToolsRun lists the tools executed for this call id, including a chained one.
	ToolsRun  []string  `json:"tools_run"`
	CreatedAt time.Time `json:"created_at"`
}

// Log writes executions to the tool_executions table.
type Log struct {
	db *sql.DB
}

func New(db *sql.DB) *Log {
	return &Log{db: db}
}

// Record stores one execution.
func (l *Log) Record(ctx context.Context, e Execution) error {
	if l == nil || l.db == nil {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	args := e.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO tool_executions (
			id, call_id, practice_id, tool_call_id, tool_name, arguments,
			result, error, success, latency_ms, tools_run, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		e.ID,
		e.CallID,
		nullString(e.PracticeID),
		e.ToolCallID,
		e.ToolName,
		[]byte(args),
		nullString(e.Result),
		nullString(e.Error),
		e.Success,
		e.LatencyMS,
		pq.Array(e.ToolsRun),
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("toollog: insert execution: %w", err)
	}
	return nil
}

// ListByCall returns the executions for a call, oldest first.
func (l *Log) ListByCall(ctx context.Context, callID string, limit int) ([]Execution, error) {
	if l == nil || l.db == nil {
		return []Execution{}, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, call_id, practice_id, tool_call_id, tool_name, arguments,
		       result, error, success, latency_ms, tools_run, created_at
		FROM tool_executions
		WHERE call_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, callID, limit)
	if err != nil {
		return nil, fmt.Errorf("toollog: list executions: %w", err)
	}
	defer rows.Close()

	out := []Execution{}
	for rows.Next() {
		var (
			e                          Execution
			practiceID, result, errMsg sql.NullString
			args                       []byte
		)
		if err := rows.Scan(&e.ID, &e.CallID, &practiceID, &e.ToolCallID, &e.ToolName, &args,
			&result, &errMsg, &e.Success, &e.LatencyMS, pq.Array(&e.ToolsRun), &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("toollog: scan execution: %w", err)
		}
		e.PracticeID = practiceID.String
		e.Result = result.String
		e.Error = errMsg.String
		if len(args) > 0 {
			e.Arguments = json.RawMessage(args)
		}
		if e.ToolsRun == nil {
			e.ToolsRun = []string{}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("toollog: list executions: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
