// Package mcp hosts the tool registry, the retrying request handler, the
// concrete analysis tools, and the stdio server that exposes them over the
// Model Context Protocol.
package mcp

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Parameter describes one input a tool accepts.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// ToolResponse is the uniform result envelope every tool returns.
type ToolResponse struct {
	Success  bool           `json:"success"`
	Message  string         `json:"message,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
	Errors   []string       `json:"errors,omitempty"`
}

// Tool is one registrable analysis capability.
type Tool interface {
	Name() string
	Description() string
	Parameters() []Parameter
	Execute(ctx context.Context, params map[string]any) (*ToolResponse, error)
}

// PlanStep is one tool invocation within an execution plan.
type PlanStep struct {
	ToolName string         `json:"tool_name"`
	Params   map[string]any `json:"params,omitempty"`
	Priority int            `json:"priority"`
	Required bool           `json:"required"`
}

// MCPRequest carries a user query plus the tool plan derived for it.
type MCPRequest struct {
	ID            string         `json:"id"`
	Query         string         `json:"query"`
	ExecutionPlan []PlanStep     `json:"execution_plan,omitempty"`
	ContextData   map[string]any `json:"context_data,omitempty"`
}

// NewRequest builds a request with a fresh identifier.
func NewRequest(query string, plan []PlanStep) *MCPRequest {
	return &MCPRequest{
		ID:            uuid.NewString(),
		Query:         query,
		ExecutionPlan: plan,
	}
}

// Status values surfaced on MCPResponse.
const (
	StatusSuccess        = "success"
	StatusPartialSuccess = "partial_success"
	StatusError          = "error"
)

// MCPResponse aggregates per-tool results for one request.
type MCPResponse struct {
	RequestID   string                   `json:"request_id"`
	Status      string                   `json:"status"`
	ToolResults map[string]*ToolResponse `json:"tool_results,omitempty"`
	Metadata    ResponseMetadata         `json:"metadata"`
}

// ResponseMetadata records execution accounting for a request.
type ResponseMetadata struct {
	ToolsPlanned   int           `json:"tools_planned"`
	ToolsExecuted  int           `json:"tools_executed"`
	ToolsSucceeded int           `json:"tools_succeeded"`
	ToolsFailed    int           `json:"tools_failed"`
	ToolsSkipped   int           `json:"tools_skipped"`
	Elapsed        time.Duration `json:"elapsed"`
}

// AttemptState tracks one tool attempt through its lifecycle.
type AttemptState string

const (
	StateCreated         AttemptState = "CREATED"
	StateRunning         AttemptState = "RUNNING"
	StateSuccess         AttemptState = "SUCCESS"
	StateFailedRetryable AttemptState = "FAILED_RETRYABLE"
	StateFailedPermanent AttemptState = "FAILED_PERMANENT"
	StateTimedOut        AttemptState = "TIMED_OUT"
)

// Terminal reports whether the state admits no further transitions.
func (s AttemptState) Terminal() bool {
	switch s {
	case StateSuccess, StateFailedPermanent, StateTimedOut:
		return true
	}
	return false
}

var attemptTransitions = map[AttemptState][]AttemptState{
	StateCreated:         {StateRunning},
	StateRunning:         {StateSuccess, StateFailedRetryable, StateFailedPermanent, StateTimedOut},
	StateFailedRetryable: {StateRunning},
}

// Execution is the observable record of one tool invocation, including its
// attempt history.
type Execution struct {
	Tool     string       `json:"tool"`
	State    AttemptState `json:"state"`
	Attempts int          `json:"attempts"`
	History  []AttemptState
}

func newExecution(tool string) *Execution {
	return &Execution{Tool: tool, State: StateCreated, History: []AttemptState{StateCreated}}
}

// transition moves the execution to next if the state machine allows it.
func (e *Execution) transition(next AttemptState) bool {
	for _, allowed := range attemptTransitions[e.State] {
		if allowed == next {
			e.State = next
			e.History = append(e.History, next)
			if next == StateRunning {
				e.Attempts++
			}
			return true
		}
	}
	return false
}
