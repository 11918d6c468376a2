package core

import "time"

// Mode selects how a prompt is executed.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeMulti  Mode = "multi"
)

// ToolCall records one executed tool invocation, in execution order.
type ToolCall struct {
	Name   string         `json:"name"`
	Input  map[string]any `json:"input"`
	Result string         `json:"result"`
	Error  bool           `json:"error,omitempty"`
}

// PlanStep is one intended step of a multi-step plan.
type PlanStep struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	ToolName    string `json:"toolName,omitempty"`
}

// Plan is the planner's decomposition of a prompt. It is not modified after creation.
type Plan struct {
	Intent    string     `json:"intent"`
	StepCount int        `json:"stepCount"`
	Steps     []PlanStep `json:"steps"`
}

// StepStatus is the outcome of a step.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepError   StepStatus = "error"
)

// StepResult reports one completed step.
type StepResult struct {
	StepID      string     `json:"stepId"`
	Status      StepStatus `json:"status"`
	Description string     `json:"description,omitempty"`
	ToolName    string     `json:"toolName,omitempty"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// ValidationResult is the post-run review.
type ValidationResult struct {
	Passed      bool     `json:"passed"`
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions"`
}

// InsightAction is a follow-up a client may offer for an insight.
type InsightAction struct {
	Label  string `json:"label"`
	Action string `json:"action"`
}

// Insight is an advisory message interleaved with run events.
type Insight struct {
	ID      string          `json:"id"`
	Message string          `json:"message"`
	Type    string          `json:"type,omitempty"`
	Actions []InsightAction `json:"actions,omitempty"`
}

// RunRequest is one user instruction against a project.
type RunRequest struct {
	UserID    string
	ProjectID string
	Prompt    string
	// Mode forces a mode; empty lets the classifier decide.
	Mode Mode
}

// RunResult is the outcome of a completed run.
type RunResult struct {
	RunID      string            `json:"runId"`
	Mode       Mode              `json:"mode"`
	Response   string            `json:"response"`
	ToolCalls  []ToolCall        `json:"toolCalls"`
	Plan       *Plan             `json:"plan,omitempty"`
	Steps      []StepResult      `json:"steps,omitempty"`
	Validation *ValidationResult `json:"validation,omitempty"`
	Exhausted  bool              `json:"exhausted,omitempty"`
	Iterations int               `json:"iterations"`
	StartedAt  time.Time         `json:"startedAt"`
	Duration   time.Duration     `json:"duration"`
}

// CompletedRun is what background work learns from after the terminal event.
type CompletedRun struct {
	RunID     string
	UserID    string
	ProjectID string
	Prompt    string
	Response  string
	ToolCalls []ToolCall
	Failed    bool
}
