package models

import "time"

// RunState is the lifecycle state of a workflow run.
type RunState string

const (
	RunStatePending   RunState = "PENDING"
	RunStateRunning   RunState = "RUNNING"
	RunStateCompleted RunState = "COMPLETED"
	RunStateFailed    RunState = "FAILED"
	RunStateCanceled  RunState = "CANCELED"
)

// IsTerminal reports whether the state admits no further transitions.
func (s RunState) IsTerminal() bool {
	return s == RunStateCompleted || s == RunStateFailed || s == RunStateCanceled
}

// OutputDefinitionKey is the key under which a run's frozen definition
// snapshot is stored in its output payload.
const OutputDefinitionKey = "definition"

// WorkflowRun is one execution attempt of a WorkflowDefinition. The
// definition snapshot frozen into Output at run start is immune to
// later edits of the live definition.
type WorkflowRun struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	ProjectID  string         `json:"project_id"`
	UserID     string         `json:"user_id"`
	State      RunState       `json:"state"`
	Input      map[string]any `json:"input,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Error      map[string]any `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// WorkflowStep is one node's execution record within a run. Steps are
// created atomically with their run, one per node in topological
// order, and are never added, removed or reordered afterwards.
type WorkflowStep struct {
	ID         string         `json:"id"`
	RunID      string         `json:"run_id"`
	Name       string         `json:"name"`
	Order      int            `json:"order"`
	ToolName   string         `json:"tool_name,omitempty"`
	State      RunState       `json:"state"`
	Input      map[string]any `json:"input,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Error      map[string]any `json:"error,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}
