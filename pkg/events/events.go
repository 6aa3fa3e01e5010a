// Package events defines the messages exchanged with the asynchronous
// execution backend.
package events

import (
	"time"

	"github.com/studio233/flowcore/pkg/models"
)

type EventType string

// Topic carries every run lifecycle message.
const Topic = "flowcore.runs"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// RunRequestedEvent asks the execution backend to process a run.
	RunRequestedEvent EventType = "workflow.run.requested"

	// RunFinishedEvent reports that the backend reached a terminal state
	// for a run.
	RunFinishedEvent EventType = "workflow.run.finished"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// RunRequested is the single execution-request message sent per run.
// The idempotency key is the run id, so at-least-once delivery on the
// backend side never produces duplicate step execution.
type RunRequested struct {
	BaseEvent

	RunID          string         `json:"run_id"`
	WorkflowID     string         `json:"workflow_id"`
	ProjectID      string         `json:"project_id"`
	UserID         string         `json:"user_id"`
	Nodes          []*models.Node `json:"nodes"`
	Edges          []*models.Edge `json:"edges"`
	Order          []string       `json:"order"`
	Input          map[string]any `json:"input,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
}

func (r RunRequested) GetType() EventType {
	return RunRequestedEvent
}

// RunFinished announces a terminal run state to any interested
// consumer (dashboards, notification fan-out).
type RunFinished struct {
	BaseEvent

	RunID    string          `json:"run_id"`
	State    models.RunState `json:"state"`
	Duration time.Duration   `json:"duration"`
}

func (r RunFinished) GetType() EventType {
	return RunFinishedEvent
}
