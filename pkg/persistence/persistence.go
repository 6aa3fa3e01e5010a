// Package persistence provides the storage abstraction for workflow
// definitions and the run ledger.
package persistence

import (
	"context"
	"time"

	"github.com/studio233/flowcore/pkg/models"
)

// Owner identifies the caller on every scoped operation. Operations on
// resources the owner does not hold fail closed as not-found.
type Owner struct {
	UserID    string
	ProjectID string
}

// RunDetail is a run together with its steps ordered by step order.
type RunDetail struct {
	Run   *models.WorkflowRun    `json:"run"`
	Steps []*models.WorkflowStep `json:"steps"`
}

// StepUpdate is a partial, in-place mutation of a single step. Nil
// fields are left untouched.
type StepUpdate struct {
	State      models.RunState
	Output     map[string]any
	Error      map[string]any
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// DefinitionRepository stores workflow definitions.
type DefinitionRepository interface {
	Create(ctx context.Context, def *models.WorkflowDefinition) error
	GetByID(ctx context.Context, owner Owner, id string) (*models.WorkflowDefinition, error)
	// List returns the owner's definitions for a project, most recently
	// updated first.
	List(ctx context.Context, owner Owner) ([]*models.WorkflowDefinition, error)
	Update(ctx context.Context, def *models.WorkflowDefinition) error
	Delete(ctx context.Context, owner Owner, id string) error
}

// RunRepository is the run ledger: the durable source of truth for run
// and step state.
type RunRepository interface {
	// CreateRun inserts the run and all of its steps atomically; a run is
	// never visible with a partial step set.
	CreateRun(ctx context.Context, run *models.WorkflowRun, steps []*models.WorkflowStep) error

	// GetRun returns the run and its steps, scoped to the owning user.
	GetRun(ctx context.Context, userID, runID string) (*RunDetail, error)

	// ListRuns returns the owner's runs for a project, most recent first,
	// capped at limit.
	ListRuns(ctx context.Context, owner Owner, limit int) ([]*models.WorkflowRun, error)

	// UpdateRunState transitions the run, merging the given payloads.
	// Writes to a terminal run are rejected with ErrRunFinished; the
	// transition into a terminal state sets FinishedAt exactly once.
	UpdateRunState(ctx context.Context, runID string, state models.RunState, output, errPayload map[string]any) error

	// UpdateStep mutates the step at the given order. Rejected with
	// ErrRunFinished once the parent run is terminal.
	UpdateStep(ctx context.Context, runID string, order int, update StepUpdate) error
}

// Persistence bundles the repositories behind one connection lifecycle.
type Persistence interface {
	Definitions() DefinitionRepository
	Runs() RunRepository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
