// Package memory provides an in-process persistence implementation for
// tests and local development.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/studio233/flowcore/pkg/models"
	"github.com/studio233/flowcore/pkg/persistence"
)

// Persistence keeps definitions and the run ledger in memory, guarded
// by a single mutex. Values are deep-copied on the way in and out so
// callers can never mutate stored state behind the ledger's back.
type Persistence struct {
	mu          sync.Mutex
	definitions map[string]*models.WorkflowDefinition
	runs        map[string]*models.WorkflowRun
	steps       map[string][]*models.WorkflowStep
}

// NewPersistence creates an empty in-memory persistence layer.
func NewPersistence() *Persistence {
	return &Persistence{
		definitions: make(map[string]*models.WorkflowDefinition),
		runs:        make(map[string]*models.WorkflowRun),
		steps:       make(map[string][]*models.WorkflowStep),
	}
}

func (p *Persistence) Definitions() persistence.DefinitionRepository { return (*definitionRepo)(p) }

func (p *Persistence) Runs() persistence.RunRepository { return (*runRepo)(p) }

func (p *Persistence) HealthCheck(_ context.Context) error { return nil }

func (p *Persistence) Close(_ context.Context) error { return nil }

func clone[T any](in T) T {
	data, err := json.Marshal(in)
	if err != nil {
		panic(fmt.Sprintf("memory: clone marshal: %v", err))
	}

	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("memory: clone unmarshal: %v", err))
	}

	return out
}

type definitionRepo Persistence

func (r *definitionRepo) Create(_ context.Context, def *models.WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()

	if def.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return persistence.NewDefinitionError("Create", "", err)
		}

		def.ID = id.String()
	}

	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}

	def.UpdatedAt = now
	r.definitions[def.ID] = clone(def)

	return nil
}

func (r *definitionRepo) GetByID(_ context.Context, owner persistence.Owner, id string) (*models.WorkflowDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, ok := r.definitions[id]
	if !ok || def.UserID != owner.UserID || def.ProjectID != owner.ProjectID {
		return nil, persistence.NewDefinitionError("GetByID", id, persistence.ErrDefinitionNotFound)
	}

	return clone(def), nil
}

func (r *definitionRepo) List(_ context.Context, owner persistence.Owner) ([]*models.WorkflowDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	defs := make([]*models.WorkflowDefinition, 0)

	for _, def := range r.definitions {
		if def.UserID == owner.UserID && def.ProjectID == owner.ProjectID {
			defs = append(defs, clone(def))
		}
	}

	sort.Slice(defs, func(i, j int) bool {
		return defs[i].UpdatedAt.After(defs[j].UpdatedAt)
	})

	return defs, nil
}

func (r *definitionRepo) Update(_ context.Context, def *models.WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.definitions[def.ID]
	if !ok || existing.UserID != def.UserID || existing.ProjectID != def.ProjectID {
		return persistence.NewDefinitionError("Update", def.ID, persistence.ErrDefinitionNotFound)
	}

	updated := clone(def)
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now().UTC()
	r.definitions[def.ID] = updated
	def.UpdatedAt = updated.UpdatedAt

	return nil
}

func (r *definitionRepo) Delete(_ context.Context, owner persistence.Owner, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, ok := r.definitions[id]
	if !ok || def.UserID != owner.UserID || def.ProjectID != owner.ProjectID {
		return persistence.NewDefinitionError("Delete", id, persistence.ErrDefinitionNotFound)
	}

	delete(r.definitions, id)

	return nil
}

type runRepo Persistence

func (r *runRepo) CreateRun(_ context.Context, run *models.WorkflowRun, steps []*models.WorkflowStep) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if run.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return persistence.NewRunError("CreateRun", "", err)
		}

		run.ID = id.String()
	}

	if run.State == "" {
		run.State = models.RunStatePending
	}

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	stored := make([]*models.WorkflowStep, 0, len(steps))

	for _, step := range steps {
		if step.ID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				return persistence.NewRunError("CreateRun", run.ID, err)
			}

			step.ID = id.String()
		}

		step.RunID = run.ID

		if step.State == "" {
			step.State = models.RunStatePending
		}

		stored = append(stored, clone(step))
	}

	r.runs[run.ID] = clone(run)
	r.steps[run.ID] = stored

	return nil
}

func (r *runRepo) GetRun(_ context.Context, userID, runID string) (*persistence.RunDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[runID]
	if !ok || run.UserID != userID {
		return nil, persistence.NewRunError("GetRun", runID, persistence.ErrRunNotFound)
	}

	steps := clone(r.steps[runID])
	sort.Slice(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	return &persistence.RunDetail{Run: clone(run), Steps: steps}, nil
}

func (r *runRepo) ListRuns(_ context.Context, owner persistence.Owner, limit int) ([]*models.WorkflowRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	runs := make([]*models.WorkflowRun, 0)

	for _, run := range r.runs {
		if run.UserID == owner.UserID && run.ProjectID == owner.ProjectID {
			runs = append(runs, clone(run))
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}

	return runs, nil
}

func (r *runRepo) UpdateRunState(_ context.Context, runID string, state models.RunState, output, errPayload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[runID]
	if !ok {
		return persistence.NewRunError("UpdateRunState", runID, persistence.ErrRunNotFound)
	}

	if run.State.IsTerminal() {
		return persistence.NewRunError("UpdateRunState", runID, persistence.ErrRunFinished)
	}

	now := time.Now().UTC()
	run.State = state

	if state == models.RunStateRunning && run.StartedAt == nil {
		run.StartedAt = &now
	}

	if output != nil {
		merged := clone(output)
		if existing, ok := run.Output[models.OutputDefinitionKey]; ok {
			if _, overwritten := merged[models.OutputDefinitionKey]; !overwritten {
				merged[models.OutputDefinitionKey] = existing
			}
		}

		run.Output = merged
	}

	if errPayload != nil {
		run.Error = clone(errPayload)
	}

	if state.IsTerminal() && run.FinishedAt == nil {
		run.FinishedAt = &now
	}

	return nil
}

func (r *runRepo) UpdateStep(_ context.Context, runID string, order int, update persistence.StepUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[runID]
	if !ok {
		return persistence.NewRunError("UpdateStep", runID, persistence.ErrRunNotFound)
	}

	if run.State.IsTerminal() {
		return persistence.NewRunError("UpdateStep", runID, persistence.ErrRunFinished)
	}

	for _, step := range r.steps[runID] {
		if step.Order != order {
			continue
		}

		if update.State != "" {
			step.State = update.State
		}

		if update.Output != nil {
			step.Output = clone(update.Output)
		}

		if update.Error != nil {
			step.Error = clone(update.Error)
		}

		if update.StartedAt != nil {
			step.StartedAt = update.StartedAt
		}

		if update.FinishedAt != nil {
			step.FinishedAt = update.FinishedAt
		}

		return nil
	}

	return persistence.NewRunError("UpdateStep", runID, persistence.ErrStepNotFound)
}
