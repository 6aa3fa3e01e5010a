package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/studio233/flowcore/pkg/dispatch"
	"github.com/studio233/flowcore/pkg/events"
	"github.com/studio233/flowcore/pkg/graph"
	"github.com/studio233/flowcore/pkg/models"
	"github.com/studio233/flowcore/pkg/persistence"
)

// DefaultListRunsLimit caps run listings when the caller does not ask
// for a specific page size.
const DefaultListRunsLimit = 20

// MaxListRunsLimit is the hard ceiling on a single listing.
const MaxListRunsLimit = 100

// Run starts and inspects workflow runs. Starting a run freezes the
// definition into the run record, so the execution backend never reads
// the live, possibly edited definition.
type Run struct {
	persistence persistence.Persistence
	dispatcher  *dispatch.Dispatcher
	logger      *slog.Logger
}

// NewRun creates a new run service.
func NewRun(persistence persistence.Persistence, dispatcher *dispatch.Dispatcher, logger *slog.Logger) *Run {
	return &Run{
		persistence: persistence,
		dispatcher:  dispatcher,
		logger:      logger,
	}
}

// StartRun validates the workflow graph, records the run with one step
// per node in dependency order, and hands it to the execution backend.
// An invalid graph fails before anything is written: zero rows, no
// messages.
func (r *Run) StartRun(ctx context.Context, owner persistence.Owner, workflowID string, input map[string]any) (*persistence.RunDetail, error) {
	if workflowID == "" {
		return nil, ErrWorkflowIDRequired
	}

	def, err := r.persistence.Definitions().GetByID(ctx, owner, workflowID)
	if err != nil {
		return nil, err
	}

	order, err := graph.Order(def.Nodes, def.Edges)
	if err != nil {
		return nil, NewValidationError(
			"StartRun",
			"INVALID_GRAPH",
			err.Error(),
			ErrInvalidGraph,
		)
	}

	now := time.Now().UTC()

	run := &models.WorkflowRun{
		WorkflowID: def.ID,
		ProjectID:  owner.ProjectID,
		UserID:     owner.UserID,
		State:      models.RunStatePending,
		Input:      input,
		Output: map[string]any{
			models.OutputDefinitionKey: map[string]any{
				"nodes": def.Nodes,
				"edges": def.Edges,
				"order": order,
			},
		},
		CreatedAt: now,
	}

	steps := make([]*models.WorkflowStep, 0, len(order))

	for position, nodeID := range order {
		node := def.NodeByID(nodeID)

		steps = append(steps, &models.WorkflowStep{
			Name:     node.Label(),
			Order:    position,
			ToolName: node.ToolName(),
			State:    models.RunStatePending,
			Input:    map[string]any{"node": node.Data},
		})
	}

	err = r.persistence.Runs().CreateRun(ctx, run, steps)
	if err != nil {
		return nil, fmt.Errorf("failed to record workflow run: %w", err)
	}

	request := &events.RunRequested{
		RunID:      run.ID,
		WorkflowID: def.ID,
		ProjectID:  owner.ProjectID,
		UserID:     owner.UserID,
		Nodes:      def.Nodes,
		Edges:      def.Edges,
		Order:      order,
		Input:      input,
	}

	err = r.dispatcher.Enqueue(ctx, request)
	if err != nil {
		// The dispatcher already marked the run FAILED in the ledger.
		return nil, err
	}

	r.logger.InfoContext(ctx, "Workflow run enqueued",
		"run_id", run.ID, "workflow_id", def.ID, "steps", len(steps))

	return &persistence.RunDetail{Run: run, Steps: steps}, nil
}

// FetchRun returns a run with its steps, scoped to the owning user.
func (r *Run) FetchRun(ctx context.Context, userID, runID string) (*persistence.RunDetail, error) {
	return r.persistence.Runs().GetRun(ctx, userID, runID)
}

// ListRuns returns the owner's runs, most recent first.
func (r *Run) ListRuns(ctx context.Context, owner persistence.Owner, limit int) ([]*models.WorkflowRun, error) {
	if limit <= 0 {
		limit = DefaultListRunsLimit
	}

	if limit > MaxListRunsLimit {
		limit = MaxListRunsLimit
	}

	return r.persistence.Runs().ListRuns(ctx, owner, limit)
}
