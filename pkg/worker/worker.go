// Package worker is the execution backend: it consumes run requests
// from the event bus and drives runs through the ledger, step by step.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/studio233/flowcore/pkg/eventbus"
	"github.com/studio233/flowcore/pkg/events"
	"github.com/studio233/flowcore/pkg/models"
	"github.com/studio233/flowcore/pkg/otelhelper"
	"github.com/studio233/flowcore/pkg/persistence"
)

// Executor executes one run at a time, strictly in the order the
// request carries. Every state write goes through the ledger, so a run
// that was finished elsewhere (canceled, duplicate delivery) turns
// further work into no-ops instead of corrupting history.
type Executor struct {
	runs      persistence.RunRepository
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewExecutor creates a run executor. Tracing uses the globally
// registered provider and is a no-op when none is configured.
func NewExecutor(runs persistence.RunRepository, publisher eventbus.EventPublisher, logger *slog.Logger) *Executor {
	return &Executor{
		runs:      runs,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("flowcore-worker"),
	}
}

// Register wires the executor onto the bus. Must be called before the
// bus subscribes.
func (e *Executor) Register(bus eventbus.EventSubscriber) {
	bus.Handle(events.RunRequestedEvent, e.handleRunRequested)
}

func (e *Executor) handleRunRequested(ctx context.Context, event any) error {
	request, ok := event.(*events.RunRequested)
	if !ok {
		e.logger.ErrorContext(ctx, "Invalid event type for RunRequested")

		return nil
	}

	return e.Execute(ctx, request)
}

// Execute processes a run request end to end. Delivery is
// at-least-once; a request whose run already reached a terminal state
// is acknowledged without touching it.
func (e *Executor) Execute(ctx context.Context, request *events.RunRequested) error {
	logger := e.logger.With("run_id", request.RunID, "workflow_id", request.WorkflowID)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "worker.execute_run",
		attribute.String(otelhelper.RunIDKey, request.RunID),
		attribute.String(otelhelper.WorkflowIDKey, request.WorkflowID),
		attribute.String(otelhelper.ProjectIDKey, request.ProjectID),
	)
	defer span.End()

	started := time.Now().UTC()

	err := e.runs.UpdateRunState(ctx, request.RunID, models.RunStateRunning, nil, nil)
	if err != nil {
		if persistence.IsRunFinished(err) {
			logger.InfoContext(ctx, "Run already finished, skipping duplicate request")

			return nil
		}

		return fmt.Errorf("failed to mark run as running: %w", err)
	}

	logger.InfoContext(ctx, "Executing workflow run", "steps", len(request.Order))

	stepSummaries := make([]map[string]any, 0, len(request.Order))

	for position, nodeID := range request.Order {
		node := nodeByID(request.Nodes, nodeID)
		if node == nil {
			err := e.fail(ctx, logger, request, position, fmt.Errorf("order references unknown node %q", nodeID))
			otelhelper.SetError(span, err)

			return err
		}

		output, err := e.executeStep(ctx, request, position, node)
		if err != nil {
			if persistence.IsRunFinished(err) {
				logger.InfoContext(ctx, "Run finished externally, stopping", "step", position)

				return nil
			}

			failErr := e.fail(ctx, logger, request, position, err)
			otelhelper.SetError(span, failErr)

			return failErr
		}

		stepSummaries = append(stepSummaries, map[string]any{
			"order":  position,
			"name":   node.Label(),
			"output": output,
		})
	}

	summary := map[string]any{
		"status": "completed",
		"steps":  stepSummaries,
	}

	err = e.runs.UpdateRunState(ctx, request.RunID, models.RunStateCompleted, summary, nil)
	if err != nil {
		if persistence.IsRunFinished(err) {
			return nil
		}

		return fmt.Errorf("failed to mark run as completed: %w", err)
	}

	logger.InfoContext(ctx, "Workflow run completed", "duration", time.Since(started))
	e.announce(ctx, logger, request.RunID, models.RunStateCompleted, time.Since(started))

	return nil
}

// executeStep runs a single step: RUNNING, then the step's work, then
// COMPLETED with the produced output.
func (e *Executor) executeStep(ctx context.Context, request *events.RunRequested, position int, node *models.Node) (map[string]any, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "worker.execute_step",
		attribute.String(otelhelper.RunIDKey, request.RunID),
		attribute.Int(otelhelper.StepOrderKey, position),
		attribute.String(otelhelper.StepNameKey, node.Label()),
		attribute.String(otelhelper.ToolNameKey, node.ToolName()),
	)
	defer span.End()

	startedAt := time.Now().UTC()

	err := e.runs.UpdateStep(ctx, request.RunID, position, persistence.StepUpdate{
		State:     models.RunStateRunning,
		StartedAt: &startedAt,
	})
	if err != nil {
		return nil, err
	}

	// The bundled processor echoes the node back; real tool execution
	// plugs in here.
	output := map[string]any{
		"message":     node.Label(),
		"description": node.Data.Description,
	}

	finishedAt := time.Now().UTC()

	err = e.runs.UpdateStep(ctx, request.RunID, position, persistence.StepUpdate{
		State:      models.RunStateCompleted,
		Output:     output,
		FinishedAt: &finishedAt,
	})
	if err != nil {
		return nil, err
	}

	return output, nil
}

// fail records the failure on the step and the run, then reports it.
func (e *Executor) fail(ctx context.Context, logger *slog.Logger, request *events.RunRequested, position int, cause error) error {
	logger.ErrorContext(ctx, "Workflow run failed", "step", position, "error", cause)

	errPayload := map[string]any{
		"message": cause.Error(),
		"step":    position,
	}

	finishedAt := time.Now().UTC()

	err := e.runs.UpdateStep(ctx, request.RunID, position, persistence.StepUpdate{
		State:      models.RunStateFailed,
		Error:      errPayload,
		FinishedAt: &finishedAt,
	})
	if err != nil && !persistence.IsRunFinished(err) && !errors.Is(err, persistence.ErrStepNotFound) {
		logger.ErrorContext(ctx, "Failed to record step failure", "error", err)
	}

	err = e.runs.UpdateRunState(ctx, request.RunID, models.RunStateFailed, nil, errPayload)
	if err != nil && !persistence.IsRunFinished(err) {
		logger.ErrorContext(ctx, "Failed to record run failure", "error", err)
	}

	e.announce(ctx, logger, request.RunID, models.RunStateFailed, 0)

	return cause
}

// announce publishes the terminal state for dashboards and fan-out.
// Best effort: the ledger is already consistent.
func (e *Executor) announce(ctx context.Context, logger *slog.Logger, runID string, state models.RunState, duration time.Duration) {
	if e.publisher == nil {
		return
	}

	finished := events.RunFinished{
		BaseEvent: events.BaseEvent{
			Type:      events.RunFinishedEvent,
			Timestamp: time.Now().UTC(),
		},
		RunID:    runID,
		State:    state,
		Duration: duration,
	}

	if err := e.publisher.Publish(ctx, runID, finished); err != nil {
		logger.WarnContext(ctx, "Failed to publish run finished event", "error", err)
	}
}

func nodeByID(nodes []*models.Node, id string) *models.Node {
	for _, node := range nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}
