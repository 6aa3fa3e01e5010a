// Package dispatch hands validated runs to the execution backend,
// exactly once per run from the caller's point of view.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/studio233/flowcore/pkg/eventbus"
	"github.com/studio233/flowcore/pkg/events"
	"github.com/studio233/flowcore/pkg/models"
	"github.com/studio233/flowcore/pkg/persistence"
)

// ErrEnqueueFailed indicates both enqueue attempts failed and the run
// has been marked FAILED in the ledger. The caller must surface this as
// an internal error; the run is definitively not in flight.
var ErrEnqueueFailed = errors.New("failed to enqueue workflow run")

// DefaultBackoff is the fixed wait between the first failed attempt and
// the single retry.
const DefaultBackoff = 150 * time.Millisecond

// Dispatcher publishes one RunRequested message per run. On enqueue
// failure it retries exactly once after a fixed backoff; if the retry
// also fails it marks the run FAILED so callers never observe a
// "maybe enqueued" state.
type Dispatcher struct {
	publisher eventbus.EventPublisher
	runs      persistence.RunRepository
	backoff   time.Duration
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher with the default backoff.
func NewDispatcher(publisher eventbus.EventPublisher, runs persistence.RunRepository, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		runs:      runs,
		backoff:   DefaultBackoff,
		logger:    logger,
	}
}

// WithBackoff overrides the retry backoff; used by tests.
func (d *Dispatcher) WithBackoff(backoff time.Duration) *Dispatcher {
	d.backoff = backoff

	return d
}

// Enqueue publishes the execution request, keyed and idempotency-keyed
// by the run id.
func (d *Dispatcher) Enqueue(ctx context.Context, request *events.RunRequested) error {
	request.Type = events.RunRequestedEvent

	if request.Timestamp.IsZero() {
		request.Timestamp = time.Now().UTC()
	}

	request.IdempotencyKey = request.RunID

	err := d.publisher.Publish(ctx, request.RunID, *request)
	if err == nil {
		return nil
	}

	d.logger.WarnContext(ctx, "Enqueue failed, retrying once",
		"run_id", request.RunID, "error", err)

	select {
	case <-time.After(d.backoff):
	case <-ctx.Done():
		return d.fail(ctx, request.RunID, ctx.Err())
	}

	err = d.publisher.Publish(ctx, request.RunID, *request)
	if err == nil {
		return nil
	}

	return d.fail(ctx, request.RunID, err)
}

// fail records the enqueue failure on the run so it does not linger in
// PENDING, then reports the failure to the caller.
func (d *Dispatcher) fail(ctx context.Context, runID string, cause error) error {
	errPayload := map[string]any{"message": cause.Error(), "stage": "enqueue"}

	err := d.runs.UpdateRunState(ctx, runID, models.RunStateFailed, nil, errPayload)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to mark run as failed after enqueue failure",
			"run_id", runID, "error", err)
	}

	return fmt.Errorf("%w: run %s: %v", ErrEnqueueFailed, runID, cause)
}
