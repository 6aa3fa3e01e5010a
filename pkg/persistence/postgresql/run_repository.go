package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/studio233/flowcore/pkg/models"
	"github.com/studio233/flowcore/pkg/persistence"
)

// RunRepository handles run and step database operations.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

func marshalJSON(payload map[string]any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}

	return json.Marshal(payload)
}

func unmarshalJSON(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}

	return payload, nil
}

// CreateRun inserts the run and its full step set in one transaction.
func (r *RunRepository) CreateRun(ctx context.Context, run *models.WorkflowRun, steps []*models.WorkflowStep) error {
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

	input, err := marshalJSON(run.Input)
	if err != nil {
		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	output, err := marshalJSON(run.Output)
	if err != nil {
		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, workflow_id, project_id, user_id, state, input, output, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, run.ID, run.WorkflowID, run.ProjectID, run.UserID, run.State, input, output, run.CreatedAt)
	if err != nil {
		return persistence.NewRunError("CreateRun", run.ID, err)
	}

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

		stepInput, err := marshalJSON(step.Input)
		if err != nil {
			return persistence.NewRunError("CreateRun", run.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_steps (id, run_id, name, step_order, tool_name, state, input)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, step.ID, step.RunID, step.Name, step.Order, step.ToolName, step.State, stepInput)
		if err != nil {
			return persistence.NewRunError("CreateRun", run.ID, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	return nil
}

// GetRun returns the run with its steps ordered by step order, scoped
// to the owning user.
func (r *RunRepository) GetRun(ctx context.Context, userID, runID string) (*persistence.RunDetail, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT
			id
		  , workflow_id
		  , project_id
		  , user_id
		  , state
		  , input
		  , output
		  , error
		  , created_at
		  , started_at
		  , finished_at
		FROM workflow_runs
		WHERE id = $1 AND user_id = $2
	`, runID, userID)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("GetRun", runID, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError("GetRun", runID, err)
	}

	steps, err := r.loadSteps(ctx, runID)
	if err != nil {
		return nil, persistence.NewRunError("GetRun", runID, err)
	}

	return &persistence.RunDetail{Run: run, Steps: steps}, nil
}

// ListRuns returns the owner's runs for a project, newest first.
func (r *RunRepository) ListRuns(ctx context.Context, owner persistence.Owner, limit int) ([]*models.WorkflowRun, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT
			id
		  , workflow_id
		  , project_id
		  , user_id
		  , state
		  , input
		  , output
		  , error
		  , created_at
		  , started_at
		  , finished_at
		FROM workflow_runs
		WHERE project_id = $1 AND user_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, owner.ProjectID, owner.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runs := make([]*models.WorkflowRun, 0)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// UpdateRunState transitions the run unless it is already terminal.
// The guard and the transition are a single UPDATE, so a slow or
// duplicate backend report can never resurrect a finished run.
func (r *RunRepository) UpdateRunState(ctx context.Context, runID string, state models.RunState, output, errPayload map[string]any) error {
	errJSON, err := marshalJSON(errPayload)
	if err != nil {
		return persistence.NewRunError("UpdateRunState", runID, err)
	}

	outputJSON, err := marshalJSON(output)
	if err != nil {
		return persistence.NewRunError("UpdateRunState", runID, err)
	}

	// The frozen definition snapshot in output is carried over unless the
	// new payload explicitly replaces it.
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_runs
		SET state = $2
		  , output = CASE
				WHEN $3::jsonb IS NULL THEN output
				WHEN output ? '`+models.OutputDefinitionKey+`' AND NOT $3::jsonb ? '`+models.OutputDefinitionKey+`'
					THEN $3::jsonb || jsonb_build_object('`+models.OutputDefinitionKey+`', output->'`+models.OutputDefinitionKey+`')
				ELSE $3::jsonb
			END
		  , error = COALESCE($4, error)
		  , started_at = CASE WHEN $2 = 'RUNNING' THEN COALESCE(started_at, NOW()) ELSE started_at END
		  , finished_at = CASE
				WHEN $2 IN ('COMPLETED', 'FAILED', 'CANCELED') THEN COALESCE(finished_at, NOW())
				ELSE finished_at
			END
		WHERE id = $1
		  AND state NOT IN ('COMPLETED', 'FAILED', 'CANCELED')
	`, runID, state, outputJSON, errJSON)
	if err != nil {
		return persistence.NewRunError("UpdateRunState", runID, err)
	}

	return r.checkGuard(ctx, "UpdateRunState", runID, result)
}

// UpdateStep mutates the step at the given order while the parent run
// is non-terminal.
func (r *RunRepository) UpdateStep(ctx context.Context, runID string, order int, update persistence.StepUpdate) error {
	outputJSON, err := marshalJSON(update.Output)
	if err != nil {
		return persistence.NewRunError("UpdateStep", runID, err)
	}

	errJSON, err := marshalJSON(update.Error)
	if err != nil {
		return persistence.NewRunError("UpdateStep", runID, err)
	}

	var state *models.RunState
	if update.State != "" {
		state = &update.State
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_steps
		SET state = COALESCE($3, state)
		  , output = COALESCE($4, output)
		  , error = COALESCE($5, error)
		  , started_at = COALESCE($6, started_at)
		  , finished_at = COALESCE($7, finished_at)
		WHERE run_id = $1
		  AND step_order = $2
		  AND EXISTS (
				SELECT 1 FROM workflow_runs
				WHERE id = $1
				  AND state NOT IN ('COMPLETED', 'FAILED', 'CANCELED')
			)
	`, runID, order, state, outputJSON, errJSON, update.StartedAt, update.FinishedAt)
	if err != nil {
		return persistence.NewRunError("UpdateStep", runID, err)
	}

	return r.checkGuard(ctx, "UpdateStep", runID, result)
}

// checkGuard maps a zero-row update to the precise rejection cause:
// finished run, missing run, or (for steps) missing order.
func (r *RunRepository) checkGuard(ctx context.Context, op, runID string, result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRunError(op, runID, err)
	}

	if affected > 0 {
		return nil
	}

	var state models.RunState

	err = r.db.QueryRowContext(ctx, "SELECT state FROM workflow_runs WHERE id = $1", runID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.NewRunError(op, runID, persistence.ErrRunNotFound)
	}

	if err != nil {
		return persistence.NewRunError(op, runID, err)
	}

	if state.IsTerminal() {
		return persistence.NewRunError(op, runID, persistence.ErrRunFinished)
	}

	return persistence.NewRunError(op, runID, persistence.ErrStepNotFound)
}

func (r *RunRepository) loadSteps(ctx context.Context, runID string) ([]*models.WorkflowStep, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			id
		  , run_id
		  , name
		  , step_order
		  , tool_name
		  , state
		  , input
		  , output
		  , error
		  , started_at
		  , finished_at
		FROM workflow_steps
		WHERE run_id = $1
		ORDER BY step_order ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	steps := make([]*models.WorkflowStep, 0)

	for rows.Next() {
		var (
			step     models.WorkflowStep
			toolName sql.NullString
			input    []byte
			output   []byte
			errData  []byte
		)

		err := rows.Scan(
			&step.ID, &step.RunID, &step.Name, &step.Order, &toolName,
			&step.State, &input, &output, &errData,
			&step.StartedAt, &step.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}

		step.ToolName = toolName.String

		if step.Input, err = unmarshalJSON(input); err != nil {
			return nil, fmt.Errorf("failed to decode step input: %w", err)
		}

		if step.Output, err = unmarshalJSON(output); err != nil {
			return nil, fmt.Errorf("failed to decode step output: %w", err)
		}

		if step.Error, err = unmarshalJSON(errData); err != nil {
			return nil, fmt.Errorf("failed to decode step error: %w", err)
		}

		steps = append(steps, &step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return steps, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.WorkflowRun, error) {
	var (
		run     models.WorkflowRun
		input   []byte
		output  []byte
		errData []byte
	)

	err := row.Scan(
		&run.ID, &run.WorkflowID, &run.ProjectID, &run.UserID, &run.State,
		&input, &output, &errData,
		&run.CreatedAt, &run.StartedAt, &run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	if run.Input, err = unmarshalJSON(input); err != nil {
		return nil, fmt.Errorf("failed to decode run input: %w", err)
	}

	if run.Output, err = unmarshalJSON(output); err != nil {
		return nil, fmt.Errorf("failed to decode run output: %w", err)
	}

	if run.Error, err = unmarshalJSON(errData); err != nil {
		return nil, fmt.Errorf("failed to decode run error: %w", err)
	}

	return &run, nil
}
