// Package persistence provides standardized error types for storage
// operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations must use.
var (
	// ErrDefinitionNotFound indicates a workflow definition was not found
	// for the caller. Ownership mismatches report this same error so that
	// existence is never leaked to non-owners.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrRunNotFound indicates a run was not found for the caller.
	ErrRunNotFound = errors.New("workflow run not found")

	// ErrStepNotFound indicates no step exists at the given order.
	ErrStepNotFound = errors.New("workflow step not found")

	// ErrRunFinished indicates a state write was rejected because the
	// parent run is already terminal. Terminal runs are immutable history;
	// late or duplicate backend reports land here and must be treated as
	// no-ops by the reporting path.
	ErrRunFinished = errors.New("workflow run already finished")
)

// RunError wraps run-ledger errors with operation context.
type RunError struct {
	Op    string
	RunID string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s operation failed for run %s: %v", e.Op, e.RunID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func (e *RunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRunError creates a run error with context.
func NewRunError(op, runID string, err error) *RunError {
	return &RunError{Op: op, RunID: runID, Err: err}
}

// DefinitionError wraps definition-store errors with operation context.
type DefinitionError struct {
	Op           string
	DefinitionID string
	Err          error
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("%s operation failed for definition %s: %v", e.Op, e.DefinitionID, e.Err)
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

func (e *DefinitionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewDefinitionError creates a definition error with context.
func NewDefinitionError(op, definitionID string, err error) *DefinitionError {
	return &DefinitionError{Op: op, DefinitionID: definitionID, Err: err}
}

// IsDefinitionNotFound checks if an error indicates a missing or
// unowned definition.
func IsDefinitionNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound)
}

// IsRunNotFound checks if an error indicates a missing or unowned run.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

// IsRunFinished checks if an error indicates a rejected write to a
// terminal run.
func IsRunFinished(err error) bool {
	return errors.Is(err, ErrRunFinished)
}
