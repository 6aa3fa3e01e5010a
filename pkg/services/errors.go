// Package services implements the business operations on workflow
// definitions and runs, sitting between the transport layer and the
// stores.
package services

import (
	"errors"
	"fmt"

	"github.com/studio233/flowcore/pkg/graph"
	"github.com/studio233/flowcore/pkg/persistence"
)

var (
	// ErrDefinitionNotFound is returned when a definition is not found or
	// not owned by the caller.
	ErrDefinitionNotFound = persistence.ErrDefinitionNotFound

	// ErrRunNotFound is returned when a run is not found or not owned by
	// the caller.
	ErrRunNotFound = persistence.ErrRunNotFound
)

// Validation errors (400 Bad Request).
var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrDefinitionNil      = errors.New("workflow definition cannot be nil")
	ErrNameRequired       = errors.New("workflow name is required")
	ErrNodesRequired      = errors.New("workflow must have at least one node")
	ErrInvalidGraph       = errors.New("workflow graph is invalid")
	ErrInvalidNodeConfig  = errors.New("node configuration is invalid")
	ErrWorkflowIDRequired = errors.New("workflow id is required")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsValidationError checks if an error is a client error that should
// return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrDefinitionNil) ||
		errors.Is(err, ErrNameRequired) ||
		errors.Is(err, ErrNodesRequired) ||
		errors.Is(err, ErrInvalidGraph) ||
		errors.Is(err, ErrInvalidNodeConfig) ||
		errors.Is(err, ErrWorkflowIDRequired) ||
		graph.IsInvalidGraph(err)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return persistence.IsDefinitionNotFound(err) || persistence.IsRunNotFound(err)
}
