// Package web provides the HTTP surface for workflow definitions and
// runs.
package web

import "github.com/studio233/flowcore/pkg/models"

// CreateWorkflowRequest is the body for creating a new definition.
// Definitions created without nodes are seeded with the default
// template.
type CreateWorkflowRequest struct {
	Name        string         `json:"name"        validate:"required,min=1"`
	Description string         `json:"description"`
	Nodes       []*models.Node `json:"nodes,omitempty"`
	Edges       []*models.Edge `json:"edges,omitempty"`
}

// UpdateWorkflowRequest is the body for updating a definition. Name
// and description are optional; nodes and edges replace the stored
// graph when present. This is the autosave payload.
type UpdateWorkflowRequest struct {
	Name        *string        `json:"name,omitempty"        validate:"omitempty,min=1"`
	Description *string        `json:"description,omitempty"`
	Nodes       []*models.Node `json:"nodes,omitempty"`
	Edges       []*models.Edge `json:"edges,omitempty"`
}

// StartRunRequest is the body for starting a run of a definition.
type StartRunRequest struct {
	Input map[string]any `json:"input,omitempty"`
}
