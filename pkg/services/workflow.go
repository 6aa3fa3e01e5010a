package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/studio233/flowcore/pkg/graph"
	"github.com/studio233/flowcore/pkg/models"
	"github.com/studio233/flowcore/pkg/persistence"
	"github.com/studio233/flowcore/pkg/registry"
)

// Workflow manages workflow definitions. Every write validates the
// graph first: a definition that fails validation never reaches the
// store.
type Workflow struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	validate    *validator.Validate
}

// NewWorkflow creates a new workflow definition service.
func NewWorkflow(persistence persistence.Persistence, reg *registry.Registry) *Workflow {
	return &Workflow{
		persistence: persistence,
		registry:    reg,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Create adds a new workflow definition. Definitions created without
// nodes are seeded with the default trigger/step/output template.
func (w *Workflow) Create(ctx context.Context, owner persistence.Owner, def *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if def == nil {
		return nil, ErrDefinitionNil
	}

	def.UserID = owner.UserID
	def.ProjectID = owner.ProjectID

	if len(def.Nodes) == 0 {
		def.Nodes, def.Edges = models.DefaultTemplate()
	}

	if err := w.validateDefinition(def); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	def.CreatedAt = now
	def.UpdatedAt = now

	err := w.persistence.Definitions().Create(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow definition: %w", err)
	}

	return def, nil
}

// FetchByID retrieves a definition scoped to its owner.
func (w *Workflow) FetchByID(ctx context.Context, owner persistence.Owner, id string) (*models.WorkflowDefinition, error) {
	return w.persistence.Definitions().GetByID(ctx, owner, id)
}

// List returns the owner's definitions, most recently updated first.
func (w *Workflow) List(ctx context.Context, owner persistence.Owner) ([]*models.WorkflowDefinition, error) {
	return w.persistence.Definitions().List(ctx, owner)
}

// Update replaces an existing definition's graph and metadata. The
// stored creation time survives; ownership cannot be reassigned.
func (w *Workflow) Update(ctx context.Context, owner persistence.Owner, id string, def *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if def == nil {
		return nil, ErrDefinitionNil
	}

	existing, err := w.persistence.Definitions().GetByID(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	def.ID = existing.ID
	def.UserID = existing.UserID
	def.ProjectID = existing.ProjectID
	def.CreatedAt = existing.CreatedAt

	if err := w.validateDefinition(def); err != nil {
		return nil, err
	}

	def.UpdatedAt = time.Now().UTC()

	err = w.persistence.Definitions().Update(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow definition: %w", err)
	}

	return def, nil
}

// Delete removes a definition scoped to its owner.
func (w *Workflow) Delete(ctx context.Context, owner persistence.Owner, id string) error {
	return w.persistence.Definitions().Delete(ctx, owner, id)
}

// validateDefinition rejects definitions the execution core could not
// run: missing name, broken edge references, cycles, or node configs
// that fail their plugin schema.
func (w *Workflow) validateDefinition(def *models.WorkflowDefinition) error {
	if def.Name == "" {
		return NewValidationError(
			"validateDefinition",
			"NAME_REQUIRED",
			"workflow name is required",
			ErrNameRequired,
		)
	}

	if err := w.validate.Struct(def); err != nil {
		return NewValidationError(
			"validateDefinition",
			"INVALID_DEFINITION",
			err.Error(),
			ErrInvalidRequest,
		)
	}

	if err := graph.ValidateReferences(def.Nodes, def.Edges); err != nil {
		return NewValidationError(
			"validateDefinition",
			"INVALID_GRAPH",
			err.Error(),
			ErrInvalidGraph,
		)
	}

	// Ordering doubles as the acyclicity check.
	if _, err := graph.Order(def.Nodes, def.Edges); err != nil {
		return NewValidationError(
			"validateDefinition",
			"INVALID_GRAPH",
			err.Error(),
			ErrInvalidGraph,
		)
	}

	if w.registry != nil {
		for _, node := range def.Nodes {
			if err := w.registry.ValidateConfig(node); err != nil {
				return NewValidationError(
					"validateDefinition",
					"INVALID_NODE_CONFIG",
					err.Error(),
					ErrInvalidNodeConfig,
				)
			}
		}
	}

	return nil
}
