package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studio233/flowcore/pkg/log"
	"github.com/studio233/flowcore/pkg/models"
	"github.com/studio233/flowcore/pkg/persistence"
	"github.com/studio233/flowcore/pkg/persistence/memory"
	"github.com/studio233/flowcore/pkg/registry"
)

var owner = persistence.Owner{UserID: "user-1", ProjectID: "project-1"}

func newWorkflowService() (*Workflow, *memory.Persistence) {
	store := memory.NewPersistence()
	reg := registry.NewDefaultRegistry(log.WithModule("services-test"))

	return NewWorkflow(store, reg), store
}

func linearDefinition(name string) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		Name: name,
		Nodes: []*models.Node{
			{ID: "a", Type: models.NodeTypeInput},
			{ID: "b", Type: models.NodeTypeDefault},
		},
		Edges: []*models.Edge{
			{ID: "a-b", Source: "a", Target: "b"},
		},
	}
}

func TestWorkflowCreate_SeedsDefaultTemplate(t *testing.T) {
	svc, _ := newWorkflowService()

	created, err := svc.Create(t.Context(), owner, &models.WorkflowDefinition{Name: "My flow"})
	require.NoError(t, err)

	require.Len(t, created.Nodes, 3)
	assert.Equal(t, "trigger-1", created.Nodes[0].ID)
	assert.Len(t, created.Edges, 2)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, owner.UserID, created.UserID)
	assert.Equal(t, owner.ProjectID, created.ProjectID)
}

func TestWorkflowCreate_RequiresName(t *testing.T) {
	svc, store := newWorkflowService()

	_, err := svc.Create(t.Context(), owner, &models.WorkflowDefinition{})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	defs, err := store.Definitions().List(t.Context(), owner)
	require.NoError(t, err)
	assert.Empty(t, defs, "invalid definitions are never stored")
}

func TestWorkflowCreate_RejectsCycle(t *testing.T) {
	svc, store := newWorkflowService()

	def := &models.WorkflowDefinition{
		Name: "Cyclic",
		Nodes: []*models.Node{
			{ID: "a", Type: models.NodeTypeInput},
			{ID: "b", Type: models.NodeTypeDefault},
		},
		Edges: []*models.Edge{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "a"},
		},
	}

	_, err := svc.Create(t.Context(), owner, def)
	require.ErrorIs(t, err, ErrInvalidGraph)
	assert.True(t, IsValidationError(err))

	defs, err := store.Definitions().List(t.Context(), owner)
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestWorkflowCreate_RejectsDanglingEdge(t *testing.T) {
	svc, _ := newWorkflowService()

	def := linearDefinition("Dangling")
	def.Edges = append(def.Edges, &models.Edge{Source: "b", Target: "ghost"})

	_, err := svc.Create(t.Context(), owner, def)
	require.ErrorIs(t, err, ErrInvalidGraph)
}

func TestWorkflowCreate_ValidatesPluginConfig(t *testing.T) {
	svc, _ := newWorkflowService()

	def := linearDefinition("Bad config")
	def.Nodes[1].Data.PluginID = "text-to-image"
	def.Nodes[1].Data.Config = map[string]any{"aspect_ratio": "1:1"} // prompt missing

	_, err := svc.Create(t.Context(), owner, def)
	require.ErrorIs(t, err, ErrInvalidNodeConfig)

	def.Nodes[1].Data.Config["prompt"] = "a lighthouse at dusk"

	_, err = svc.Create(t.Context(), owner, def)
	require.NoError(t, err)
}

func TestWorkflowUpdate_PreservesOwnershipAndCreatedAt(t *testing.T) {
	svc, _ := newWorkflowService()

	created, err := svc.Create(t.Context(), owner, linearDefinition("Original"))
	require.NoError(t, err)

	replacement := linearDefinition("Renamed")
	replacement.UserID = "intruder"

	updated, err := svc.Update(t.Context(), owner, created.ID, replacement)
	require.NoError(t, err)

	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, owner.UserID, updated.UserID)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.False(t, updated.UpdatedAt.Before(created.UpdatedAt))
}

func TestWorkflowUpdate_UnknownIDFails(t *testing.T) {
	svc, _ := newWorkflowService()

	_, err := svc.Update(t.Context(), owner, "missing", linearDefinition("x"))
	require.ErrorIs(t, err, ErrDefinitionNotFound)
}

func TestWorkflowFetch_StrangerGetsNotFound(t *testing.T) {
	svc, _ := newWorkflowService()

	created, err := svc.Create(t.Context(), owner, linearDefinition("Private"))
	require.NoError(t, err)

	stranger := persistence.Owner{UserID: "user-2", ProjectID: owner.ProjectID}

	_, err = svc.FetchByID(t.Context(), stranger, created.ID)
	require.ErrorIs(t, err, ErrDefinitionNotFound)
}

func TestWorkflowDelete(t *testing.T) {
	svc, _ := newWorkflowService()

	created, err := svc.Create(t.Context(), owner, linearDefinition("Doomed"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(t.Context(), owner, created.ID))

	_, err = svc.FetchByID(t.Context(), owner, created.ID)
	require.ErrorIs(t, err, ErrDefinitionNotFound)
}
