package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/studio233/flowcore/pkg/events"
	"github.com/studio233/flowcore/pkg/log"
	"github.com/studio233/flowcore/pkg/mocks"
	"github.com/studio233/flowcore/pkg/models"
	"github.com/studio233/flowcore/pkg/persistence/memory"
)

func seedRun(t *testing.T, store *memory.Persistence) (*events.RunRequested, *models.WorkflowRun) {
	t.Helper()

	nodes := []*models.Node{
		{ID: "t", Type: models.NodeTypeInput, Data: models.NodeData{Label: "Trigger", Description: "start"}},
		{ID: "a", Type: models.NodeTypeDefault, Data: models.NodeData{Label: "Process", Description: "work"}},
		{ID: "o", Type: models.NodeTypeOutput, Data: models.NodeData{Label: "Result"}},
	}
	order := []string{"t", "a", "o"}

	run := &models.WorkflowRun{
		WorkflowID: "wf-1",
		ProjectID:  "project-1",
		UserID:     "user-1",
		State:      models.RunStatePending,
		Output: map[string]any{
			models.OutputDefinitionKey: map[string]any{"nodes": nodes},
		},
	}

	steps := make([]*models.WorkflowStep, 0, len(order))
	for position, nodeID := range order {
		steps = append(steps, &models.WorkflowStep{
			Name:  nodeID,
			Order: position,
			State: models.RunStatePending,
		})
	}

	require.NoError(t, store.Runs().CreateRun(t.Context(), run, steps))

	request := &events.RunRequested{
		RunID:      run.ID,
		WorkflowID: "wf-1",
		ProjectID:  "project-1",
		UserID:     "user-1",
		Nodes:      nodes,
		Order:      order,
	}

	return request, run
}

func TestExecute_CompletesRunStepByStep(t *testing.T) {
	store := memory.NewPersistence()
	publisher := &mocks.MockEventPublisher{}
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	executor := NewExecutor(store.Runs(), publisher, log.WithModule("worker-test"))

	request, run := seedRun(t, store)

	require.NoError(t, executor.Execute(t.Context(), request))

	detail, err := store.Runs().GetRun(t.Context(), "user-1", run.ID)
	require.NoError(t, err)

	assert.Equal(t, models.RunStateCompleted, detail.Run.State)
	require.NotNil(t, detail.Run.FinishedAt)

	for _, step := range detail.Steps {
		assert.Equal(t, models.RunStateCompleted, step.State)
		require.NotNil(t, step.StartedAt)
		require.NotNil(t, step.FinishedAt)
	}

	// The echo processor reports the node label back.
	assert.Equal(t, "Process", detail.Steps[1].Output["message"])
	assert.Equal(t, "work", detail.Steps[1].Output["description"])

	// Completion summary merged without displacing the definition snapshot.
	assert.Equal(t, "completed", detail.Run.Output["status"])
	assert.Contains(t, detail.Run.Output, models.OutputDefinitionKey)

	publisher.AssertNumberOfCalls(t, "Publish", 1)
}

func TestExecute_FinishedRunIsNoOp(t *testing.T) {
	store := memory.NewPersistence()
	publisher := &mocks.MockEventPublisher{}

	executor := NewExecutor(store.Runs(), publisher, log.WithModule("worker-test"))

	request, run := seedRun(t, store)

	require.NoError(t, store.Runs().UpdateRunState(t.Context(), run.ID, models.RunStateCanceled, nil, nil))

	require.NoError(t, executor.Execute(t.Context(), request))

	detail, err := store.Runs().GetRun(t.Context(), "user-1", run.ID)
	require.NoError(t, err)

	assert.Equal(t, models.RunStateCanceled, detail.Run.State)

	for _, step := range detail.Steps {
		assert.Equal(t, models.RunStatePending, step.State, "no step was touched")
	}

	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecute_DuplicateDelivery(t *testing.T) {
	store := memory.NewPersistence()
	publisher := &mocks.MockEventPublisher{}
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	executor := NewExecutor(store.Runs(), publisher, log.WithModule("worker-test"))

	request, run := seedRun(t, store)

	require.NoError(t, executor.Execute(t.Context(), request))

	first, err := store.Runs().GetRun(t.Context(), "user-1", run.ID)
	require.NoError(t, err)

	// Redelivery of the same request after completion changes nothing.
	require.NoError(t, executor.Execute(t.Context(), request))

	second, err := store.Runs().GetRun(t.Context(), "user-1", run.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Run.State, second.Run.State)
	assert.Equal(t, first.Run.FinishedAt, second.Run.FinishedAt)
	publisher.AssertNumberOfCalls(t, "Publish", 1)
}

func TestExecute_UnknownNodeFailsRun(t *testing.T) {
	store := memory.NewPersistence()
	publisher := &mocks.MockEventPublisher{}
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	executor := NewExecutor(store.Runs(), publisher, log.WithModule("worker-test"))

	request, run := seedRun(t, store)
	request.Order = []string{"t", "ghost", "o"}

	require.Error(t, executor.Execute(t.Context(), request))

	detail, err := store.Runs().GetRun(t.Context(), "user-1", run.ID)
	require.NoError(t, err)

	assert.Equal(t, models.RunStateFailed, detail.Run.State)
	require.NotNil(t, detail.Run.Error)
	assert.Contains(t, detail.Run.Error["message"], "ghost")
	require.NotNil(t, detail.Run.FinishedAt)

	// The first step still ran before the failure.
	assert.Equal(t, models.RunStateCompleted, detail.Steps[0].State)
}

func TestRegister_WiresRunRequestedHandler(t *testing.T) {
	store := memory.NewPersistence()
	executor := NewExecutor(store.Runs(), nil, log.WithModule("worker-test"))

	request, run := seedRun(t, store)

	// Drive the handler exactly as the bus would.
	require.NoError(t, executor.handleRunRequested(t.Context(), request))

	detail, err := store.Runs().GetRun(t.Context(), "user-1", run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStateCompleted, detail.Run.State)
}
