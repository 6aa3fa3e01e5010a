package dispatch

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/studio233/flowcore/pkg/events"
	"github.com/studio233/flowcore/pkg/log"
	"github.com/studio233/flowcore/pkg/mocks"
	"github.com/studio233/flowcore/pkg/models"
	"github.com/studio233/flowcore/pkg/persistence/memory"
)

func newPendingRun(t *testing.T, p *memory.Persistence) *models.WorkflowRun {
	t.Helper()

	run := &models.WorkflowRun{
		WorkflowID: "wf-1",
		ProjectID:  "project-1",
		UserID:     "user-1",
		State:      models.RunStatePending,
	}
	require.NoError(t, p.Runs().CreateRun(t.Context(), run, nil))

	return run
}

func TestEnqueue_Success(t *testing.T) {
	p := memory.NewPersistence()
	run := newPendingRun(t, p)

	publisher := &mocks.MockEventPublisher{}
	publisher.On("Publish", mock.Anything, run.ID, mock.Anything).Return(nil).Once()

	d := NewDispatcher(publisher, p.Runs(), log.WithModule("test"))

	err := d.Enqueue(t.Context(), &events.RunRequested{RunID: run.ID})
	require.NoError(t, err)
	publisher.AssertExpectations(t)

	detail, err := p.Runs().GetRun(t.Context(), "user-1", run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatePending, detail.Run.State)
}

func TestEnqueue_SetsIdempotencyKey(t *testing.T) {
	p := memory.NewPersistence()
	run := newPendingRun(t, p)

	var published events.RunRequested

	publisher := &mocks.MockEventPublisher{}
	publisher.On("Publish", mock.Anything, run.ID, mock.Anything).
		Run(func(args mock.Arguments) {
			published = args.Get(2).(events.RunRequested)
		}).
		Return(nil).Once()

	d := NewDispatcher(publisher, p.Runs(), log.WithModule("test"))
	require.NoError(t, d.Enqueue(t.Context(), &events.RunRequested{RunID: run.ID}))

	assert.Equal(t, run.ID, published.IdempotencyKey)
	assert.Equal(t, events.RunRequestedEvent, published.GetType())
	assert.False(t, published.Timestamp.IsZero())
}

func TestEnqueue_RetriesOnceThenSucceeds(t *testing.T) {
	p := memory.NewPersistence()
	run := newPendingRun(t, p)

	publisher := &mocks.MockEventPublisher{}
	publisher.On("Publish", mock.Anything, run.ID, mock.Anything).
		Return(errors.New("broker unavailable")).Once()
	publisher.On("Publish", mock.Anything, run.ID, mock.Anything).
		Return(nil).Once()

	d := NewDispatcher(publisher, p.Runs(), log.WithModule("test")).WithBackoff(time.Millisecond)

	err := d.Enqueue(t.Context(), &events.RunRequested{RunID: run.ID})
	require.NoError(t, err)
	publisher.AssertNumberOfCalls(t, "Publish", 2)

	detail, err := p.Runs().GetRun(t.Context(), "user-1", run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatePending, detail.Run.State)
}

func TestEnqueue_DoubleFailureMarksRunFailed(t *testing.T) {
	p := memory.NewPersistence()
	run := newPendingRun(t, p)

	publisher := &mocks.MockEventPublisher{}
	publisher.On("Publish", mock.Anything, run.ID, mock.Anything).
		Return(errors.New("broker unavailable")).Twice()

	d := NewDispatcher(publisher, p.Runs(), log.WithModule("test")).WithBackoff(time.Millisecond)

	err := d.Enqueue(t.Context(), &events.RunRequested{RunID: run.ID})
	require.ErrorIs(t, err, ErrEnqueueFailed)
	publisher.AssertNumberOfCalls(t, "Publish", 2)

	detail, err := p.Runs().GetRun(t.Context(), "user-1", run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStateFailed, detail.Run.State)
	require.NotNil(t, detail.Run.Error)
	assert.Equal(t, "enqueue", detail.Run.Error["stage"])
	assert.NotEmpty(t, detail.Run.Error["message"])
	assert.NotNil(t, detail.Run.FinishedAt)
}
