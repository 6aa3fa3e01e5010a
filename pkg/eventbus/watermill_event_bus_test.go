package eventbus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studio233/flowcore/pkg/channels/gochannel"
	"github.com/studio233/flowcore/pkg/eventbus"
	"github.com/studio233/flowcore/pkg/events"
	"github.com/studio233/flowcore/pkg/log"
	"github.com/studio233/flowcore/pkg/models"
	"github.com/studio233/flowcore/pkg/testutil"
)

func newTestBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	watermillLogger := watermill.NewSlogLogger(log.WithModule("eventbus-test"))

	pub, sub, err := gochannel.CreateTestChannel(watermillLogger)
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_RoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	bus := newTestBus(t)

	var (
		mu       sync.Mutex
		received []*events.RunRequested
	)

	bus.Handle(events.RunRequestedEvent, func(_ context.Context, event any) error {
		request, ok := event.(*events.RunRequested)
		require.True(t, ok)

		mu.Lock()
		defer mu.Unlock()
		received = append(received, request)

		return nil
	})

	require.NoError(t, bus.Subscribe(ctx))

	trigger := testutil.CreateTestNode(testutil.WithID("t"), testutil.WithEntryNode())
	step := testutil.CreateTestNode(testutil.WithID("a"), testutil.WithLabel("Resize"))

	request := events.RunRequested{
		BaseEvent:      events.BaseEvent{Type: events.RunRequestedEvent, Timestamp: time.Now().UTC()},
		RunID:          "run-1",
		WorkflowID:     "wf-1",
		ProjectID:      "project-1",
		UserID:         "user-1",
		Nodes:          []*models.Node{trigger, step},
		Edges:          []*models.Edge{testutil.Connect("t", "a")},
		Order:          []string{"t", "a"},
		IdempotencyKey: "run-1",
	}

	require.NoError(t, bus.Publish(ctx, request.RunID, request))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(received) == 1
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	got := received[0]
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, []string{"t", "a"}, got.Order)
	require.Len(t, got.Nodes, 2)
	assert.Equal(t, "Resize", got.Nodes[1].Data.Label)
	assert.True(t, got.Nodes[0].IsEntry())
}

func TestWatermillEventBus_UnhandledTypeIsDropped(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	bus := newTestBus(t)

	var (
		mu    sync.Mutex
		count int
	)

	bus.Handle(events.RunRequestedEvent, func(_ context.Context, _ any) error {
		mu.Lock()
		defer mu.Unlock()
		count++

		return nil
	})

	require.NoError(t, bus.Subscribe(ctx))

	finished := events.RunFinished{
		BaseEvent: events.BaseEvent{Type: events.RunFinishedEvent, Timestamp: time.Now().UTC()},
		RunID:     "run-1",
		State:     models.RunStateCompleted,
	}

	// No handler registered for RunFinished; the message is acked and
	// dropped without touching the RunRequested handler.
	require.NoError(t, bus.Publish(ctx, finished.RunID, finished))

	request := events.RunRequested{
		BaseEvent: events.BaseEvent{Type: events.RunRequestedEvent, Timestamp: time.Now().UTC()},
		RunID:     "run-2",
	}
	require.NoError(t, bus.Publish(ctx, request.RunID, request))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return count == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	bus := newTestBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
