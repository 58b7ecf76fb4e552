package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnloop/insight/internal/domain/shared"
)

func syncBus() *EventBus {
	cfg := DefaultConfig()
	cfg.AsyncMode = false
	return NewEventBus(cfg, nil)
}

func handlerFunc(name string, fn func(ctx context.Context, event shared.Event) error) shared.EventHandler {
	return shared.EventHandlerFunc{HandlerName: name, Fn: fn}
}

func TestEventBusRoutesByType(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var created, skipped int
	require.NoError(t, bus.Subscribe(shared.EventPredictionCreated, handlerFunc("created", func(context.Context, shared.Event) error {
		created++
		return nil
	})))
	require.NoError(t, bus.Subscribe(shared.EventDetectionSkipped, handlerFunc("skipped", func(context.Context, shared.Event) error {
		skipped++
		return nil
	})))

	evt := shared.DetectionSkippedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventDetectionSkipped, "learner-1"),
		LearnerID: "learner-1", Reason: "insufficient_data",
	}
	require.NoError(t, bus.Publish(evt))
	require.NoError(t, bus.Publish(evt))

	assert.Equal(t, 0, created)
	assert.Equal(t, 2, skipped)
}

func TestEventBusSubscribeAllSeesEverything(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var seen []shared.EventType
	require.NoError(t, bus.SubscribeAll(handlerFunc("audit", func(_ context.Context, event shared.Event) error {
		seen = append(seen, event.EventType())
		return nil
	})))

	require.NoError(t, bus.Publish(shared.DetectionSkippedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventDetectionSkipped, "learner-1"),
		LearnerID: "learner-1", Reason: "analysis_disabled",
	}))
	require.NoError(t, bus.Publish(shared.InterventionProposedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventInterventionProposed, "learner-1"),
		LearnerID: "learner-1", Count: 2,
	}))

	require.Len(t, seen, 2)
	assert.Equal(t, shared.EventDetectionSkipped, seen[0])
	assert.Equal(t, shared.EventInterventionProposed, seen[1])
}

func TestEventBusHandlerErrorDoesNotFailPublish(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var second bool
	require.NoError(t, bus.Subscribe(shared.EventDetectionSkipped, handlerFunc("bad", func(context.Context, shared.Event) error {
		return errors.New("handler exploded")
	})))
	require.NoError(t, bus.Subscribe(shared.EventDetectionSkipped, handlerFunc("good", func(context.Context, shared.Event) error {
		second = true
		return nil
	})))

	err := bus.Publish(shared.DetectionSkippedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventDetectionSkipped, "learner-1"),
		LearnerID: "learner-1", Reason: "insufficient_data",
	})
	require.NoError(t, err)
	assert.True(t, second, "later handlers still run after a failure")
}

func TestEventBusAsyncDeliversThroughWorkerPool(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkerPoolSize = 2
	bus := NewEventBus(cfg, nil)

	var wg sync.WaitGroup
	wg.Add(5)
	var mu sync.Mutex
	delivered := 0

	require.NoError(t, bus.Subscribe(shared.EventPredictionCreated, handlerFunc("count", func(context.Context, shared.Event) error {
		mu.Lock()
		delivered++
		mu.Unlock()
		wg.Done()
		return nil
	})))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(shared.PredictionCreatedEvent{
			BaseEvent: shared.NewBaseEvent(shared.EventPredictionCreated, "learner-1"),
			LearnerID: "learner-1",
		}))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("async handlers did not drain")
	}

	require.NoError(t, bus.Close())
	assert.Equal(t, 5, delivered)
}

func TestEventBusRejectsAfterClose(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.Close())

	err := bus.Publish(shared.DetectionSkippedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventDetectionSkipped, "learner-1"),
		LearnerID: "learner-1",
	})
	assert.ErrorIs(t, err, ErrEventBusClosed)

	err = bus.Subscribe(shared.EventPredictionCreated, handlerFunc("late", func(context.Context, shared.Event) error { return nil }))
	assert.ErrorIs(t, err, ErrEventBusClosed)

	assert.NoError(t, bus.Close(), "closing twice is a no-op")
}

func TestEventBusMetricsCountExecutions(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	require.NoError(t, bus.Subscribe(shared.EventDetectionSkipped, handlerFunc("ok", func(context.Context, shared.Event) error {
		return nil
	})))
	require.NoError(t, bus.Subscribe(shared.EventDetectionSkipped, handlerFunc("bad", func(context.Context, shared.Event) error {
		return errors.New("nope")
	})))

	require.NoError(t, bus.Publish(shared.DetectionSkippedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventDetectionSkipped, "learner-1"),
		LearnerID: "learner-1",
	}))

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.TotalPublished)
	assert.Equal(t, int64(2), snap.TotalHandlerExecs)
	assert.Equal(t, int64(1), snap.HandlerFailures)
	assert.InDelta(t, 0.5, snap.HandlerSuccessRate, 1e-9)
}
