package datahub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/execledger/execledger/internal/domain/metadata"
	"github.com/execledger/execledger/pkg/events"
	"github.com/execledger/execledger/pkg/logger"
	"github.com/execledger/execledger/pkg/resilience"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBus records published events and fails the first failures calls
type fakeBus struct {
	mu       sync.Mutex
	events   []events.Event
	calls    int
	failures int
}

func (b *fakeBus) Publish(_ context.Context, event events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.calls <= b.failures {
		return errors.New("broker unavailable")
	}
	b.events = append(b.events, event)
	return nil
}

func (b *fakeBus) Close() error { return nil }

func testRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, BackoffMultiplier: 1}
}

func completedExecution(t *testing.T) *metadata.Execution {
	execution := &metadata.Execution{ID: 12, Type: "Trainer", LastKnownState: metadata.ExecutionComplete}
	require.NoError(t, execution.SetResult(metadata.ExecutionResult{Code: 3, ResultMessage: "ok"}))
	return execution
}

func newTestSink(t *testing.T, bus events.EventBus, breaker resilience.CircuitBreakerConfig, retry resilience.RetryConfig, opts Options) *EventSink {
	t.Helper()
	sink := NewEventSink(bus, breaker, retry, opts, logger.NewNop())
	t.Cleanup(func() { _ = sink.Close(context.Background()) })
	return sink
}

func drain(t *testing.T, sink *EventSink) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sink.Close(ctx))
}

func TestEventSink_LogComponentExecution(t *testing.T) {
	bus := &fakeBus{}
	sink := newTestSink(t, bus, resilience.DefaultCircuitBreakerConfig("test"), testRetry(1), DefaultOptions())

	task := &metadata.NodeTask{PipelineID: "p", PipelineRunID: "run-1", NodeID: "trainer"}
	artifacts := metadata.ArtifactMultiMap{
		"model": {{ID: 5, Type: "Model", URI: "/out/model"}},
	}

	err := sink.LogComponentExecution(context.Background(), completedExecution(t), task, artifacts)
	require.NoError(t, err)
	drain(t, sink)
	require.Len(t, bus.events, 1)

	event := bus.events[0]
	assert.Equal(t, events.ExecutionComponentCompleted, event.Type)
	assert.Equal(t, "12", event.AggregateID)
	assert.Equal(t, "COMPLETE", event.Payload["state"])
	assert.Equal(t, "trainer", event.Payload["nodeId"])
	assert.Equal(t, int32(3), event.Payload["resultCode"])
	assert.Equal(t, "run-1", event.Metadata.CorrelationID)

	refs := event.Payload["outputs"].(map[string][]artifactRef)
	require.Len(t, refs["model"], 1)
	assert.Equal(t, int64(5), refs["model"][0].ID)
}

func TestEventSink_RetriesTransientFailures(t *testing.T) {
	bus := &fakeBus{failures: 2}
	sink := newTestSink(t, bus, resilience.DefaultCircuitBreakerConfig("test"), testRetry(3), DefaultOptions())

	require.NoError(t, sink.LogComponentExecution(context.Background(), completedExecution(t), nil, nil))
	drain(t, sink)
	assert.Equal(t, 3, bus.calls)
	assert.Len(t, bus.events, 1)
}

func TestEventSink_BreakerOpens(t *testing.T) {
	bus := &fakeBus{failures: 100}
	cfg := resilience.DefaultCircuitBreakerConfig("test")
	cfg.MinRequests = 1
	cfg.Timeout = time.Minute
	sink := newTestSink(t, bus, cfg, testRetry(1), DefaultOptions())
	ctx := context.Background()

	require.NoError(t, sink.LogComponentExecution(ctx, completedExecution(t), nil, nil))
	require.NoError(t, sink.LogComponentExecution(ctx, completedExecution(t), nil, nil))
	drain(t, sink)

	assert.Equal(t, 1, bus.calls)
	assert.Equal(t, gobreaker.StateOpen, sink.breaker.State())
}

// blockingBus holds every write until the write context ends
type blockingBus struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (b *blockingBus) Publish(ctx context.Context, _ events.Event) error {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs = append(b.errs, ctx.Err())
	return ctx.Err()
}

func (b *blockingBus) Close() error { return nil }

func TestEventSink_SlowBusDoesNotBlockCaller(t *testing.T) {
	bus := &blockingBus{}
	sink := newTestSink(t, bus, resilience.DefaultCircuitBreakerConfig("test"), testRetry(3),
		Options{QueueSize: 4, Timeout: 50 * time.Millisecond})

	start := time.Now()
	require.NoError(t, sink.LogComponentExecution(context.Background(), completedExecution(t), nil, nil))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	drain(t, sink)
	bus.mu.Lock()
	defer bus.mu.Unlock()
	assert.Equal(t, 1, bus.calls)
	require.Len(t, bus.errs, 1)
	assert.ErrorIs(t, bus.errs[0], context.DeadlineExceeded)
}

func TestEventSink_QueueFull(t *testing.T) {
	bus := &blockingBus{}
	sink := newTestSink(t, bus, resilience.DefaultCircuitBreakerConfig("test"), testRetry(1),
		Options{QueueSize: 1, Timeout: time.Second})
	ctx := context.Background()

	// The worker takes the first record and blocks; the second fills the
	// queue.
	require.NoError(t, sink.LogComponentExecution(ctx, completedExecution(t), nil, nil))
	require.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return bus.calls == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, sink.LogComponentExecution(ctx, completedExecution(t), nil, nil))

	err := sink.LogComponentExecution(ctx, completedExecution(t), nil, nil)
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestEventSink_Closed(t *testing.T) {
	sink := newTestSink(t, &fakeBus{}, resilience.DefaultCircuitBreakerConfig("test"), testRetry(1), DefaultOptions())
	drain(t, sink)

	err := sink.LogComponentExecution(context.Background(), completedExecution(t), nil, nil)
	assert.ErrorIs(t, err, ErrSinkClosed)
	assert.NoError(t, sink.Close(context.Background()))
}

func TestEventSink_NilExecution(t *testing.T) {
	sink := newTestSink(t, &fakeBus{}, resilience.DefaultCircuitBreakerConfig("test"), testRetry(1), DefaultOptions())
	assert.Error(t, sink.LogComponentExecution(context.Background(), nil, nil, nil))
}

func TestNopSink(t *testing.T) {
	assert.NoError(t, NopSink{}.LogComponentExecution(context.Background(), nil, nil, nil))
}
