package datahub

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/execledger/execledger/internal/domain/metadata"
	"github.com/execledger/execledger/internal/publisher/ports"
	"github.com/execledger/execledger/pkg/events"
	"github.com/execledger/execledger/pkg/logger"
	"github.com/execledger/execledger/pkg/metrics"
	"github.com/execledger/execledger/pkg/resilience"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrSinkClosed = errors.New("execution sink is closed")
	ErrQueueFull  = errors.New("execution sink queue is full")
)

// Options bounds the sink's memory and the time spent on a single record
type Options struct {
	QueueSize int
	Timeout   time.Duration
}

func DefaultOptions() Options {
	return Options{
		QueueSize: 1024,
		Timeout:   5 * time.Second,
	}
}

// EventSink records completed component executions as events on the bus.
// Records are queued and written by a background worker through a circuit
// breaker and retries, each bounded by Options.Timeout. Publishing never
// waits on the broker.
type EventSink struct {
	bus     events.EventBus
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	timeout time.Duration
	logger  logger.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan events.Event
	wg     sync.WaitGroup
}

var _ ports.ExecutionSink = (*EventSink)(nil)

// NewEventSink starts the delivery worker. Close stops it.
func NewEventSink(
	bus events.EventBus,
	breaker resilience.CircuitBreakerConfig,
	retry resilience.RetryConfig,
	opts Options,
	log logger.Logger,
) *EventSink {
	defaults := DefaultOptions()
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaults.QueueSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}

	s := &EventSink{
		bus:     bus,
		timeout: opts.Timeout,
		logger:  log.Named("datahub"),
		queue:   make(chan events.Event, opts.QueueSize),
	}

	if breaker.Name == "" {
		breaker.Name = "datahub"
	}
	breaker.OnStateChange = func(name string, from, to gobreaker.State) {
		s.logger.Warn("Sink circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	}
	s.breaker = resilience.NewCircuitBreaker(breaker)

	retry.ShouldRetry = func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	s.retry = retry

	s.wg.Add(1)
	go s.process()
	return s
}

// LogComponentExecution queues a record of the execution. It fails only when
// the record cannot be queued.
func (s *EventSink) LogComponentExecution(
	ctx context.Context,
	execution *metadata.Execution,
	task *metadata.NodeTask,
	artifacts metadata.ArtifactMultiMap,
) error {
	if execution == nil {
		return fmt.Errorf("execution is required")
	}

	event := ComponentExecutionEvent(ctx, execution, task, artifacts)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}

	select {
	case s.queue <- event:
		return nil
	default:
		metrics.SinkRecordsTotal.WithLabelValues("dropped").Inc()
		return fmt.Errorf("%w: dropping record for execution %d", ErrQueueFull, execution.ID)
	}
}

// Close stops accepting records and waits for queued ones to be written
// until ctx is done.
func (s *EventSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("Sink stopped before the queue was drained", "pending", len(s.queue))
		return ctx.Err()
	}
}

func (s *EventSink) process() {
	defer s.wg.Done()

	for event := range s.queue {
		if err := s.deliver(event); err != nil {
			metrics.SinkRecordsTotal.WithLabelValues("failed").Inc()
			s.logger.Warn("Failed to record component execution",
				"executionId", event.AggregateID,
				"error", err,
			)
			continue
		}
		metrics.SinkRecordsTotal.WithLabelValues("delivered").Inc()
	}
}

func (s *EventSink) deliver(event events.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	return s.breaker.Run(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, s.retry, func() error {
			return s.bus.Publish(ctx, event)
		})
	})
}

// ComponentExecutionEvent builds the event recorded for a completed execution
func ComponentExecutionEvent(
	ctx context.Context,
	execution *metadata.Execution,
	task *metadata.NodeTask,
	artifacts metadata.ArtifactMultiMap,
) events.Event {
	builder := events.NewEventBuilder(events.ExecutionComponentCompleted).
		WithAggregateID(strconv.FormatInt(execution.ID, 10)).
		WithAggregateType("execution").
		WithPayload("executionId", execution.ID).
		WithPayload("executionType", execution.Type).
		WithPayload("state", string(execution.LastKnownState)).
		WithPayload("outputs", artifactRefs(artifacts))

	if task != nil {
		builder.
			WithPayload("pipelineId", task.PipelineID).
			WithPayload("pipelineRunId", task.PipelineRunID).
			WithPayload("nodeId", task.NodeID).
			WithCorrelationID(task.PipelineRunID)
	}

	if result, ok, err := execution.Result(); ok && err == nil {
		builder.WithPayload("resultCode", result.Code)
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		builder.WithTraceID(sc.TraceID().String(), sc.SpanID().String())
	}

	return builder.Build()
}

type artifactRef struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
	URI  string `json:"uri"`
}

func artifactRefs(artifacts metadata.ArtifactMultiMap) map[string][]artifactRef {
	refs := make(map[string][]artifactRef, len(artifacts))
	for _, key := range artifacts.Keys() {
		list := make([]artifactRef, 0, len(artifacts[key]))
		for _, a := range artifacts[key] {
			list = append(list, artifactRef{ID: a.ID, Type: a.Type, URI: a.URI})
		}
		refs[key] = list
	}
	return refs
}

// NopSink drops every record
type NopSink struct{}

func (NopSink) LogComponentExecution(context.Context, *metadata.Execution, *metadata.NodeTask, metadata.ArtifactMultiMap) error {
	return nil
}
