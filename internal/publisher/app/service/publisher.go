package service

import (
	"context"
	"fmt"
	"time"

	"github.com/execledger/execledger/internal/domain/metadata"
	metadataports "github.com/execledger/execledger/internal/metadata/ports"
	"github.com/execledger/execledger/internal/publisher/app/merge"
	"github.com/execledger/execledger/internal/publisher/ports"
	"github.com/execledger/execledger/pkg/logger"
	"github.com/execledger/execledger/pkg/metrics"
	"github.com/execledger/execledger/pkg/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const (
	opRegister  = "register"
	opSucceeded = "succeeded"
	opFailed    = "failed"
	opCached    = "cached"
	opInternal  = "internal"
)

type Options struct {
	// RejectTerminalRepublish makes publish calls fail with
	// ErrAlreadyTerminal when the execution already reached a terminal state.
	RejectTerminalRepublish bool
}

// Publisher records execution lifecycle transitions in the metadata store.
// It holds no mutable state and is safe for concurrent use.
type Publisher struct {
	store   metadataports.MetadataStore
	sink    ports.ExecutionSink
	tracer  trace.Tracer
	logger  logger.Logger
	options Options
}

func NewPublisher(
	store metadataports.MetadataStore,
	sink ports.ExecutionSink,
	tracer trace.Tracer,
	logger logger.Logger,
	options Options,
) *Publisher {
	if tracer == nil {
		tracer = telemetry.NewNop().Tracer()
	}
	return &Publisher{
		store:   store,
		sink:    sink,
		tracer:  tracer,
		logger:  logger.Named("publisher"),
		options: options,
	}
}

// RegisterExecutionRequest describes a new execution about to run
type RegisterExecutionRequest struct {
	ExecutionType  *metadata.ExecutionType
	Contexts       []*metadata.Context
	InputArtifacts metadata.ArtifactMultiMap
	ExecProperties map[string]interface{}
	// LastKnownState defaults to RUNNING
	LastKnownState metadata.ExecutionState
}

// RegisterExecution creates an execution with a fresh registration token,
// links its inputs and associates it with the given contexts.
func (p *Publisher) RegisterExecution(ctx context.Context, req RegisterExecutionRequest) (execution *metadata.Execution, err error) {
	ctx, span := p.tracer.Start(ctx, "publisher.RegisterExecution")
	defer func() { telemetry.EndSpan(span, err) }()
	defer p.observe(opRegister, time.Now(), &err)

	if req.ExecutionType == nil || req.ExecutionType.Name == "" {
		return nil, ErrExecutionTypeRequired
	}

	execution, err = p.prepareExecution(ctx, req)
	if err != nil {
		return nil, err
	}

	execution, err = p.store.PutExecution(ctx, metadataports.PutExecutionRequest{
		Execution:      execution,
		Contexts:       req.Contexts,
		InputArtifacts: req.InputArtifacts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register execution: %w", err)
	}

	span.SetAttributes(telemetry.ExecutionIDAttribute(execution.ID))
	metrics.ExecutionPublishTotal.WithLabelValues(opRegister, string(execution.LastKnownState)).Inc()
	p.logger.Info("Execution registered",
		"executionId", execution.ID,
		"type", execution.Type,
		"name", execution.Name,
		"inputs", req.InputArtifacts.Len(),
	)
	return execution, nil
}

func (p *Publisher) prepareExecution(ctx context.Context, req RegisterExecutionRequest) (*metadata.Execution, error) {
	state := req.LastKnownState
	if state == "" {
		state = metadata.ExecutionRunning
	}
	if !state.IsValid() {
		return nil, fmt.Errorf("%w: unknown execution state %q", ErrInvalidRequest, state)
	}

	var customProperties metadata.Properties
	for key, raw := range req.ExecProperties {
		value, err := metadata.NewValue(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: exec property %q: %v", ErrInvalidRequest, key, err)
		}
		if customProperties == nil {
			customProperties = make(metadata.Properties, len(req.ExecProperties))
		}
		customProperties[key] = value
	}

	executionType, err := p.store.GetOrCreateExecutionType(ctx, req.ExecutionType)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve execution type %s: %w", req.ExecutionType.Name, err)
	}

	return &metadata.Execution{
		TypeID:           executionType.ID,
		Type:             executionType.Name,
		Name:             uuid.NewString(),
		LastKnownState:   state,
		CustomProperties: customProperties,
	}, nil
}

// PublishSucceededExecution merges the executor's output over the declared
// outputs, marks the non-reference artifacts published and completes the
// execution. It returns the published artifacts and the stored execution.
func (p *Publisher) PublishSucceededExecution(
	ctx context.Context,
	executionID int64,
	contexts []*metadata.Context,
	outputArtifacts metadata.ArtifactMultiMap,
	executorOutput *metadata.ExecutorOutput,
	task *metadata.NodeTask,
) (published metadata.ArtifactMultiMap, execution *metadata.Execution, err error) {
	ctx, span := p.tracer.Start(ctx, "publisher.PublishSucceededExecution",
		trace.WithAttributes(telemetry.ExecutionIDAttribute(executionID)))
	defer func() { telemetry.EndSpan(span, err) }()
	defer p.observe(opSucceeded, time.Now(), &err)

	var updated metadata.ArtifactMultiMap
	if executorOutput != nil {
		updated = executorOutput.OutputArtifacts
	}

	merged, err := merge.UpdatedOutputArtifacts(outputArtifacts, updated)
	if err != nil {
		return nil, nil, err
	}
	published = publishable(merged)

	execution, err = p.loadExecution(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}

	execution.LastKnownState = metadata.ExecutionComplete
	if executorOutput != nil {
		for key, value := range executorOutput.ExecutionProperties {
			execution.SetCustomProperty(key, value)
		}
		if err := SetExecutionResultIfNotEmpty(executorOutput.ExecutionResult, execution); err != nil {
			return nil, nil, err
		}
	}

	execution, err = p.store.PutExecution(ctx, metadataports.PutExecutionRequest{
		Execution:       execution,
		Contexts:        contexts,
		OutputArtifacts: published,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to publish execution %d: %w", executionID, err)
	}

	count := published.Len()
	span.SetAttributes(
		telemetry.ArtifactCountAttribute(count),
		telemetry.ExecutionStateAttribute(string(execution.LastKnownState)),
	)
	metrics.ExecutionPublishTotal.WithLabelValues(opSucceeded, string(execution.LastKnownState)).Inc()
	metrics.ArtifactsPublishedTotal.WithLabelValues(string(metadata.EventOutput)).Add(float64(count))

	if err := p.logComponentExecution(ctx, execution, task, published); err != nil {
		p.logger.Warn("Failed to record component execution",
			"executionId", execution.ID,
			"error", err,
		)
	}

	p.logger.Info("Execution succeeded",
		"executionId", execution.ID,
		"type", execution.Type,
		"published", count,
	)
	return published, execution, nil
}

// PublishFailedExecution marks the execution failed. No artifacts are
// recorded.
func (p *Publisher) PublishFailedExecution(
	ctx context.Context,
	contexts []*metadata.Context,
	executionID int64,
	executorOutput *metadata.ExecutorOutput,
) (execution *metadata.Execution, err error) {
	ctx, span := p.tracer.Start(ctx, "publisher.PublishFailedExecution",
		trace.WithAttributes(telemetry.ExecutionIDAttribute(executionID)))
	defer func() { telemetry.EndSpan(span, err) }()
	defer p.observe(opFailed, time.Now(), &err)

	execution, err = p.loadExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	execution.LastKnownState = metadata.ExecutionFailed
	if executorOutput != nil {
		if err := SetExecutionResultIfNotEmpty(executorOutput.ExecutionResult, execution); err != nil {
			return nil, err
		}
	}

	execution, err = p.store.PutExecution(ctx, metadataports.PutExecutionRequest{
		Execution: execution,
		Contexts:  contexts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to publish execution %d: %w", executionID, err)
	}

	span.SetAttributes(telemetry.ExecutionStateAttribute(string(execution.LastKnownState)))
	metrics.ExecutionPublishTotal.WithLabelValues(opFailed, string(execution.LastKnownState)).Inc()
	p.logger.Info("Execution failed", "executionId", execution.ID, "type", execution.Type)
	return execution, nil
}

// PublishCachedExecutions marks every execution cached and stores them with
// their outputs in a single write. outputArtifactsMaps is either nil or
// parallel to executions.
func (p *Publisher) PublishCachedExecutions(
	ctx context.Context,
	contexts []*metadata.Context,
	executions []*metadata.Execution,
	outputArtifactsMaps []metadata.ArtifactMultiMap,
) (err error) {
	ctx, span := p.tracer.Start(ctx, "publisher.PublishCachedExecutions")
	defer func() { telemetry.EndSpan(span, err) }()
	defer p.observe(opCached, time.Now(), &err)

	if outputArtifactsMaps != nil && len(outputArtifactsMaps) != len(executions) {
		return fmt.Errorf("%w: got %d output artifact maps for %d executions",
			ErrInvalidRequest, len(outputArtifactsMaps), len(executions))
	}

	for i, execution := range executions {
		if execution == nil {
			return fmt.Errorf("%w: execution at index %d is nil", ErrInvalidRequest, i)
		}
		if p.options.RejectTerminalRepublish && execution.ID != 0 && execution.LastKnownState.IsTerminal() {
			return fmt.Errorf("%w: execution %d is %s", metadata.ErrAlreadyTerminal, execution.ID, execution.LastKnownState)
		}
	}
	for _, execution := range executions {
		execution.LastKnownState = metadata.ExecutionCached
	}

	stored, err := p.store.PutExecutions(ctx, metadataports.PutExecutionsRequest{
		Executions:          executions,
		Contexts:            contexts,
		OutputArtifactsMaps: outputArtifactsMaps,
	})
	if err != nil {
		return fmt.Errorf("failed to publish cached executions: %w", err)
	}

	metrics.ExecutionPublishTotal.WithLabelValues(opCached, string(metadata.ExecutionCached)).Add(float64(len(stored)))
	p.logger.Info("Executions cached", "count", len(stored))
	return nil
}

// PublishInternalExecution completes an execution whose outputs are
// internal. Artifact states are left as given.
func (p *Publisher) PublishInternalExecution(
	ctx context.Context,
	contexts []*metadata.Context,
	executionID int64,
	outputArtifacts metadata.ArtifactMultiMap,
) (err error) {
	ctx, span := p.tracer.Start(ctx, "publisher.PublishInternalExecution",
		trace.WithAttributes(telemetry.ExecutionIDAttribute(executionID)))
	defer func() { telemetry.EndSpan(span, err) }()
	defer p.observe(opInternal, time.Now(), &err)

	execution, err := p.loadExecution(ctx, executionID)
	if err != nil {
		return err
	}
	execution.LastKnownState = metadata.ExecutionComplete

	_, err = p.store.PutExecution(ctx, metadataports.PutExecutionRequest{
		Execution:       execution,
		Contexts:        contexts,
		OutputArtifacts: outputArtifacts,
		OutputEventType: metadata.EventInternalOutput,
	})
	if err != nil {
		return fmt.Errorf("failed to publish execution %d: %w", executionID, err)
	}

	metrics.ExecutionPublishTotal.WithLabelValues(opInternal, string(metadata.ExecutionComplete)).Inc()
	metrics.ArtifactsPublishedTotal.WithLabelValues(string(metadata.EventInternalOutput)).Add(float64(outputArtifacts.Len()))
	p.logger.Info("Internal execution completed", "executionId", executionID, "outputs", outputArtifacts.Len())
	return nil
}

// GetExecution loads a single execution by id
func (p *Publisher) GetExecution(ctx context.Context, executionID int64) (*metadata.Execution, error) {
	executions, err := p.store.GetExecutionsByID(ctx, []int64{executionID})
	if err != nil {
		return nil, fmt.Errorf("failed to load execution %d: %w", executionID, err)
	}
	switch len(executions) {
	case 0:
		return nil, fmt.Errorf("%w: execution %d", metadata.ErrNotFound, executionID)
	case 1:
		return executions[0], nil
	default:
		return nil, fmt.Errorf("%w: execution %d matched %d rows", metadata.ErrMultipleFound, executionID, len(executions))
	}
}

// loadExecution is GetExecution plus the optional terminal-state guard
func (p *Publisher) loadExecution(ctx context.Context, executionID int64) (*metadata.Execution, error) {
	execution, err := p.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if p.options.RejectTerminalRepublish && execution.LastKnownState.IsTerminal() {
		return nil, fmt.Errorf("%w: execution %d is %s", metadata.ErrAlreadyTerminal, executionID, execution.LastKnownState)
	}
	return execution, nil
}

func (p *Publisher) logComponentExecution(
	ctx context.Context,
	execution *metadata.Execution,
	task *metadata.NodeTask,
	published metadata.ArtifactMultiMap,
) error {
	if p.sink == nil {
		return nil
	}
	return p.sink.LogComponentExecution(ctx, execution, task, published)
}

func (p *Publisher) observe(op string, start time.Time, errp *error) {
	metrics.ExecutionPublishDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err := *errp; err != nil {
		metrics.ExecutionPublishErrors.WithLabelValues(op, ErrorKind(err)).Inc()
		p.logger.Error("Publish operation failed", "operation", op, "error", err)
	}
}

// SetExecutionResultIfNotEmpty attaches result to execution unless it
// carries no message, metadata or code.
func SetExecutionResultIfNotEmpty(result metadata.ExecutionResult, execution *metadata.Execution) error {
	if result.IsEmpty() {
		return nil
	}
	return execution.SetResult(result)
}

// publishable marks non-reference artifacts published and returns them.
// Keys are kept even when all their artifacts are references.
func publishable(artifacts metadata.ArtifactMultiMap) metadata.ArtifactMultiMap {
	out := make(metadata.ArtifactMultiMap, len(artifacts))
	for key, list := range artifacts {
		kept := make([]*metadata.Artifact, 0, len(list))
		for _, artifact := range list {
			if artifact.State == metadata.ArtifactReference {
				continue
			}
			artifact.State = metadata.ArtifactPublished
			kept = append(kept, artifact)
		}
		out[key] = kept
	}
	return out
}
