package ports

import (
	"context"

	"github.com/execledger/execledger/internal/domain/metadata"
)

// PutExecutionRequest describes one atomic write of an execution together
// with its context associations and artifact events.
type PutExecutionRequest struct {
	Execution       *metadata.Execution
	Contexts        []*metadata.Context
	InputArtifacts  metadata.ArtifactMultiMap
	OutputArtifacts metadata.ArtifactMultiMap
	// OutputEventType defaults to OUTPUT
	OutputEventType metadata.EventType
}

// PutExecutionsRequest writes several executions in one transaction.
// OutputArtifactsMaps is either nil or parallel to Executions.
type PutExecutionsRequest struct {
	Executions          []*metadata.Execution
	Contexts            []*metadata.Context
	OutputArtifactsMaps []metadata.ArtifactMultiMap
}

type MetadataStore interface {
	GetExecutionsByID(ctx context.Context, ids []int64) ([]*metadata.Execution, error)
	GetExecutionByTypeAndName(ctx context.Context, typeName, name string) (*metadata.Execution, error)
	PutExecution(ctx context.Context, req PutExecutionRequest) (*metadata.Execution, error)
	PutExecutions(ctx context.Context, req PutExecutionsRequest) ([]*metadata.Execution, error)
	GetOrCreateExecutionType(ctx context.Context, executionType *metadata.ExecutionType) (*metadata.ExecutionType, error)
	GetArtifactsByID(ctx context.Context, ids []int64) ([]*metadata.Artifact, error)
	GetEventsByExecutionIDs(ctx context.Context, ids []int64) ([]*metadata.Event, error)
	GetContextsByExecution(ctx context.Context, executionID int64) ([]*metadata.Context, error)
}
