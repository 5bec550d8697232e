package ports

import (
	"context"

	"github.com/execledger/execledger/internal/domain/metadata"
)

// ExecutionSink receives a record of every successfully completed
// component execution. Delivery is best effort.
type ExecutionSink interface {
	LogComponentExecution(
		ctx context.Context,
		execution *metadata.Execution,
		task *metadata.NodeTask,
		artifacts metadata.ArtifactMultiMap,
	) error
}
