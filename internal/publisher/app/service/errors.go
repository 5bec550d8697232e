package service

import (
	"errors"

	"github.com/execledger/execledger/internal/domain/metadata"
)

var (
	ErrExecutionTypeRequired = errors.New("execution type is required")
	// ErrInvalidRequest covers malformed publish arguments
	ErrInvalidRequest = errors.New("invalid publish request")
)

// ErrorKind classifies err for metrics labels
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, metadata.ErrMerge):
		return "merge"
	case errors.Is(err, metadata.ErrNotFound):
		return "not_found"
	case errors.Is(err, metadata.ErrMultipleFound):
		return "multiple_found"
	case errors.Is(err, metadata.ErrDuplicateRegistration):
		return "duplicate"
	case errors.Is(err, metadata.ErrAlreadyTerminal):
		return "terminal"
	case errors.Is(err, ErrExecutionTypeRequired), errors.Is(err, ErrInvalidRequest):
		return "invalid"
	default:
		return "store"
	}
}
