package metadata

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an execution id does not resolve to a record
	ErrNotFound = errors.New("execution not found")
	// ErrMultipleFound is returned when an execution id resolves to more than one record
	ErrMultipleFound = errors.New("multiple executions found")
	// ErrDuplicateRegistration is returned when the registration token is already taken
	ErrDuplicateRegistration = errors.New("execution already registered")
	// ErrAlreadyTerminal is returned by a guarded publish on a finished execution
	ErrAlreadyTerminal = errors.New("execution already in a terminal state")
	// ErrMerge matches every *MergeError via errors.Is
	ErrMerge = errors.New("output artifact merge failed")
)

// MergeError reports an executor artifact update that cannot be merged
// into the declared output artifacts.
type MergeError struct {
	Key    string
	Reason string
}

func (e *MergeError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %s", ErrMerge, e.Reason)
	}
	return fmt.Sprintf("%s: key %q: %s", ErrMerge, e.Key, e.Reason)
}

func (e *MergeError) Is(target error) bool {
	return target == ErrMerge
}

// NewMergeError creates a merge error for an output key
func NewMergeError(key, format string, args ...interface{}) *MergeError {
	return &MergeError{Key: key, Reason: fmt.Sprintf(format, args...)}
}
