package somgo

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an instance id is unknown.
	ErrNotFound = errors.New("instance not found")

	// ErrStateConflict is the sentinel all state errors unwrap to. State
	// errors are recoverable by reordering operations.
	ErrStateConflict = errors.New("operation invalid for instance state")
)

// ErrInvalidConfig indicates an invalid instance configuration, rejected at
// creation and never retried.
type ErrInvalidConfig struct {
	Field  string
	Reason string
}

func (e *ErrInvalidConfig) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

// ErrInvalidState indicates an operation that is not valid for the instance's
// current lifecycle state. It satisfies errors.Is(err, ErrStateConflict).
type ErrInvalidState struct {
	Op     string
	Status InstanceStatus
}

func (e *ErrInvalidState) Error() string {
	return fmt.Sprintf("%s not allowed while instance is %s", e.Op, e.Status)
}

func (e *ErrInvalidState) Unwrap() error { return ErrStateConflict }

// ErrTrainingFailed indicates a terminal numerical fault in a training run.
// The instance remains queryable but cannot be retrained without recreation.
//
// The underlying trainer error can be accessed via errors.Unwrap.
type ErrTrainingFailed struct {
	InstanceID string
	cause      error
}

func (e *ErrTrainingFailed) Error() string {
	return fmt.Sprintf("training failed for instance %s: %v", e.InstanceID, e.cause)
}

func (e *ErrTrainingFailed) Unwrap() error { return e.cause }
