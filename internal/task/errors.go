package task

import (
	"errors"
	"fmt"
)

// Guard violations returned when an operation is attempted in an
// incompatible state. No state mutation occurs when these are returned.
var (
	ErrAlreadyInProgress = errors.New("task already in progress")
	ErrAlreadyCompleted  = errors.New("task already completed")
)

// ErrNotFound is returned by Status for a task id with no persisted state.
var ErrNotFound = errors.New("task not found")

// ErrObjectNotFound is returned by BlobStore implementations for an
// absent object key.
var ErrObjectNotFound = errors.New("object not found")

// ValidationError reports malformed or missing input at the boundary.
// It never enters the state machine.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
