package cloud

import (
	"errors"
	"fmt"
)

// Error wraps a provider failure with the call context and its retry class.
type Error struct {
	// Op is the failed verb, e.g. "create" or "describe".
	Op string
	// ResourceID is the resource the call was for.
	ResourceID string
	// Transient marks throttling and eventual-consistency failures that a
	// bounded retry may resolve. Everything else is fatal for the resource.
	Transient bool
	// Err is the underlying provider error.
	Err error
}

func (e *Error) Error() string {
	class := "fatal"
	if e.Transient {
		class = "transient"
	}
	return fmt.Sprintf("%s %s: %s provider error: %v", e.Op, e.ResourceID, class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable provider error.
func TransientError(op, resourceID string, err error) error {
	return &Error{Op: op, ResourceID: resourceID, Transient: true, Err: err}
}

// Fatal wraps err as a non-retryable provider error.
func FatalError(op, resourceID string, err error) error {
	return &Error{Op: op, ResourceID: resourceID, Transient: false, Err: err}
}

// IsTransient reports whether err carries a transient provider error. An
// unclassified error defaults to fatal so unknown failures are never retried
// blindly.
func IsTransient(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Transient
}
