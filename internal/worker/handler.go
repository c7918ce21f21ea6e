package worker

import (
	"context"
	"errors"

	"github.com/decomontenegro/truelabel/internal/domain"
)

// JobHandler reviews one claimed queue entry. The entry arrives ASSIGNED to
// the worker's reviewer; the handler is responsible for starting and
// completing it. Returning an error fails the entry: it is retried with
// backoff unless the error is a PermanentError.
type JobHandler interface {
	// Type names the handler in logs and metrics.
	Type() string

	Handle(ctx context.Context, entry *domain.QueueEntry) error
}

// PermanentError wraps an error to indicate it should not be retried.
// Entries that fail with a PermanentError expire immediately into the dead
// letter view instead of being rescheduled.
type PermanentError struct {
	Err error
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	return e.Err.Error()
}

// Unwrap allows errors.Is and errors.As to work with PermanentError.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError creates a new PermanentError that wraps the given error.
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is a PermanentError.
// Returns true if the error (or any error it wraps) is a PermanentError.
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}
