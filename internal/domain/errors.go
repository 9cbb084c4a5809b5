package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job id is unknown to the store.
	ErrJobNotFound = errors.New("job not found")

	// ErrNotOwner is returned when a caller tries to cancel a job that
	// belongs to a different user.
	ErrNotOwner = errors.New("job does not belong to requesting user")

	// ErrJobAlreadyClaimed is returned when a worker tries to claim a job
	// that is no longer pending.
	ErrJobAlreadyClaimed = errors.New("job already claimed or not in pending status")

	// ErrQueueClosed is returned by queue operations after shutdown.
	ErrQueueClosed = errors.New("dispatch queue is closed")

	// ErrRateLimited is returned when an owner exceeds the enqueue rate limit.
	ErrRateLimited = errors.New("enqueue rate limit exceeded")
)

// ValidationError rejects an enqueue request synchronously; no job record
// is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for a request field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// TransientError wraps an infrastructure failure that is eligible for
// automatic retry, provided no processing step has completed yet.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError marks err as retryable.
func NewTransientError(err error) error {
	return &TransientError{Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
