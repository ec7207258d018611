package provider

import (
	"errors"
	"fmt"
)

// Error is a classified provider failure. Adapters wrap every non-2xx or
// transport failure in one of these so the orchestrator can pick the right
// recovery path without knowing the wire format.
type Error struct {
	// Rejected: remote 4xx, terminal, never retried.
	Rejected bool
	// Undetermined: the request may have been accepted (timeout or 5xx after
	// the body was sent on a non-idempotent call). The transaction stays in
	// processing and is reconciled asynchronously.
	Undetermined bool
	StatusCode   int
	Message      string
	Err          error
}

func (e *Error) Error() string {
	switch {
	case e.Rejected:
		return fmt.Sprintf("provider rejected (status %d): %s", e.StatusCode, e.Message)
	case e.Undetermined:
		return fmt.Sprintf("provider outcome undetermined: %s", e.Message)
	default:
		return fmt.Sprintf("provider unavailable: %s", e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// NewRejected builds a terminal 4xx failure.
func NewRejected(status int, message string) *Error {
	return &Error{Rejected: true, StatusCode: status, Message: message}
}

// NewUndetermined builds a failure whose remote outcome is unknown.
func NewUndetermined(message string, err error) *Error {
	return &Error{Undetermined: true, Message: message, Err: err}
}

// NewUnavailable builds a transient failure (network error or 5xx).
func NewUnavailable(status int, message string, err error) *Error {
	return &Error{StatusCode: status, Message: message, Err: err}
}

// IsRejected reports whether err is a terminal provider rejection.
func IsRejected(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Rejected
}

// IsUndetermined reports whether the remote outcome of err is unknown.
func IsUndetermined(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Undetermined
}

// Retryable reports whether a call that failed with err may be retried:
// network errors and 5xx only, never 4xx, never undetermined outcomes.
func Retryable(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	return !pe.Rejected && !pe.Undetermined
}
