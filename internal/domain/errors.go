/**
 * @description
 * Typed errors surfaced by the core operations. Every caller-visible failure
 * carries a kind, a short machine code, and a human-readable message; no
 * internal detail leaks past this boundary.
 */
package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a caller-visible failure.
type ErrorKind string

const (
	KindValidation           ErrorKind = "validation"
	KindAuth                 ErrorKind = "auth"
	KindInsufficientFunds    ErrorKind = "insufficient_funds"
	KindProviderUnavailable  ErrorKind = "provider_unavailable"
	KindProviderRejected     ErrorKind = "provider_rejected"
	KindProviderUndetermined ErrorKind = "provider_undetermined"
	KindDuplicateIdempotent  ErrorKind = "duplicate_idempotent"
	KindStateConflict        ErrorKind = "state_conflict"
	KindInternal             ErrorKind = "internal"
)

// Error is the typed error returned to callers of the core operations.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a typed error.
func NewError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// WrapError builds a typed error around a cause.
func WrapError(kind ErrorKind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// ErrKind extracts the kind from an error chain, defaulting to internal.
func ErrKind(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
