// Package apperr defines the error kinds callers branch on:
// validation failures, missing keys and downstream (store/topic) faults.
package apperr

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no item matches the requested key.
var ErrNotFound = errors.New("order not found")

// ValidationError means an input field is missing or malformed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// DownstreamError wraps a failure of a backing system (database, broker).
type DownstreamError struct {
	System string
	Err    error
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.System, e.Err)
}

func (e *DownstreamError) Unwrap() error { return e.Err }

// Downstream wraps err as a DownstreamError for the named system.
func Downstream(system string, err error) error {
	if err == nil {
		return nil
	}
	return &DownstreamError{System: system, Err: err}
}
