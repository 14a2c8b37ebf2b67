package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateEvent is returned by CreateWebhookEvent when the dedup key
	// already exists.
	ErrDuplicateEvent = errors.New("webhook event already exists")
	// ErrEventNotFound is returned when a webhook event cannot be located.
	ErrEventNotFound = errors.New("webhook event not found")
	// ErrJobNotFound is returned when a sync job cannot be located.
	ErrJobNotFound = errors.New("sync job not found")
	// ErrConnectionNotFound is returned when a device connection cannot be located.
	ErrConnectionNotFound = errors.New("device connection not found")
)

// ValidationError describes malformed or unsupported input. It surfaces as a
// 4xx with no side effects.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid constructs a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ProcessingError is a domain-level sync failure carrying the retry decision.
// Store errors and other transient faults are retryable by default; context
// violations (revoked connection, disabled provider, corrupted linkage) are
// terminal.
type ProcessingError struct {
	Reason    string
	Retryable bool
	Err       error
}

func (e *ProcessingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// NonRetryable wraps a terminal processing failure.
func NonRetryable(reason string) *ProcessingError {
	return &ProcessingError{Reason: reason, Retryable: false}
}

// Retryable wraps a transient processing failure.
func Retryable(reason string, err error) *ProcessingError {
	return &ProcessingError{Reason: reason, Retryable: true, Err: err}
}

// IsRetryable reports the retry decision for an error. Unknown errors default
// to retryable.
func IsRetryable(err error) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return true
}
