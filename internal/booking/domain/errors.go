package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no booking exists for an id.
	ErrNotFound = errors.New("booking not found")
	// ErrInvalidTransition is returned for status changes outside the state machine.
	ErrInvalidTransition = errors.New("invalid booking status transition")
	// ErrInvariantViolation is returned when a write would break a co-required field rule
	// or modify an immutable field.
	ErrInvariantViolation = errors.New("booking invariant violated")
	// ErrConflict is returned when a concurrent writer won every retry of an update.
	ErrConflict = errors.New("booking modified concurrently")
	// ErrStore wraps persistence failures.
	ErrStore = errors.New("booking store failure")
	// ErrDriverMismatch is returned when an actor other than the assigned driver acts on a booking.
	ErrDriverMismatch = errors.New("driver not assigned to booking")
	// ErrPassengerMismatch is returned when a passenger acts on someone else's booking.
	ErrPassengerMismatch = errors.New("booking belongs to another passenger")
	// ErrForbiddenActor is returned for roles that may never perform an operation.
	ErrForbiddenActor = errors.New("actor may not change booking")
)

// ValidationError names the request field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err carries a ValidationError and returns it.
func IsValidation(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
