package domain

import (
	"errors"
	"fmt"
)

// -----------------------------
// NotFoundError
// -----------------------------

type NotFoundError struct {
	Resource string
	Key      string
}

func NewNotFoundError(resource, key string) *NotFoundError {
	return &NotFoundError{Resource: resource, Key: key}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Key)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// -----------------------------
// InvalidStateError
// -----------------------------

// InvalidStateError signals an operation that is not legal from the current
// state, e.g. applying a preview when none is active or rolling back the
// default brand.
type InvalidStateError struct {
	Op     string
	Reason string
}

func NewInvalidStateError(op, reason string) *InvalidStateError {
	return &InvalidStateError{Op: op, Reason: reason}
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state for %s: %s", e.Op, e.Reason)
}

func IsInvalidState(err error) bool {
	var e *InvalidStateError
	return errors.As(err, &e)
}

// -----------------------------
// ValidationError
// -----------------------------

type ValidationError struct {
	Message string
	Cause   error
}

func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

func NewValidationErrorWithCause(message string, cause error) *ValidationError {
	return &ValidationError{Message: message, Cause: cause}
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("validation error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

func IsValidationError(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}
