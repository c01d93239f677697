package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies every failure the system can surface.
type ErrorType string

const (
	ErrorValidation   ErrorType = "validation"
	ErrorNotFound     ErrorType = "not_found"
	ErrorConflict     ErrorType = "conflict"
	ErrorUnresolvable ErrorType = "unresolvable"
	ErrorTransient    ErrorType = "transient"
	ErrorTimeout      ErrorType = "timeout"
	ErrorCancelled    ErrorType = "cancelled"
	ErrorCostExceeded ErrorType = "cost_exceeded"
	ErrorProvider     ErrorType = "provider"
	ErrorInternal     ErrorType = "internal"
)

// Error is the result-style failure value used across the orchestrator.
// Retryable defaults from the type: transient and provider failures are
// absorbed by the retry loop, everything else surfaces immediately.
type Error struct {
	Type      ErrorType
	Message   string
	Retryable bool
	cause     error
}

// E builds an Error of the given type.
func E(t ErrorType, msg string) *Error {
	return &Error{Type: t, Message: msg, Retryable: defaultRetryable(t)}
}

// Ef builds an Error with a formatted message.
func Ef(t ErrorType, format string, args ...any) *Error {
	return E(t, fmt.Sprintf(format, args...))
}

// WrapError attaches a cause to a typed error.
func WrapError(t ErrorType, err error, msg string) *Error {
	e := E(t, msg)
	e.cause = err
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// WithRetryable overrides the default retryability.
func (e *Error) WithRetryable(r bool) *Error {
	e.Retryable = r
	return e
}

func defaultRetryable(t ErrorType) bool {
	return t == ErrorTransient || t == ErrorProvider
}

// TypeOf extracts the taxonomy type from any error. Field-level validation
// errors classify as validation, context errors map to timeout/cancelled,
// and unclassified errors are internal.
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	if IsValidationError(err) {
		return ErrorValidation
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrorCancelled
	}
	return ErrorInternal
}

// IsType reports whether err carries the given taxonomy type.
func IsType(err error, t ErrorType) bool {
	return TypeOf(err) == t
}

// IsRetryable reports whether the retry loop may absorb err.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// ValidationError describes one invalid input field at the API boundary.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// NewValidationError creates a field-level validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError checks if an error is a field-level validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// JoinMessages joins error strings for "validation failed: <joined>" results.
func JoinMessages(msgs []string) string {
	return strings.Join(msgs, "; ")
}
