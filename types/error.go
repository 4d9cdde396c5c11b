package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the pipeline.
type ErrorCode string

// Control-plane and transport error codes
const (
	ErrTransport     ErrorCode = "TRANSPORT"      // network failure reaching an external service
	ErrThrottled     ErrorCode = "THROTTLED"      // external service throttling, retried with backoff
	ErrQuotaExceeded ErrorCode = "QUOTA_EXCEEDED" // control-plane profile cap hit
	ErrControlPlane  ErrorCode = "CONTROL_PLANE"  // control plane reported a non-zero code
)

// Session lifecycle error codes
const (
	ErrProvisionFailed ErrorCode = "PROVISION_FAILED"
	ErrStartFailed     ErrorCode = "START_FAILED"
	ErrStopFailed      ErrorCode = "STOP_FAILED"
	ErrDeleteFailed    ErrorCode = "DELETE_FAILED"
	ErrInvalidState    ErrorCode = "INVALID_STATE" // illegal profile state transition
)

// Pipeline error codes
const (
	ErrScoutFailure        ErrorCode = "SCOUT_FAILURE"
	ErrNoValidIntelligence ErrorCode = "NO_VALID_INTELLIGENCE"
	ErrCancelled           ErrorCode = "CANCELLED"
	ErrGateClosed          ErrorCode = "GATE_CLOSED" // advance requested before the gate opened
)

// LLM error codes
const (
	ErrLLMUnavailable ErrorCode = "LLM_UNAVAILABLE"
	ErrLLMBadOutput   ErrorCode = "LLM_BAD_OUTPUT" // response did not parse as the expected schema
)

// Error is a structured error carrying a code, message, and optional cause.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches a cause and returns the receiver for chaining.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error retryable and returns the receiver.
func (e *Error) WithRetryable() *Error {
	e.Retryable = true
	return e
}

// CodeOf extracts the ErrorCode from err, unwrapping as needed.
// Returns "" when err is nil or carries no code.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err (or anything it wraps) carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
