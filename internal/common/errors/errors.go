// Package errors provides the standardized error taxonomy for the
// opinion-simulation pipeline.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeModelCallFailed  ErrorCode = "MODEL_CALL_FAILED"
	ErrCodeModelTimeout     ErrorCode = "MODEL_TIMEOUT"
	ErrCodeOutputParse      ErrorCode = "OUTPUT_PARSE_FAILED"
	ErrCodeCacheUnavailable ErrorCode = "CACHE_UNAVAILABLE"
	ErrCodeRateLimited      ErrorCode = "RATE_LIMITED"
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error. Details never
// reach the client; they are for logs only.
type StandardError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// NewValidationFailedError creates a non-retryable client input error.
// violations is the human-readable list of violated constraints.
func NewValidationFailedError(violations []string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   strings.Join(violations, "; "),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewModelCallFailedError creates a retryable provider error.
func NewModelCallFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeModelCallFailed,
		Message:   "Language model call failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewModelTimeoutError creates a retryable timeout error for the model call.
func NewModelTimeoutError(stage string) *StandardError {
	return &StandardError{
		Code:      ErrCodeModelTimeout,
		Message:   "Language model call timed out",
		Details:   fmt.Sprintf("stage: %s", stage),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewOutputParseError creates a non-retryable error for model output that
// could not be parsed into the expected shape. rawText is preserved in
// Details for diagnostics and must never be echoed to the client.
func NewOutputParseError(reason string, rawText string) *StandardError {
	return &StandardError{
		Code:      ErrCodeOutputParse,
		Message:   "Model output did not match the expected shape",
		Details:   fmt.Sprintf("%s; raw: %s", reason, rawText),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewCacheUnavailableError creates a retryable cache backend error. Callers
// treat this as a cache miss rather than aborting the request.
func NewCacheUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCacheUnavailable,
		Message:   "Cache backend unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewRateLimitedError creates a non-retryable (within the window) rate
// limit error.
func NewRateLimitedError(clientID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRateLimited,
		Message:   "Too many requests, try again later",
		Details:   fmt.Sprintf("client: %s", clientID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewInternalError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Internal error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// AsStandardError unwraps err into a *StandardError, or wraps it as an
// internal error when it is not one.
func AsStandardError(err error) *StandardError {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr
	}
	return NewInternalError(err)
}

// HTTPStatus maps an error code to the HTTP status returned to clients.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeValidationFailed:
		return http.StatusBadRequest
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// ClientMessage returns the generic user-facing message for an error class.
// Provider and parse failures share one message so that nothing about the
// model exchange leaks out.
func ClientMessage(e *StandardError) string {
	switch e.Code {
	case ErrCodeValidationFailed:
		return e.Message
	case ErrCodeRateLimited:
		return e.Message
	default:
		return "Simulation failed, please try again"
	}
}
