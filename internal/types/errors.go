package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Components MUST use these instead of hardcoded strings.
const (
	// Validation (input rejected before any upstream call)
	ErrCodeValidationInvalidCadence     ErrorCode = "validation_invalid_cadence"
	ErrCodeValidationInvalidLat         ErrorCode = "validation_invalid_latitude"
	ErrCodeValidationInvalidLon         ErrorCode = "validation_invalid_longitude"
	ErrCodeValidationMissingCoordinates ErrorCode = "validation_missing_coordinates"
	ErrCodeValidationInvalidEvent       ErrorCode = "validation_invalid_event"

	// Upstream (forecast provider)
	ErrCodeUpstreamRetryExhausted ErrorCode = "upstream_retry_exhausted"
	ErrCodeUpstreamCircuitOpen    ErrorCode = "upstream_circuit_open"
	ErrCodeUpstreamForecast       ErrorCode = "upstream_forecast_unavailable"
	ErrCodeUpstreamMalformed      ErrorCode = "upstream_forecast_malformed"
	ErrCodeUpstreamRejected       ErrorCode = "upstream_forecast_rejected"

	// Internal
	ErrCodeInternalPublish    ErrorCode = "internal_publish_failed"
	ErrCodeInternalDirectory  ErrorCode = "internal_directory_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// IsValidation reports whether the code belongs to the validation family.
func (c ErrorCode) IsValidation() bool {
	return strings.HasPrefix(string(c), "validation_")
}

// IsUpstream reports whether the code describes a forecast provider failure.
func (c ErrorCode) IsUpstream() bool {
	return strings.HasPrefix(string(c), "upstream_")
}

// AppError is the standard error type used throughout the service.
// Every component failure that crosses a package boundary is expressed as an
// AppError so callers can classify it with errors.As.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the outermost AppError in err's chain, or the
// empty code when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsCode reports whether any AppError in err's chain carries the given code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// IsUpstream reports whether err was caused by the forecast provider
// (including breaker rejections and exhausted retries).
func IsUpstream(err error) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Code.IsUpstream() {
			return true
		}
		err = appErr.Err
	}
	return false
}
