package errors

import (
	"fmt"
	"strings"
)

// NewValidationError creates a validation error carrying every violated rule.
// Callers surface the full list so the UI can show all problems at once.
func NewValidationError(violations []string) *AppError {
	return New(ErrCodeValidationFailed, strings.Join(violations, "; ")).
		WithContext("violations", violations).
		WithUserMessage("Message failed validation")
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewCacheError creates a cache error with operation context
func NewCacheError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeCacheQuery, fmt.Sprintf("cache %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Local storage operation failed")
}

// NewTransportError creates a retryable realtime transport error
func NewTransportError(event string, err error) *AppError {
	return WrapRetryable(err, ErrCodeTransport, "realtime send failed").
		WithContext("event", event).
		WithUserMessage("Message queued for delivery")
}

// NewRemoteAPIError creates an error for a Remote Record API call, marking
// server-side and throttling failures as retryable.
func NewRemoteAPIError(endpoint string, statusCode int, err error) *AppError {
	appErr := Wrap(err, ErrCodeRemoteAPI, "remote API call failed").
		WithContext("endpoint", endpoint).
		WithContext("status_code", statusCode).
		WithUserMessage("Server request failed")
	appErr.Retryable = statusCode >= 500 || statusCode == 429 || statusCode == 408 || statusCode == 0
	return appErr
}

// NewServiceUnavailableError creates the circuit-breaker fail-fast error
func NewServiceUnavailableError(service string) *AppError {
	return New(ErrCodeServiceUnavailable, "circuit breaker is open").
		WithContext("service", service).
		WithUserMessage("Service is temporarily unavailable, try again later")
}

// NewUploadExhaustedError marks a message as permanently failed after the
// retry budget is spent. Surfaced so the UI can offer a manual retry.
func NewUploadExhaustedError(localID string, attempts int, err error) *AppError {
	return Wrap(err, ErrCodeUploadExhausted, fmt.Sprintf("upload failed after %d attempts", attempts)).
		WithContext("local_id", localID).
		WithContext("attempts", attempts).
		WithUserMessage("Message could not be delivered")
}
