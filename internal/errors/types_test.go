package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_ErrorFormatting(t *testing.T) {
	err := New(ErrCodeValidationFailed, "bad input")
	assert.Equal(t, "VALIDATION_FAILED: bad input", err.Error())

	cause := errors.New("underlying")
	wrapped := Wrap(cause, ErrCodeRemoteAPI, "call failed")
	assert.Equal(t, "REMOTE_API: call failed: underlying", wrapped.Error())
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying")
	wrapped := Wrap(cause, ErrCodeCacheQuery, "query failed")

	assert.ErrorIs(t, wrapped, cause)
	assert.ErrorIs(t, fmt.Errorf("outer: %w", wrapped), cause)
}

func TestAppError_Context(t *testing.T) {
	err := New(ErrCodeTransport, "send failed").
		WithContext("event", "messageSend").
		WithContext("attempt", 2)

	assert.Equal(t, "messageSend", err.Context["event"])
	assert.Equal(t, 2, err.Context["attempt"])
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(WrapRetryable(errors.New("x"), ErrCodeTransport, "send failed")))
	assert.False(t, IsRetryable(New(ErrCodeValidationFailed, "bad input")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestGetCodeAndIsCode(t *testing.T) {
	err := New(ErrCodeUploadExhausted, "gave up")
	assert.Equal(t, ErrCodeUploadExhausted, GetCode(err))
	assert.True(t, IsCode(err, ErrCodeUploadExhausted))
	assert.False(t, IsCode(err, ErrCodeTransport))

	assert.Equal(t, ErrCodeInternalError, GetCode(errors.New("plain")))
}

func TestGetUserMessage(t *testing.T) {
	err := New(ErrCodeRemoteAPI, "http 502").WithUserMessage("Server request failed")
	assert.Equal(t, "Server request failed", GetUserMessage(err))
	assert.Equal(t, "An internal error occurred", GetUserMessage(errors.New("plain")))
}

func TestNewValidationError_JoinsAllViolations(t *testing.T) {
	err := NewValidationError([]string{"channel id is required", "content or attachments required"})

	assert.Equal(t, ErrCodeValidationFailed, err.Code)
	assert.Contains(t, err.Message, "channel id is required")
	assert.Contains(t, err.Message, "content or attachments required")
	require.NotNil(t, err.Context)
	assert.Len(t, err.Context["violations"], 2)
}

func TestNewRemoteAPIError_RetryabilityByStatus(t *testing.T) {
	cause := errors.New("http failure")

	tests := []struct {
		status    int
		retryable bool
	}{
		{500, true},
		{503, true},
		{429, true},
		{408, true},
		{0, true},
		{400, false},
		{404, false},
		{422, false},
	}
	for _, tt := range tests {
		err := NewRemoteAPIError("/api/records/search", tt.status, cause)
		assert.Equal(t, tt.retryable, err.Retryable, "status %d", tt.status)
	}
}

func TestNewTransportErrorIsRetryable(t *testing.T) {
	err := NewTransportError("messageSend", errors.New("write timeout"))
	assert.True(t, err.Retryable)
	assert.Equal(t, ErrCodeTransport, err.Code)
}
