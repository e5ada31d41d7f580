package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError(t *testing.T) {
	tests := []struct {
		name          string
		field         string
		message       string
		expectedError string
	}{
		{
			name:          "with field",
			field:         "channel",
			message:       "must not be empty",
			expectedError: "validation error: channel: must not be empty",
		},
		{
			name:          "without field",
			message:       "invalid input",
			expectedError: "validation error: invalid input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewValidationError(tt.field, tt.message, nil)
			assert.Equal(t, tt.expectedError, err.Error())
			assert.Equal(t, CodeValidation, err.Code())
			assert.True(t, IsValidation(err))
		})
	}
}

func TestCapacityExceededError(t *testing.T) {
	err := NewCapacityExceededError("realtime channels", 100, 100)

	assert.Equal(t, CodeResourceExhausted, err.Code())
	assert.Equal(t, "realtime channels capacity exceeded (100/100)", err.Error())
	assert.True(t, IsCapacityExceeded(err))
	assert.True(t, IsCapacityExceeded(fmt.Errorf("acquire: %w", err)))
	assert.True(t, ShouldRetry(err))
	assert.False(t, IsTimeout(err))
}

func TestSubscriptionError(t *testing.T) {
	cause := errors.New("join rejected")
	err := NewSubscriptionError("conv-1", "errored", cause)

	assert.Equal(t, CodeChannelSubscribeFailed, err.Code())
	assert.Contains(t, err.Error(), `channel "conv-1" subscription failed in state errored`)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsSubscriptionFailed(err))

	noState := NewSubscriptionError("conv-1", "", nil)
	assert.Equal(t, `channel "conv-1" subscription failed`, noState.Error())
}

func TestChannelJoinTimeout(t *testing.T) {
	err := NewChannelJoinTimeout("conv-1", "30s")

	assert.Equal(t, CodeChannelJoinTimeout, err.Code())
	assert.True(t, IsTimeout(err))
	assert.Equal(t, "join conv-1", err.Operation)
	assert.Equal(t, CategoryTimeout, GetCategory(err.Code()))
}

func TestWrapPreservesCode(t *testing.T) {
	inner := NewCapacityExceededError("realtime channels", 1, 1)
	wrapped := Wrap(inner, "acquire conv-1")

	require.Error(t, wrapped)
	assert.Equal(t, CodeResourceExhausted, GetErrorCode(wrapped))
	assert.True(t, IsCapacityExceeded(wrapped))
	assert.Nil(t, Wrap(nil, "nothing"))

	plain := Wrapf(errors.New("boom"), "op %d", 7)
	assert.True(t, IsInternal(plain))
	assert.Equal(t, "op 7: boom", plain.Error())
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"nil", nil, CodeOK},
		{"cancelled", context.Canceled, CodeCancelled},
		{"deadline", context.DeadlineExceeded, CodeTimeout},
		{"sentinel capacity", ErrCapacityExceeded, CodeResourceExhausted},
		{"not found", NewNotFoundError("channel", "x"), CodeNotFound},
		{"wrapped not found sentinel", fmt.Errorf("cache lookup: %w", ErrNotFound), CodeNotFound},
		{"plain", errors.New("x"), CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, GetErrorCode(tt.err))
		})
	}
}

func TestCause(t *testing.T) {
	root := errors.New("root")
	err := NewSubscriptionError("c", "", fmt.Errorf("mid: %w", root))
	assert.Equal(t, root, Cause(err))
}

func TestStackTrace(t *testing.T) {
	err := NewInternalError("oops", nil)
	assert.NotEmpty(t, err.Stack())
	assert.True(t, strings.Contains(err.StackTrace(), "TestStackTrace"))
}

func TestTransportError(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewTransportError("dial", cause)

	assert.Equal(t, CodeTransportError, err.Code())
	assert.Equal(t, "dial", err.Operation)
	assert.Contains(t, err.Error(), "realtime transport: dial failed")
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsTransport(fmt.Errorf("subscribe: %w", err)))
	assert.True(t, ShouldRetry(err))
	assert.Equal(t, CategoryTransport, GetCategory(err.Code()))
}
