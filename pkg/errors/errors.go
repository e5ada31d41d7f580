package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Common sentinel errors for quick checks
var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when request input is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("operation timeout")

	// ErrCapacityExceeded is returned when the channel ceiling is reached.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrClosed is returned by components that were already shut down.
	ErrClosed = errors.New("closed")
)

// Error is the base interface for all custom errors in the system.
type Error interface {
	error
	// Code returns the error code
	Code() string
	// Message returns the human-readable error message
	Message() string
	// Unwrap returns the underlying cause
	Unwrap() error
}

// BaseError provides a foundation for all typed errors.
type BaseError struct {
	code    string
	message string
	cause   error
	stack   []uintptr
}

// Error implements the error interface.
func (e *BaseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *BaseError) Code() string {
	return e.code
}

// Message returns the error message.
func (e *BaseError) Message() string {
	return e.message
}

// Unwrap returns the underlying cause.
func (e *BaseError) Unwrap() error {
	return e.cause
}

// Stack returns the captured stack trace.
func (e *BaseError) Stack() []uintptr {
	return e.stack
}

func captureStack(skip int) []uintptr {
	const maxDepth = 32
	stack := make([]uintptr, maxDepth)
	n := runtime.Callers(skip+2, stack)
	return stack[:n]
}

// StackTrace returns a formatted stack trace string.
func (e *BaseError) StackTrace() string {
	if len(e.stack) == 0 {
		return ""
	}

	var buf strings.Builder
	frames := runtime.CallersFrames(e.stack)
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			fmt.Fprintf(&buf, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		}
		if !more {
			break
		}
	}
	return buf.String()
}

// ValidationError represents an input validation error.
type ValidationError struct {
	*BaseError
	Field string
	Value interface{}
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		BaseError: &BaseError{
			code:    CodeValidation,
			message: message,
			stack:   captureStack(1),
		},
		Field: field,
		Value: value,
	}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.message)
	}
	return fmt.Sprintf("validation error: %s", e.message)
}

// NotFoundError represents a resource not found error.
type NotFoundError struct {
	*BaseError
	Resource string
	ID       string
}

// NewNotFoundError creates a new not found error.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{
		BaseError: &BaseError{
			code:    CodeNotFound,
			message: fmt.Sprintf("%s not found", resource),
			stack:   captureStack(1),
		},
		Resource: resource,
		ID:       id,
	}
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s with ID '%s' not found", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// InternalError represents an internal server error.
type InternalError struct {
	*BaseError
	Operation string
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, cause error) *InternalError {
	if message == "" {
		message = "internal error"
	}
	return &InternalError{
		BaseError: &BaseError{
			code:    CodeInternal,
			message: message,
			cause:   cause,
			stack:   captureStack(1),
		},
	}
}

// TransportError reports a failure talking to the realtime transport.
type TransportError struct {
	*BaseError
	Operation string
}

// NewTransportError creates a new transport error for operation.
func NewTransportError(operation string, cause error) *TransportError {
	return &TransportError{
		BaseError: &BaseError{
			code:    CodeTransportError,
			message: fmt.Sprintf("realtime transport: %s failed", operation),
			cause:   cause,
			stack:   captureStack(1),
		},
		Operation: operation,
	}
}

// TimeoutError represents a timeout error.
type TimeoutError struct {
	*BaseError
	Operation string
	Duration  string
}

// NewTimeoutError creates a new timeout error.
func NewTimeoutError(operation, duration string) *TimeoutError {
	message := "operation timeout"
	if operation != "" {
		message = fmt.Sprintf("%s timeout", operation)
	}
	return &TimeoutError{
		BaseError: &BaseError{
			code:    CodeTimeout,
			message: message,
			stack:   captureStack(1),
		},
		Operation: operation,
		Duration:  duration,
	}
}

// NewChannelJoinTimeout reports a channel that did not become ready in time.
func NewChannelJoinTimeout(channel, duration string) *TimeoutError {
	return &TimeoutError{
		BaseError: &BaseError{
			code:    CodeChannelJoinTimeout,
			message: fmt.Sprintf("channel %q join timeout", channel),
			stack:   captureStack(1),
		},
		Operation: "join " + channel,
		Duration:  duration,
	}
}

// CapacityExceededError is returned when a hard ceiling refuses new work.
type CapacityExceededError struct {
	*BaseError
	Resource string
	Limit    int
	Current  int
}

// NewCapacityExceededError creates a new capacity error.
func NewCapacityExceededError(resource string, limit, current int) *CapacityExceededError {
	return &CapacityExceededError{
		BaseError: &BaseError{
			code:    CodeResourceExhausted,
			message: fmt.Sprintf("%s capacity exceeded (%d/%d)", resource, current, limit),
			stack:   captureStack(1),
		},
		Resource: resource,
		Limit:    limit,
		Current:  current,
	}
}

// SubscriptionError reports a channel that failed to subscribe.
type SubscriptionError struct {
	*BaseError
	Channel string
	State   string
}

// NewSubscriptionError creates a new subscription error. state is the last
// observed channel state and may be empty.
func NewSubscriptionError(channel, state string, cause error) *SubscriptionError {
	message := fmt.Sprintf("channel %q subscription failed", channel)
	if state != "" {
		message = fmt.Sprintf("channel %q subscription failed in state %s", channel, state)
	}
	return &SubscriptionError{
		BaseError: &BaseError{
			code:    CodeChannelSubscribeFailed,
			message: message,
			cause:   cause,
			stack:   captureStack(1),
		},
		Channel: channel,
		State:   state,
	}
}

// Wrap wraps an error with additional context.
// If the error is already one of our custom types, it preserves the code
// and adds the cause chain. Otherwise, it creates an InternalError.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	var e Error
	if errors.As(err, &e) {
		return &BaseError{
			code:    e.Code(),
			message: message,
			cause:   err,
			stack:   captureStack(1),
		}
	}

	return &InternalError{
		BaseError: &BaseError{
			code:    CodeInternal,
			message: message,
			cause:   err,
			stack:   captureStack(1),
		},
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// New creates a new error with a message.
func New(message string) error {
	return &BaseError{
		code:    CodeInternal,
		message: message,
		stack:   captureStack(1),
	}
}
