package errors

// Error codes for categorizing errors.
// These codes map to HTTP status codes where applicable.
const (
	// CodeOK indicates success (not an error).
	CodeOK = "OK"

	// CodeCancelled indicates the operation was cancelled by the caller.
	CodeCancelled = "CANCELLED"

	// CodeInternal indicates internal errors.
	CodeInternal = "INTERNAL"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound = "NOT_FOUND"

	// CodeValidation indicates input validation failed.
	CodeValidation = "VALIDATION_ERROR"

	// CodeTimeout indicates an operation timed out.
	CodeTimeout = "TIMEOUT"

	// CodeResourceExhausted indicates a hard capacity ceiling was reached.
	CodeResourceExhausted = "RESOURCE_EXHAUSTED"

	// CodeConfigError indicates a configuration error.
	CodeConfigError = "CONFIG_ERROR"

	// Realtime channel codes

	// CodeChannelJoinTimeout indicates a channel never became ready.
	CodeChannelJoinTimeout = "CHANNEL_JOIN_TIMEOUT"

	// CodeChannelSubscribeFailed indicates the transport rejected or dropped a join.
	CodeChannelSubscribeFailed = "CHANNEL_SUBSCRIBE_FAILED"

	// CodeTransportError indicates the realtime transport connection failed.
	CodeTransportError = "TRANSPORT_ERROR"
)

// ErrorCategory represents a high-level error category.
type ErrorCategory string

const (
	// CategoryClient indicates a client-side error (4xx).
	CategoryClient ErrorCategory = "CLIENT_ERROR"

	// CategoryServer indicates a server-side error (5xx).
	CategoryServer ErrorCategory = "SERVER_ERROR"

	// CategoryCapacity indicates the caller must back off.
	CategoryCapacity ErrorCategory = "CAPACITY_ERROR"

	// CategoryTransport indicates the upstream transport misbehaved.
	CategoryTransport ErrorCategory = "TRANSPORT_ERROR"

	// CategoryTimeout indicates a timeout error.
	CategoryTimeout ErrorCategory = "TIMEOUT_ERROR"
)

// GetCategory returns the category for an error code.
func GetCategory(code string) ErrorCategory {
	switch code {
	case CodeValidation, CodeNotFound, CodeCancelled:
		return CategoryClient
	case CodeResourceExhausted:
		return CategoryCapacity
	case CodeTimeout, CodeChannelJoinTimeout:
		return CategoryTimeout
	case CodeChannelSubscribeFailed, CodeTransportError:
		return CategoryTransport
	default:
		return CategoryServer
	}
}

// IsRetryable returns true if an error with the given code should be retried.
// A failed acquire is retried by the caller, typically on the next
// subscribe attempt from the same consumer.
func IsRetryable(code string) bool {
	switch code {
	case CodeTimeout, CodeChannelJoinTimeout,
		CodeChannelSubscribeFailed, CodeTransportError,
		CodeResourceExhausted:
		return true
	default:
		return false
	}
}
