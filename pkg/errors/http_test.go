package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{"nil error", nil, http.StatusOK},
		{"validation error", NewValidationError("topic", "missing", nil), http.StatusBadRequest},
		{"capacity exceeded", NewCapacityExceededError("realtime channels", 5, 5), http.StatusServiceUnavailable},
		{"subscription failed", NewSubscriptionError("c", "closed", nil), http.StatusBadGateway},
		{"join timeout", NewChannelJoinTimeout("c", "1s"), http.StatusGatewayTimeout},
		{"transport failure", NewTransportError("dial", errors.New("refused")), http.StatusBadGateway},
		{"closed sentinel", ErrClosed, http.StatusServiceUnavailable},
		{"unknown error", errors.New("x"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedStatus, StatusCode(tt.err))
		})
	}
}

func TestToHTTPErrorDetails(t *testing.T) {
	httpErr := ToHTTPError(NewCapacityExceededError("realtime channels", 3, 3), "trace-1")

	assert.Equal(t, http.StatusServiceUnavailable, httpErr.Status)
	assert.Equal(t, CodeResourceExhausted, httpErr.Code)
	assert.Equal(t, "3", httpErr.Details["limit"])
	assert.Equal(t, "trace-1", httpErr.TraceID)

	plain := ToHTTPError(errors.New("boom"), "")
	assert.Nil(t, plain.Details)
	assert.Equal(t, CodeInternal, plain.Code)
}

func TestWriteHTTPError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteHTTPError(rec, NewCapacityExceededError("realtime channels", 1, 1), "abc")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeResourceExhausted, body.Code)
	assert.Equal(t, "abc", body.TraceID)
}
