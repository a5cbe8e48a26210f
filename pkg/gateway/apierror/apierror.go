// Package apierror maps internal errors onto the gateway's wire format.
package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/avirahq/interviewd/pkg/core"
)

// Envelope is the JSON error body of every failed request.
type Envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	End     bool        `json:"end,omitempty"`
	Error   *core.Error `json:"error,omitempty"`
}

// FromError converts any error into its canonical form and HTTP status.
func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, StatusFromType(coreErr.Type)
	}

	// Unknown errors: treat as internal API error (do not leak details by default).
	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "Internal server error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

// StatusFromType maps the error taxonomy onto HTTP status categories.
// Quota exhaustion is a permission-style rejection, not a rate limit.
func StatusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrQuotaExceeded:
		return http.StatusForbidden
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
