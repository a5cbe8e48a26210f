package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/avirahq/interviewd/pkg/core"
	"github.com/avirahq/interviewd/pkg/gateway/apierror"
	"github.com/avirahq/interviewd/pkg/gateway/mw"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError converts err to the canonical envelope. Failed requests always
// carry success=false; session-terminating errors also carry end=true.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	coreErr, status := apierror.FromError(err, reqID)
	writeJSON(w, status, apierror.Envelope{
		Success: false,
		Message: coreErr.Message,
		End:     coreErr.End,
		Error:   coreErr,
	})
}

// decodeBody strictly decodes the request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return core.NewInvalidRequestError("request body too large")
		}
		return core.NewInvalidRequestError("invalid JSON body")
	}
	return nil
}

// requirePost rejects anything but POST with a canonical error.
func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		writeError(w, r, core.NewInvalidRequestError("method not allowed"))
		return false
	}
	return true
}

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, core.NewNotFoundError("not found"))
}
