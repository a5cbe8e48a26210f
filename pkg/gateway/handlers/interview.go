package handlers

import (
	"context"
	"net/http"

	"github.com/avirahq/interviewd/pkg/core/types"
)

// InterviewService is the slice of the advancement service the HTTP layer
// needs. The concrete implementation lives in pkg/gateway/advance.
type InterviewService interface {
	Start(ctx context.Context, req types.StartRequest) (*types.StartResponse, error)
	Advance(ctx context.Context, req types.AdvanceRequest) (*types.AdvanceResponse, error)
}

type StartHandler struct {
	Service      InterviewService
	MaxBodyBytes int64
}

func (h StartHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req types.StartRequest
	if err := decodeBody(w, r, h.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := h.Service.Start(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type AdvanceHandler struct {
	Service      InterviewService
	MaxBodyBytes int64
}

func (h AdvanceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req types.AdvanceRequest
	if err := decodeBody(w, r, h.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := h.Service.Advance(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
