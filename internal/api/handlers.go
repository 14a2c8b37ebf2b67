// Package api exposes the HTTP entry points for the device sync pipeline.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"example.com/devicesync/internal/dispatch"
	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/ingest"
)

const (
	defaultDispatchLimit = 20
	maxDispatchLimit     = 100
)

// Ingestor accepts inbound webhook deliveries.
type Ingestor interface {
	Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error)
}

// JobDispatcher claims and processes due sync jobs.
type JobDispatcher interface {
	Dispatch(ctx context.Context, limit int, provider string) (dispatch.Result, error)
}

// Handler coordinates HTTP requests with the pipeline services.
type Handler struct {
	ingestor   Ingestor
	dispatcher JobDispatcher
}

// NewHandler builds a Handler.
func NewHandler(ingestor Ingestor, dispatcher JobDispatcher) *Handler {
	return &Handler{ingestor: ingestor, dispatcher: dispatcher}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/webhooks/ingest", h.ingest)
	mux.HandleFunc("/v1/sync/dispatch", h.dispatch)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"accepted": false, "error": "method not allowed"})
		return
	}

	var req ingest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"accepted": false, "error": "unable to parse body"})
		return
	}

	result, err := h.ingestor.Ingest(r.Context(), req)
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"accepted": false, "error": ve.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"accepted": false, "error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// dispatchRequest is the payload for POST /v1/sync/dispatch.
type dispatchRequest struct {
	Limit    int    `json:"limit"`
	Provider string `json:"provider"`
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unable to parse body"})
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultDispatchLimit
	}
	if limit > maxDispatchLimit {
		limit = maxDispatchLimit
	}

	result, err := h.dispatcher.Dispatch(r.Context(), limit, req.Provider)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
