// Package http implements C6's HTTP front ends: publish, bulk publish,
// long-poll pull, topic registry CRUD, and health/ready probes.
package http

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/mvdbeek/pulsar-relay/internal/pulsarerr"
)

// errorResponse is the shape every error reply takes, per SPEC_FULL §6.
type errorResponse struct {
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

func writeError(w http.ResponseWriter, requestID string, err error) {
	pe, ok := pulsarerr.As(err)
	if !ok {
		pe = pulsarerr.Internal("unexpected error", err)
	}
	writeJSON(w, pe.HTTPStatus(), errorResponse{
		Error:     string(pe.Code),
		Message:   pe.Message,
		Details:   pe.Details,
		RequestID: requestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return uuid.NewString()
}
