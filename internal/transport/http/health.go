package http

import (
	"net/http"

	"github.com/mvdbeek/pulsar-relay/internal/storage"
)

// HealthHandler serves GET /health (liveness, always 200 once the
// process is up) and GET /ready (readiness, backed by the storage
// backend's health_check per SPEC_FULL §4.1 EXPANSION).
type HealthHandler struct {
	backend storage.Backend
}

func NewHealthHandler(backend storage.Backend) *HealthHandler {
	return &HealthHandler{backend: backend}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	healthy, detail := h.backend.HealthCheck(r.Context())
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	body := map[string]any{"status": "ok"}
	if !healthy {
		body["status"] = "unavailable"
	}
	for k, v := range detail {
		body[k] = v
	}
	writeJSON(w, status, body)
}
