package handler

import (
	"errors"
	"net/http"

	"github.com/chatabubble/session-vault/internal/storage"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	kv storage.KV
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(kv storage.KV) *HealthHandler {
	return &HealthHandler{kv: kv}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	// Probe the local store; absence of the probe key is the healthy case.
	if _, err := h.kv.Get(r.Context(), "readiness:probe"); err != nil && !errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "local store unavailable",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
