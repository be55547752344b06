package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-petition/internal/domain"
)

// HealthHandler handles health-check endpoints.
type HealthHandler struct{}

func NewHealthHandler() *HealthHandler { return &HealthHandler{} }

func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "action") == "ping" {
		writeJSON(w, http.StatusOK, MessageEnvelope{OK: true, Message: "pong"})
		return
	}
	writeError(w, r, domain.InvalidInput("unknown action", nil))
}
