package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-petition/internal/application/audit"
	"github.com/go-petition/internal/domain"
)

// AuditHandler serves the public audit lookup.
type AuditHandler struct {
	svc audit.Service
}

func NewAuditHandler(svc audit.Service) *AuditHandler { return &AuditHandler{svc: svc} }

func (h *AuditHandler) Verify(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("audit")
	if hash == "" {
		writeError(w, r, domain.InvalidInput("audit hash is required", map[string]string{"audit": "required"}))
		return
	}
	v, err := h.svc.Verify(r.Context(), hash)
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, VerificationEnvelope{Valid: false, Message: "signature not found or invalid"})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, VerificationEnvelope{
		Valid:    true,
		Message:  "signature verified",
		Petition: &PetitionSummary{Title: v.PetitionTitle, Version: v.PetitionVersion},
		SignedAt: v.SignedAt.UTC().Format(time.RFC3339),
		Location: location(v.City, v.State, v.Country),
	})
}

func location(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}
