package handler

import (
	"net/http"

	"github.com/go-petition/internal/application/petition"
	"github.com/go-petition/internal/domain"
)

// PetitionHandler serves the public petition view and its statistics.
type PetitionHandler struct {
	svc         petition.Service
	defaultSlug string
}

// NewPetitionHandler builds the handler. defaultSlug is used when a request
// carries no slug.
func NewPetitionHandler(svc petition.Service, defaultSlug string) *PetitionHandler {
	return &PetitionHandler{svc: svc, defaultSlug: defaultSlug}
}

func (h *PetitionHandler) slug(r *http.Request) (string, error) {
	s := r.URL.Query().Get("slug")
	if s == "" {
		s = h.defaultSlug
	}
	if s == "" {
		return "", domain.InvalidInput("slug is required", map[string]string{"slug": "required"})
	}
	return s, nil
}

func (h *PetitionHandler) Get(w http.ResponseWriter, r *http.Request) {
	slug, err := h.slug(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.svc.Get(r.Context(), slug)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PetitionEnvelope{
		Slug:         p.Slug,
		Title:        p.Title,
		Version:      p.Version,
		BodyMarkdown: p.BodyMarkdown,
		GoalCount:    p.GoalCount,
		IsLive:       p.IsLive,
	})
}

func (h *PetitionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	slug, err := h.slug(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	stats, err := h.svc.Stats(r.Context(), slug)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
