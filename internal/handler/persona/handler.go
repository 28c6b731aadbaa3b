package persona

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/mindfriend/backend/internal/model/persona"
	"github.com/zhouzirui/mindfriend/backend/pkg/utils"
)

// Handler exposes the active persona.
type Handler struct {
	persona persona.Persona
}

// New creates the persona handler.
func New(p persona.Persona) *Handler {
	return &Handler{persona: p}
}

// RegisterRoutes mounts the persona route on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/persona", h.handleGetPersona)
}

func (h *Handler) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.persona)
}
