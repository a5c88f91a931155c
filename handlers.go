package httpet

import (
	_ "embed"
	"html/template"
	"io"
	"net/http"

	petstore "github.com/always-cache/httpet/pkg/pet-store"
	statuscode "github.com/always-cache/httpet/pkg/status-code"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

//go:embed templates/info.html
var infoHTML string

var infoTemplate = template.Must(template.New("info").Parse(infoHTML))

type infoPage struct {
	Code       statuscode.Code
	Text       string
	Class      string
	BaseDomain string
	Animals    []string
}

func (h *Httpet) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}

// handleInfo describes a status code and lists the animals that have a picture for it.
func (h *Httpet) handleInfo(w http.ResponseWriter, r *http.Request) {
	code, err := statuscode.Parse(chi.URLParam(r, "code"))
	if err != nil {
		http.Error(w, "Unknown status code", http.StatusNotFound)
		return
	}
	page := infoPage{
		Code:       code,
		Text:       code.Text(),
		Class:      code.Class(),
		BaseDomain: h.dispatcher.BaseDomain(),
		Animals:    h.Registry().AnimalsWith(code),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := infoTemplate.Execute(w, page); err != nil {
		getLogger(r, &h.log).Error().Err(err).Msg("Could not render info page")
	}
}

// handleVote counts a vote for a pet that is not enabled yet.
func (h *Httpet) handleVote(w http.ResponseWriter, r *http.Request) {
	if h.pets == nil {
		http.NotFound(w, r)
		return
	}
	name := chi.URLParam(r, "name")
	err := h.pets.Vote(r.Context(), name, h.now())
	switch {
	case err == nil:
		getLogger(r, &h.log).Info().Str("pet", name).Msg("Vote counted")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "Vote counted\n")
	case errors.Is(err, petstore.ErrInvalidName):
		http.Error(w, "Invalid pet name", http.StatusBadRequest)
	case errors.Is(err, petstore.ErrAlreadyEnabled):
		http.Error(w, "Pet is already enabled", http.StatusConflict)
	default:
		getLogger(r, &h.log).Error().Err(err).Str("pet", name).Msg("Could not count vote")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
