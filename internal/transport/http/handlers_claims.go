package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	id "granta/pkg/domain"
	dErrors "granta/pkg/domain-errors"
)

// handlePeekClaim reports which application, if any, holds the claim on an
// asset token. Returned data is read-only; claims change only through
// transitions.
func (h *Handler) handlePeekClaim(w http.ResponseWriter, r *http.Request) {
	token := id.TokenRef(chi.URLParam(r, "token"))
	if token.IsZero() {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "token must not be empty"))
		return
	}
	claim, err := h.registry.Peek(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}
