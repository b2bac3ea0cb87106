package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"granta/internal/changerequest"
	"granta/internal/profile"
	id "granta/pkg/domain"
	"granta/pkg/requestcontext"
)

func changeActorFrom(r *http.Request) changerequest.Actor {
	ctx := r.Context()
	return changerequest.Actor{
		ID:   requestcontext.ActorID(ctx),
		Role: requestcontext.ActorRole(ctx),
	}
}

func subjectIDFrom(r *http.Request) (id.SubjectID, error) {
	return id.ParseSubjectID(chi.URLParam(r, "subjectID"))
}

func (h *Handler) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req profile.CreateInput
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := h.profiles.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	subjectID, err := subjectIDFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := h.profiles.Get(r.Context(), subjectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleUpdateProfile applies free fields directly; edits to protected
// fields come back as opened change requests instead of applied values.
func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	subjectID, err := subjectIDFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req profile.UpdateInput
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := h.profiles.Update(r.Context(), subjectID, req, changeActorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if len(result.ChangeRequests) > 0 {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

func (h *Handler) handleListChangeRequests(w http.ResponseWriter, r *http.Request) {
	subjectID, err := subjectIDFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var (
		requests []*changerequest.ChangeRequest
	)
	if r.URL.Query().Get("status") == "pending" {
		requests, err = h.changes.ListPending(r.Context(), subjectID)
	} else {
		requests, err = h.changes.ListBySubject(r.Context(), subjectID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changeRequests": requests})
}

type resolveRequest struct {
	Decision string `json:"decision"`
	Note     string `json:"note"`
}

func (h *Handler) handleResolveChangeRequest(w http.ResponseWriter, r *http.Request) {
	requestID, err := id.ParseChangeRequestID(chi.URLParam(r, "changeRequestID"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req resolveRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	decision, err := changerequest.ParseDecision(req.Decision)
	if err != nil {
		writeError(w, err)
		return
	}
	cr, err := h.changes.Resolve(r.Context(), requestID, decision, req.Note, changeActorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cr)
}
