package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"granta/internal/workflow/models"
	"granta/internal/workflow/service"
	id "granta/pkg/domain"
	"granta/pkg/requestcontext"
)

// idempotencyHeader carries the client's retry-safe request identifier for
// mutating transition calls.
const idempotencyHeader = "Idempotency-Key"

func actorFrom(r *http.Request) service.Actor {
	ctx := r.Context()
	return service.Actor{
		ID:   requestcontext.ActorID(ctx),
		Role: requestcontext.ActorRole(ctx),
	}
}

func requestKey(r *http.Request) string {
	return r.Header.Get(idempotencyHeader)
}

func applicationIDFrom(r *http.Request) (id.ApplicationID, error) {
	return id.ParseApplicationID(chi.URLParam(r, "applicationID"))
}

type createApplicationRequest struct {
	ApplicantRef  string         `json:"applicantRef"`
	AssetTokenRef string         `json:"assetTokenRef"`
	Payload       models.Payload `json:"payload"`
}

func (h *Handler) handleCreateApplication(w http.ResponseWriter, r *http.Request) {
	var req createApplicationRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	applicant, err := id.ParseSubjectID(req.ApplicantRef)
	if err != nil {
		writeError(w, err)
		return
	}
	app, err := h.engine.Create(r.Context(), actorFrom(r), applicant, id.TokenRef(req.AssetTokenRef), req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

func (h *Handler) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	applicationID, err := applicationIDFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	app, err := h.engine.Get(r.Context(), applicationID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// handleQueue returns the applications waiting in the phase the calling
// actor's role owns.
func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	apps, err := h.engine.Queue(r.Context(), requestcontext.ActorRole(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applications": apps})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	applicationID, err := applicationIDFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	afterSeq, err := queryInt64(r, "after", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, next, err := h.ledger.ListByApplication(r.Context(), applicationID, afterSeq, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":    entries,
		"nextCursor": next,
	})
}

type advanceRequest struct {
	Comment      string         `json:"comment"`
	PayloadPatch models.Payload `json:"payloadPatch"`
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	applicationID, err := applicationIDFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req advanceRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	app, err := h.engine.Advance(r.Context(), applicationID, actorFrom(r), req.Comment, req.PayloadPatch, requestKey(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	applicationID, err := applicationIDFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req reasonRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	app, err := h.engine.Reject(r.Context(), applicationID, actorFrom(r), req.Reason, requestKey(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

type forwardRequest struct {
	TargetBranch string `json:"targetBranch"`
	Note         string `json:"note"`
}

func (h *Handler) handleForward(w http.ResponseWriter, r *http.Request) {
	applicationID, err := applicationIDFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req forwardRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	app, err := h.engine.Forward(r.Context(), applicationID, actorFrom(r), req.TargetBranch, req.Note, requestKey(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (h *Handler) handleFlag(w http.ResponseWriter, r *http.Request) {
	applicationID, err := applicationIDFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req reasonRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	app, err := h.engine.Flag(r.Context(), applicationID, actorFrom(r), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (h *Handler) handleUnflag(w http.ResponseWriter, r *http.Request) {
	applicationID, err := applicationIDFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req reasonRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	app, err := h.engine.Unflag(r.Context(), applicationID, actorFrom(r), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

type noteRequest struct {
	Note string `json:"note"`
}

func (h *Handler) handleRequestInfo(w http.ResponseWriter, r *http.Request) {
	applicationID, err := applicationIDFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req noteRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	app, err := h.engine.RequestInfo(r.Context(), applicationID, actorFrom(r), req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	applicationID, err := applicationIDFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req reasonRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	app, err := h.engine.Reset(r.Context(), applicationID, actorFrom(r), req.Reason, requestKey(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}
