// Package httptransport is the thin HTTP layer over the workflow core. It
// delegates to domain services without embedding business logic so transport
// concerns remain isolated.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"granta/internal/changerequest"
	"granta/internal/claims"
	"granta/internal/history"
	"granta/internal/platform/middleware"
	"granta/internal/profile"
	"granta/internal/workflow/service"
)

// Handler carries the domain services the routes delegate to.
type Handler struct {
	engine   *service.Engine
	ledger   *history.Ledger
	registry *claims.Registry
	profiles *profile.Service
	changes  *changerequest.Service
	health   func() error
	logger   *slog.Logger
}

func NewHandler(
	engine *service.Engine,
	ledger *history.Ledger,
	registry *claims.Registry,
	profiles *profile.Service,
	changes *changerequest.Service,
	health func() error,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		engine:   engine,
		ledger:   ledger,
		registry: registry,
		profiles: profiles,
		changes:  changes,
		health:   health,
		logger:   logger,
	}
}

// NewRouter wires all endpoints. Every route under the authenticated group
// requires a valid actor token; the actor's identity and role are read from
// the request context, never from the request body.
func NewRouter(h *Handler, validator middleware.ActorValidator) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)

	r.Get("/healthz", h.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireActor(validator, h.logger))

		r.Route("/applications", func(r chi.Router) {
			r.Post("/", h.handleCreateApplication)
			r.Get("/queue", h.handleQueue)
			r.Route("/{applicationID}", func(r chi.Router) {
				r.Get("/", h.handleGetApplication)
				r.Get("/history", h.handleHistory)
				r.Post("/advance", h.handleAdvance)
				r.Post("/reject", h.handleReject)
				r.Post("/forward", h.handleForward)
				r.Post("/flag", h.handleFlag)
				r.Post("/unflag", h.handleUnflag)
				r.Post("/request-info", h.handleRequestInfo)
				r.Post("/reset", h.handleReset)
			})
		})

		r.Get("/claims/{token}", h.handlePeekClaim)

		r.Route("/profiles", func(r chi.Router) {
			r.Post("/", h.handleCreateProfile)
			r.Route("/{subjectID}", func(r chi.Router) {
				r.Get("/", h.handleGetProfile)
				r.Post("/", h.handleUpdateProfile)
				r.Get("/change-requests", h.handleListChangeRequests)
			})
		})

		r.Post("/change-requests/{changeRequestID}/resolve", h.handleResolveChangeRequest)
	})

	return r
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(); err != nil {
			h.logger.ErrorContext(r.Context(), "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
