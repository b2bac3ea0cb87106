package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	id "granta/pkg/domain"
	"granta/pkg/requestcontext"
)

// ActorValidator validates a bearer token and returns the actor context.
type ActorValidator interface {
	ValidateToken(tokenString string) (id.ActorID, id.Role, error)
}

// RequireActor rejects requests without a valid actor token and injects
// {actorId, actorRole} into the request context. The core trusts the token's
// claims; credential verification belongs to the authentication collaborator.
func RequireActor(validator ActorValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			const bearerPrefix = "Bearer "
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix)
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx))
				unauthorized(w, "Missing or invalid Authorization header")
				return
			}

			actorID, role, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx))
				unauthorized(w, "Invalid or expired token")
				return
			}

			ctx = requestcontext.WithActorID(ctx, actorID)
			ctx = requestcontext.WithActorRole(ctx, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
