package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"granta/pkg/requestcontext"
)

// RequestID propagates the caller's X-Request-ID or assigns a fresh one, and
// echoes it back on the response for correlation.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
