package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const contextKeyRequestID contextKey = "request_id"

// withMiddleware wraps API handlers with request-id tagging and rate
// limiting. System endpoints (health, metrics) stay unwrapped so probes
// are never throttled.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		r = r.WithContext(context.WithValue(r.Context(), contextKeyRequestID, requestID))

		if !s.limiter.Allow() {
			WriteError(w, r, http.StatusTooManyRequests,
				ErrCodeRateLimitExceeded, "rate limit exceeded", true, nil)
			return
		}

		next(w, r)
	}
}
