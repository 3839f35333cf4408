package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// requestLogger logs incoming HTTP requests with a per-request id.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)

		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("remote", r.RemoteAddr).
			WithField("request_id", requestID).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}
