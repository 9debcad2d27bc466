package middleware

import (
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RequestLogger logs one line per request.
func RequestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			entry := logger.WithFields(log.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.status,
				"duration_ms": time.Since(start).Milliseconds(),
				"remote":      getClientIP(r, false),
			})
			if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
				entry = entry.WithField("forwarded_for", fwd)
			}
			switch {
			case rec.status >= 500:
				entry.Error("Request failed")
			case rec.status >= 400:
				entry.Warn("Request rejected")
			default:
				entry.Info("Request handled")
			}
		})
	}
}
