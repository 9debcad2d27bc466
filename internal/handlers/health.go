package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ukydev/vehicle-care/internal/httputil"
)

// HealthCheck probes a dependency; nil means healthy.
type HealthCheck func(ctx context.Context) error

// Health handles GET /health. Without a check the service is always up.
func Health(store string, check HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]string{"status": "ok", "store": store}
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				body["status"] = "degraded"
				body["error"] = err.Error()
				httputil.WriteJSON(w, http.StatusServiceUnavailable, body)
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, body)
	}
}
