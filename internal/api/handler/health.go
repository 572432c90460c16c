// Package handler contains the HTTP handlers for the Herald API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/heraldhq/herald/internal/api/response"
	"github.com/heraldhq/herald/internal/cache"
	"github.com/heraldhq/herald/internal/store"
)

// NewHealthHandler returns the handler for GET /api/v1/health. It reports
// degraded (503) when either backing service is unreachable.
func NewHealthHandler(st store.Store, ca cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{
			"status":   "ok",
			"database": "ok",
			"redis":    "ok",
		}
		healthy := true

		if err := st.Ping(ctx); err != nil {
			status["database"] = "unreachable"
			healthy = false
		}
		if err := ca.Ping(ctx); err != nil {
			status["redis"] = "unreachable"
			healthy = false
		}

		if !healthy {
			status["status"] = "degraded"
			response.Error(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE",
				"One or more backing services are unreachable", status)
			return
		}
		response.JSON(w, status)
	}
}
