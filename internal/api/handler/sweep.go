package handler

import (
	"net/http"

	mw "github.com/heraldhq/herald/internal/api/middleware"
	"github.com/heraldhq/herald/internal/api/response"
	"github.com/heraldhq/herald/internal/jobs"
)

// NewSweepJobsHandler returns the handler for POST /api/v1/admin/jobs/sweep.
// It runs both maintenance passes on demand: fail running jobs with expired
// heartbeats, then delete the tenant's jobs past the retention cutoff. The
// same passes also run on a timer in the server process.
func NewSweepJobsHandler(mgr *jobs.Manager, retentionDays int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		staled, err := mgr.FailStale(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to sweep stale jobs", nil)
			return
		}

		deleted, err := mgr.DeleteOlderThan(r.Context(), tenantID, retentionDays)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to delete expired jobs", nil)
			return
		}

		response.JSON(w, map[string]any{
			"stale_failed":   staled,
			"deleted":        deleted,
			"retention_days": retentionDays,
		})
	}
}
