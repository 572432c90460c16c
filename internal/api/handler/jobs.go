package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/heraldhq/herald/internal/api/middleware"
	"github.com/heraldhq/herald/internal/api/response"
	"github.com/heraldhq/herald/internal/jobs"
	"github.com/heraldhq/herald/internal/store"
	"github.com/heraldhq/herald/pkg/models"
)

const (
	defaultJobsLimit = 20
	maxJobsLimit     = 100
)

// NewListJobsHandler returns the handler for GET /api/v1/jobs.
// Supported query parameters: type, status, page, limit.
func NewListJobsHandler(mgr *jobs.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		q := r.URL.Query()

		status := q.Get("status")
		if status != "" && !models.ValidJobStatus(status) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"status must be one of pending, running, completed, failed, cancelled", nil)
			return
		}

		page := queryInt(q.Get("page"), 1)
		if page < 1 {
			page = 1
		}
		limit := queryInt(q.Get("limit"), defaultJobsLimit)
		if limit < 1 {
			limit = defaultJobsLimit
		}
		if limit > maxJobsLimit {
			limit = maxJobsLimit
		}

		list, total, err := mgr.List(r.Context(), store.JobFilter{
			TenantID: tenantID,
			Type:     q.Get("type"),
			Status:   status,
			Page:     page,
			Limit:    limit,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list jobs", nil)
			return
		}

		response.Collection(w, list, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}

// NewGetJobHandler returns the handler for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(mgr *jobs.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
			return
		}

		job, err := mgr.Get(r.Context(), jobID, tenantID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job", nil)
			return
		}

		response.JSON(w, job)
	}
}

// NewCancelJobHandler returns the handler for POST /api/v1/jobs/{jobID}/cancel.
// Cancellation is cooperative: this marks the job, and the running stream
// observes the mark at its next progress report.
func NewCancelJobHandler(mgr *jobs.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
			return
		}

		job, err := mgr.Cancel(r.Context(), jobID, tenantID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		case errors.Is(err, store.ErrJobFinished):
			response.Error(w, http.StatusConflict, "JOB_FINISHED",
				"Job has already finished and cannot be cancelled", nil)
			return
		case err != nil:
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to cancel job", nil)
			return
		}

		response.Accepted(w, job)
	}
}

func queryInt(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}
