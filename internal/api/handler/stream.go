package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/heraldhq/herald/internal/api/middleware"
	"github.com/heraldhq/herald/internal/api/response"
	"github.com/heraldhq/herald/internal/jobs"
)

// Metadata payloads above this size are rejected before any job is created.
const maxMetadataBytes = 64 * 1024

// NewStreamHandler returns the handler for POST /api/v1/jobs/{jobType}/stream.
// The request body, if present, is the job's metadata and is handed to the
// runner verbatim. Validation failures are plain JSON errors; once the job
// type resolves, the connection switches to SSE and all outcomes, including
// the single-flight conflict, arrive as events.
func NewStreamHandler(stream *jobs.Stream, registry *jobs.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		jobType := chi.URLParam(r, "jobType")
		runner, ok := registry.Get(jobType)
		if !ok {
			response.Error(w, http.StatusNotFound, "UNKNOWN_JOB_TYPE",
				"No runner is registered for this job type",
				map[string]any{"known_types": registry.Types()})
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxMetadataBytes+1))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body", nil)
			return
		}
		if len(body) > maxMetadataBytes {
			response.Error(w, http.StatusRequestEntityTooLarge, "INVALID_REQUEST",
				"Metadata payload too large", nil)
			return
		}

		metadata := json.RawMessage(body)
		if len(body) == 0 {
			metadata = json.RawMessage(`{}`)
		} else if !json.Valid(body) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		stream.Serve(w, r, jobs.StartRequest{
			TenantID: tenantID,
			Type:     jobType,
			Metadata: metadata,
		}, runner)
	}
}
