package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/heraldhq/herald/internal/sse"
	"github.com/heraldhq/herald/pkg/models"
)

// SSE event names. The payload shapes below are the wire contract with the
// dashboard; field names must not change.
const (
	EventStart     = "start"
	EventProgress  = "progress"
	EventComplete  = "complete"
	EventCancelled = "cancelled"
	EventError     = "error"
)

type startEvent struct {
	Message string    `json:"message"`
	JobID   uuid.UUID `json:"jobId"`
}

type progressEvent struct {
	JobID    uuid.UUID `json:"jobId"`
	Stage    string    `json:"stage"`
	Progress int       `json:"progress"`
	Message  string    `json:"message,omitempty"`
}

type completeEvent struct {
	Message string          `json:"message"`
	JobID   uuid.UUID       `json:"jobId"`
	Result  json.RawMessage `json:"result"`
}

type cancelledEvent struct {
	Message string    `json:"message"`
	JobID   uuid.UUID `json:"jobId"`
}

type errorEvent struct {
	Error string     `json:"error"`
	JobID *uuid.UUID `json:"jobId,omitempty"`
}

// Stream bridges one HTTP request into the live event sequence for a single
// runner invocation. It owns the single-flight guard, drives the runner, and
// translates every outcome into exactly one terminal event (complete,
// cancelled, or error) before closing the stream.
type Stream struct {
	mgr *Manager
	log *slog.Logger
}

func NewStream(mgr *Manager) *Stream {
	return &Stream{
		mgr: mgr,
		log: slog.Default().With("component", "job_stream"),
	}
}

// StartRequest describes one stream invocation.
type StartRequest struct {
	TenantID uuid.UUID
	Type     string
	Metadata json.RawMessage
}

// Serve runs one job to completion over the response. The response is held
// open for the job's whole lifetime; the caller must not write to w after
// Serve returns.
func (s *Stream) Serve(w http.ResponseWriter, r *http.Request, req StartRequest, runner Runner) {
	sw, err := sse.NewWriter(w)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	defer sw.Close()

	ctx := r.Context()

	// Advisory pre-check so a guard conflict can reference the job that is
	// already running. The store's conditional insert below is the
	// authoritative guard.
	if existing, err := s.mgr.RunningJob(ctx, req.TenantID, req.Type); err != nil {
		s.emit(sw, EventError, errorEvent{Error: "failed to check for running jobs"})
		return
	} else if existing != nil {
		s.emit(sw, EventError, errorEvent{
			Error: "a " + req.Type + " job is already running",
			JobID: &existing.ID,
		})
		return
	}

	job, err := s.mgr.Create(ctx, req.TenantID, req.Type, req.Metadata)
	if errors.Is(err, ErrConflict) {
		// Lost the race with a concurrent stream request for the same key.
		ev := errorEvent{Error: "a " + req.Type + " job is already running"}
		if existing, lerr := s.mgr.RunningJob(ctx, req.TenantID, req.Type); lerr == nil && existing != nil {
			ev.JobID = &existing.ID
		}
		s.emit(sw, EventError, ev)
		return
	}
	if err != nil {
		s.log.Error("job create failed", "type", req.Type, "tenant_id", req.TenantID, "error", err)
		s.emit(sw, EventError, errorEvent{Error: "failed to start job"})
		return
	}

	log := s.log.With("job_id", job.ID, "type", job.Type, "tenant_id", job.TenantID)
	s.emit(sw, EventStart, startEvent{Message: req.Type + " started", JobID: job.ID})

	report := func(ctx context.Context, stage string, progress int, message string) error {
		cancelled, err := s.mgr.IsCancelled(ctx, job.ID)
		if err != nil {
			return err
		}
		if cancelled {
			return ErrCancelled
		}
		if err := s.mgr.UpdateProgress(ctx, job.ID, stage, progress, message); err != nil {
			return err
		}
		// Emitted after the persisted write so event order matches row state.
		s.emit(sw, EventProgress, progressEvent{
			JobID:    job.ID,
			Stage:    stage,
			Progress: models.ClampProgress(progress),
			Message:  message,
		})
		return nil
	}

	result, runErr := runner(ctx, job, report)

	switch {
	case errors.Is(runErr, ErrCancelled):
		// The row is already cancelled; the control-plane call did that.
		log.Info("job cancelled")
		s.emit(sw, EventCancelled, cancelledEvent{Message: req.Type + " cancelled", JobID: job.ID})

	case runErr != nil:
		log.Error("job failed", "error", runErr)
		if _, err := s.mgr.Fail(ctx, job.ID, runErr.Error()); err != nil {
			log.Error("recording job failure failed", "error", err)
		}
		s.emit(sw, EventError, errorEvent{Error: runErr.Error(), JobID: &job.ID})

	default:
		if _, err := s.mgr.Complete(ctx, job.ID, result); err != nil {
			log.Error("recording job completion failed", "error", err)
			s.emit(sw, EventError, errorEvent{Error: "failed to record job completion", JobID: &job.ID})
			return
		}
		log.Info("job completed")
		s.emit(sw, EventComplete, completeEvent{Message: req.Type + " completed", JobID: job.ID, Result: result})
	}
}

// emit writes one event, logging (not propagating) delivery failures: a gone
// client does not change the job's persisted outcome.
func (s *Stream) emit(sw *sse.Writer, name string, payload any) {
	if err := sw.Event(name, payload); err != nil && !errors.Is(err, sse.ErrClosed) {
		s.log.Debug("sse write failed", "event", name, "error", err)
	}
}
