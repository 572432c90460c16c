package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/heraldhq/herald/internal/cache"
	"github.com/heraldhq/herald/internal/store"
	"github.com/heraldhq/herald/pkg/models"
)

// Manager owns the job lifecycle: creation, progress, logs, terminal
// transitions, the cancellation check, queries, and the two sweeps. It layers
// a Redis status fast path over the durable store; the store is always the
// source of truth and every fast-path miss falls through to it.
type Manager struct {
	store      store.Store
	cache      cache.Cache
	log        *slog.Logger
	statusTTL  time.Duration
	staleAfter time.Duration
}

// NewManager creates a Manager. statusTTL bounds the Redis status entries;
// staleAfter is the heartbeat grace period used by FailStale.
func NewManager(st store.Store, ca cache.Cache, statusTTL, staleAfter time.Duration) *Manager {
	return &Manager{
		store:      st,
		cache:      ca,
		log:        slog.Default().With("component", "jobs"),
		statusTTL:  statusTTL,
		staleAfter: staleAfter,
	}
}

// Create inserts a new running job with empty logs. The single-flight guard
// is enforced by the store's conditional insert; callers receive ErrConflict
// when a non-terminal job of the same (tenant, type) exists.
func (m *Manager) Create(ctx context.Context, tenantID uuid.UUID, jobType string, metadata json.RawMessage) (*models.Job, error) {
	now := time.Now().UTC()
	job := &models.Job{
		ID:           uuid.New(),
		TenantID:     tenantID,
		Type:         jobType,
		Status:       models.JobStatusRunning,
		Progress:     0,
		CurrentStage: "starting",
		Logs:         []models.JobLogEntry{},
		Metadata:     metadata,
		StartedAt:    now,
		HeartbeatAt:  now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := m.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	m.cacheStatus(ctx, job.ID, models.JobStatusRunning)
	return job, nil
}

// UpdateProgress persists a clamped progress value, the current stage, and an
// optional info log line in one write. When the job turns out to be cancelled
// underneath the caller, the error is normalized to ErrCancelled so the
// runner unwinds instead of treating it as a failure.
func (m *Manager) UpdateProgress(ctx context.Context, jobID uuid.UUID, stage string, progress int, message string) error {
	err := m.store.UpdateJobProgress(ctx, jobID, stage, progress, message)
	if errors.Is(err, store.ErrJobFinished) {
		status, serr := m.store.GetJobStatus(ctx, jobID)
		if serr == nil && status == models.JobStatusCancelled {
			return ErrCancelled
		}
		return err
	}
	return err
}

// AddLog appends one log entry. Log appends are best-effort: a store outage
// here costs a log line, not the job, so the error is swallowed after a
// warning.
func (m *Manager) AddLog(ctx context.Context, jobID uuid.UUID, level, message string, data json.RawMessage) {
	entry := models.JobLogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Data:      data,
	}
	if err := m.store.AppendJobLog(ctx, jobID, entry); err != nil {
		m.log.Warn("dropping job log entry", "job_id", jobID, "error", err)
	}
}

// Complete transitions the job to completed with the given result payload.
func (m *Manager) Complete(ctx context.Context, jobID uuid.UUID, result json.RawMessage) (*models.Job, error) {
	job, err := m.store.CompleteJob(ctx, jobID, result)
	if err != nil {
		return nil, err
	}
	m.cacheStatus(ctx, jobID, models.JobStatusCompleted)
	return job, nil
}

// Fail transitions the job to failed, recording the error message and an
// error-level log entry.
func (m *Manager) Fail(ctx context.Context, jobID uuid.UUID, errorMessage string) (*models.Job, error) {
	job, err := m.store.FailJob(ctx, jobID, errorMessage)
	if err != nil {
		return nil, err
	}
	m.cacheStatus(ctx, jobID, models.JobStatusFailed)
	return job, nil
}

// Cancel requests cooperative cancellation from the control plane. It only
// marks the row; the running stream discovers the new status at its next
// progress report. Terminal jobs are rejected with ErrFinished.
func (m *Manager) Cancel(ctx context.Context, jobID uuid.UUID, tenantID uuid.UUID) (*models.Job, error) {
	job, err := m.store.CancelJob(ctx, jobID, tenantID)
	if err != nil {
		return nil, err
	}
	m.cacheStatus(ctx, jobID, models.JobStatusCancelled)
	return job, nil
}

// IsCancelled is the cooperative-cancellation decision point. The Redis
// status entry short-circuits the common case; anything other than a
// definitive "cancelled" hit falls through to the durable status, because a
// stale or missing cache entry must never hide a cancellation.
func (m *Manager) IsCancelled(ctx context.Context, jobID uuid.UUID) (bool, error) {
	if status, ok, err := m.cache.GetJobStatus(ctx, jobID); err == nil && ok {
		if status == models.JobStatusCancelled {
			return true, nil
		}
	}

	status, err := m.store.GetJobStatus(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("read job status: %w", err)
	}
	return status == models.JobStatusCancelled, nil
}

// RunningJob returns the current running job for (tenant, type), or nil.
func (m *Manager) RunningJob(ctx context.Context, tenantID uuid.UUID, jobType string) (*models.Job, error) {
	return m.store.GetRunningJob(ctx, tenantID, jobType)
}

// Get returns one job scoped to the tenant.
func (m *Manager) Get(ctx context.Context, jobID uuid.UUID, tenantID uuid.UUID) (*models.Job, error) {
	return m.store.GetJob(ctx, jobID, tenantID)
}

// List returns a filtered page of jobs, newest started_at first, plus the
// total match count.
func (m *Manager) List(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error) {
	return m.store.ListJobs(ctx, filter)
}

// DeleteOlderThan removes the tenant's jobs started more than the given
// number of days ago. Running jobs are never deleted regardless of age.
func (m *Manager) DeleteOlderThan(ctx context.Context, tenantID uuid.UUID, days int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	return m.store.DeleteJobsOlderThan(ctx, tenantID, cutoff)
}

// FailStale fails running jobs whose heartbeat has not been refreshed within
// the grace period. Invoked periodically; catches runners whose hosting
// request died without reaching a terminal transition.
func (m *Manager) FailStale(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-m.staleAfter)
	n, err := m.store.FailStaleJobs(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.log.Warn("failed stale jobs", "count", n, "grace", m.staleAfter)
	}
	return n, nil
}

// cacheStatus mirrors a status change into Redis. Best-effort: the durable
// row already holds the truth.
func (m *Manager) cacheStatus(ctx context.Context, jobID uuid.UUID, status string) {
	if err := m.cache.SetJobStatus(ctx, jobID, status, m.statusTTL); err != nil {
		m.log.Warn("job status cache write failed", "job_id", jobID, "error", err)
	}
}
