package jobs_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/heraldhq/herald/internal/cache"
	"github.com/heraldhq/herald/internal/store"
	"github.com/heraldhq/herald/pkg/models"
)

// memStore is an in-memory store.Store with the same job semantics as the
// Postgres implementation: atomic single-flight guard on create, guarded
// terminal transitions, append-only logs.
type memStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job

	createErr   error // injected into CreateJob
	statusErr   error // injected into GetJobStatus
	progressErr error // injected into UpdateJobProgress
	appendErr   error // injected into AppendJobLog
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[uuid.UUID]*models.Job)}
}

func cloneJob(j *models.Job) *models.Job {
	c := *j
	c.Logs = append([]models.JobLogEntry(nil), j.Logs...)
	return &c
}

func (m *memStore) Ping(_ context.Context) error { return nil }

func (m *memStore) GetDefaultTenant(_ context.Context) (*models.Tenant, error) {
	return nil, store.ErrNotFound
}

func (m *memStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return nil, nil
}
func (m *memStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }
func (m *memStore) CreateAPIKey(_ context.Context, _ *models.APIKey) error    { return nil }
func (m *memStore) ListAPIKeys(_ context.Context, _ uuid.UUID) ([]*models.APIKey, error) {
	return nil, nil
}
func (m *memStore) RevokeAPIKey(_ context.Context, _ uuid.UUID, _ uuid.UUID) error { return nil }

func (m *memStore) CreateJob(_ context.Context, job *models.Job) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.TenantID == job.TenantID && j.Type == job.Type && !j.IsTerminal() {
			return store.ErrJobConflict
		}
	}
	c := cloneJob(job)
	c.Logs = []models.JobLogEntry{}
	m.jobs[job.ID] = c
	return nil
}

func (m *memStore) GetJob(_ context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return cloneJob(j), nil
}

func (m *memStore) GetJobStatus(_ context.Context, id uuid.UUID) (string, error) {
	if m.statusErr != nil {
		return "", m.statusErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return "", store.ErrNotFound
	}
	return j.Status, nil
}

func (m *memStore) GetRunningJob(_ context.Context, tenantID uuid.UUID, jobType string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.TenantID == tenantID && j.Type == jobType && j.Status == models.JobStatusRunning {
			return cloneJob(j), nil
		}
	}
	return nil, nil
}

func (m *memStore) ListJobs(_ context.Context, filter store.JobFilter) ([]*models.Job, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, j := range m.jobs {
		if j.TenantID != filter.TenantID {
			continue
		}
		if filter.Type != "" && j.Type != filter.Type {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		out = append(out, cloneJob(j))
	}
	return out, len(out), nil
}

func (m *memStore) UpdateJobProgress(_ context.Context, id uuid.UUID, stage string, progress int, message string) error {
	if m.progressErr != nil {
		return m.progressErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if j.IsTerminal() {
		return store.ErrJobFinished
	}
	j.CurrentStage = stage
	j.Progress = models.ClampProgress(progress)
	j.HeartbeatAt = time.Now().UTC()
	if message != "" {
		j.Logs = append(j.Logs, models.JobLogEntry{
			Timestamp: time.Now().UTC(), Level: models.LogLevelInfo, Message: message,
		})
	}
	return nil
}

func (m *memStore) AppendJobLog(_ context.Context, id uuid.UUID, entry models.JobLogEntry) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.Logs = append(j.Logs, entry)
	}
	return nil
}

func (m *memStore) CompleteJob(_ context.Context, id uuid.UUID, result json.RawMessage) (*models.Job, error) {
	return m.finish(id, func(j *models.Job) {
		j.Status = models.JobStatusCompleted
		j.Progress = 100
		j.Result = result
	})
}

func (m *memStore) FailJob(_ context.Context, id uuid.UUID, errorMessage string) (*models.Job, error) {
	return m.finish(id, func(j *models.Job) {
		j.Status = models.JobStatusFailed
		j.ErrorMessage = &errorMessage
		j.Logs = append(j.Logs, models.JobLogEntry{
			Timestamp: time.Now().UTC(), Level: models.LogLevelError, Message: errorMessage,
		})
	})
}

func (m *memStore) CancelJob(_ context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if ok && j.TenantID != tenantID {
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return m.finish(id, func(j *models.Job) {
		j.Status = models.JobStatusCancelled
		j.Logs = append(j.Logs, models.JobLogEntry{
			Timestamp: time.Now().UTC(), Level: models.LogLevelWarn, Message: "job cancelled by user",
		})
	})
}

func (m *memStore) finish(id uuid.UUID, mutate func(*models.Job)) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if j.IsTerminal() {
		return nil, store.ErrJobFinished
	}
	mutate(j)
	now := time.Now().UTC()
	j.CompletedAt = &now
	j.UpdatedAt = now
	return cloneJob(j), nil
}

func (m *memStore) DeleteJobsOlderThan(_ context.Context, tenantID uuid.UUID, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for id, j := range m.jobs {
		if j.TenantID == tenantID && j.StartedAt.Before(cutoff) && j.Status != models.JobStatusRunning {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) FailStaleJobs(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	now := time.Now().UTC()
	for _, j := range m.jobs {
		if j.Status == models.JobStatusRunning && j.HeartbeatAt.Before(cutoff) {
			j.Status = models.JobStatusFailed
			msg := "job heartbeat expired"
			j.ErrorMessage = &msg
			j.CompletedAt = &now
			n++
		}
	}
	return n, nil
}

// memCache is an in-memory cache.Cache.
type memCache struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]string
	values   map[string][]byte

	getErr error // injected into GetJobStatus
	setErr error // injected into SetJobStatus
}

func newMemCache() *memCache {
	return &memCache{
		statuses: make(map[uuid.UUID]string),
		values:   make(map[string][]byte),
	}
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

func (c *memCache) Ping(_ context.Context) error { return nil }

func (c *memCache) SetJobStatus(_ context.Context, jobID uuid.UUID, status string, _ time.Duration) error {
	if c.setErr != nil {
		return c.setErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[jobID] = status
	return nil
}

func (c *memCache) GetJobStatus(_ context.Context, jobID uuid.UUID) (string, bool, error) {
	if c.getErr != nil {
		return "", false, c.getErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.statuses[jobID]
	return s, ok, nil
}

func (c *memCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

// Interface compliance
var (
	_ store.Store = (*memStore)(nil)
	_ cache.Cache = (*memCache)(nil)
)
