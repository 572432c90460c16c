package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	mw "github.com/heraldhq/herald/internal/api/middleware"
	"github.com/heraldhq/herald/internal/cache"
	"github.com/heraldhq/herald/internal/jobs"
	"github.com/heraldhq/herald/internal/store"
	"github.com/heraldhq/herald/pkg/models"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory store.Store with the same guard semantics as the
// Postgres implementation, enough to drive handlers through a real Manager.
type memStore struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]*models.Job
	keys    map[uuid.UUID]*models.APIKey
	pingErr error
}

func newMemStore() *memStore {
	return &memStore{
		jobs: make(map[uuid.UUID]*models.Job),
		keys: make(map[uuid.UUID]*models.APIKey),
	}
}

func (m *memStore) Ping(context.Context) error { return m.pingErr }

func (m *memStore) GetDefaultTenant(context.Context) (*models.Tenant, error) {
	return nil, store.ErrNotFound
}

func (m *memStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.keys[key.ID]; exists {
		return store.ErrDuplicateKey
	}
	cp := *key
	m.keys[key.ID] = &cp
	return nil
}

func (m *memStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.APIKey
	for _, k := range m.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) ListAPIKeys(_ context.Context, tenantID uuid.UUID) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.APIKey{}
	for _, k := range m.keys {
		if k.TenantID == tenantID && k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) RevokeAPIKey(_ context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok || k.TenantID != tenantID || k.DeletedAt != nil {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	k.DeletedAt = &now
	return nil
}

func (m *memStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.keys[id]; ok {
		now := time.Now().UTC()
		k.LastUsedAt = &now
	}
	return nil
}

func (m *memStore) CreateJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.TenantID == job.TenantID && j.Type == job.Type && !j.IsTerminal() {
			return store.ErrJobConflict
		}
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memStore) GetJob(_ context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memStore) GetJobStatus(_ context.Context, id uuid.UUID) (string, error) {
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
		if j.TenantID == tenantID && j.Type == jobType && !j.IsTerminal() {
			cp := *j
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListJobs(_ context.Context, filter store.JobFilter) ([]*models.Job, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*models.Job
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
		cp := *j
		matched = append(matched, &cp)
	}
	// Newest first
	for i := 0; i < len(matched); i++ {
		for k := i + 1; k < len(matched); k++ {
			if matched[k].StartedAt.After(matched[i].StartedAt) {
				matched[i], matched[k] = matched[k], matched[i]
			}
		}
	}
	total := len(matched)
	start := (filter.Page - 1) * filter.Limit
	if start > total {
		start = total
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (m *memStore) UpdateJobProgress(_ context.Context, id uuid.UUID, stage string, progress int, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if j.IsTerminal() {
		return store.ErrJobFinished
	}
	now := time.Now().UTC()
	j.CurrentStage = stage
	j.Progress = models.ClampProgress(progress)
	j.HeartbeatAt = now
	j.UpdatedAt = now
	if message != "" {
		j.Logs = append(j.Logs, models.JobLogEntry{Timestamp: now, Level: models.LogLevelInfo, Message: message})
	}
	return nil
}

func (m *memStore) AppendJobLog(_ context.Context, id uuid.UUID, entry models.JobLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.Logs = append(j.Logs, entry)
	return nil
}

func (m *memStore) finish(id uuid.UUID, status string) (*models.Job, error) {
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if j.IsTerminal() {
		return nil, store.ErrJobFinished
	}
	now := time.Now().UTC()
	j.Status = status
	j.CompletedAt = &now
	j.UpdatedAt = now
	cp := *j
	return &cp, nil
}

func (m *memStore) CompleteJob(_ context.Context, id uuid.UUID, result json.RawMessage) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.finish(id, models.JobStatusCompleted)
	if err != nil {
		return nil, err
	}
	m.jobs[id].Result = result
	m.jobs[id].Progress = 100
	j.Result = result
	j.Progress = 100
	return j, nil
}

func (m *memStore) FailJob(_ context.Context, id uuid.UUID, errorMessage string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.finish(id, models.JobStatusFailed)
	if err != nil {
		return nil, err
	}
	m.jobs[id].ErrorMessage = &errorMessage
	j.ErrorMessage = &errorMessage
	return j, nil
}

func (m *memStore) CancelJob(_ context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return m.finish(id, models.JobStatusCancelled)
}

func (m *memStore) DeleteJobsOlderThan(_ context.Context, tenantID uuid.UUID, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for id, j := range m.jobs {
		if j.TenantID == tenantID && j.Status != models.JobStatusRunning && j.StartedAt.Before(cutoff) {
			delete(m.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memStore) FailStaleJobs(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	failed := 0
	for _, j := range m.jobs {
		if j.Status == models.JobStatusRunning && j.HeartbeatAt.Before(cutoff) {
			msg := "job heartbeat expired"
			now := time.Now().UTC()
			j.Status = models.JobStatusFailed
			j.ErrorMessage = &msg
			j.CompletedAt = &now
			failed++
		}
	}
	return failed, nil
}

// memCache is an in-memory cache.Cache.
type memCache struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]string
	pingErr  error
}

func newMemCache() *memCache {
	return &memCache{statuses: make(map[uuid.UUID]string)}
}

func (m *memCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (m *memCache) Get(context.Context, string) ([]byte, bool, error)       { return nil, false, nil }
func (m *memCache) Delete(context.Context, string) error                    { return nil }
func (m *memCache) Ping(context.Context) error                              { return m.pingErr }

func (m *memCache) SetJobStatus(_ context.Context, id uuid.UUID, status string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[id] = status
	return nil
}

func (m *memCache) GetJobStatus(_ context.Context, id uuid.UUID) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.statuses[id]
	return status, ok, nil
}

func (m *memCache) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}

var (
	_ store.Store = (*memStore)(nil)
	_ cache.Cache = (*memCache)(nil)
)

func newManager(ms *memStore) *jobs.Manager {
	return jobs.NewManager(ms, newMemCache(), 30*time.Minute, 10*time.Minute)
}

// authedRequest builds a request carrying the tenant, as the auth middleware
// would after a successful key check.
func authedRequest(method, target string, tenantID uuid.UUID, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	return req.WithContext(mw.SetTenantID(req.Context(), tenantID))
}

func seedJob(t *testing.T, ms *memStore, tenantID uuid.UUID, jobType, status string, startedAt time.Time) *models.Job {
	t.Helper()
	job := &models.Job{
		ID:           uuid.New(),
		TenantID:     tenantID,
		Type:         jobType,
		Status:       status,
		CurrentStage: "working",
		Logs:         []models.JobLogEntry{},
		Metadata:     json.RawMessage(`{}`),
		StartedAt:    startedAt,
		HeartbeatAt:  startedAt,
		CreatedAt:    startedAt,
		UpdatedAt:    startedAt,
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, exists := ms.jobs[job.ID]; exists {
		t.Fatal("duplicate job id")
	}
	ms.jobs[job.ID] = job
	return job
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}
