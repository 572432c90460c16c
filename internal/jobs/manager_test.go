package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/heraldhq/herald/internal/jobs"
	"github.com/heraldhq/herald/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(ms *memStore, mc *memCache) *jobs.Manager {
	return jobs.NewManager(ms, mc, 30*time.Minute, 10*time.Minute)
}

func TestManager_CreateSetsRunningAndCachesStatus(t *testing.T) {
	ms := newMemStore()
	mc := newMemCache()
	mgr := newManager(ms, mc)
	tenantID := uuid.New()

	job, err := mgr.Create(context.Background(), tenantID, models.JobTypeCuration, json.RawMessage(`{"feeds":[]}`))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.Equal(t, "starting", job.CurrentStage)
	assert.Empty(t, job.Logs)

	// Status mirrored into the cache fast path
	status, ok, err := mc.GetJobStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.JobStatusRunning, status)
}

func TestManager_CreateConflict(t *testing.T) {
	ms := newMemStore()
	mgr := newManager(ms, newMemCache())
	tenantID := uuid.New()
	ctx := context.Background()

	_, err := mgr.Create(ctx, tenantID, models.JobTypeCuration, nil)
	require.NoError(t, err)

	_, err = mgr.Create(ctx, tenantID, models.JobTypeCuration, nil)
	assert.ErrorIs(t, err, jobs.ErrConflict)

	// Another tenant is an independent single-flight key
	_, err = mgr.Create(ctx, uuid.New(), models.JobTypeCuration, nil)
	assert.NoError(t, err)
}

func TestManager_CreateSurvivesCacheWriteFailure(t *testing.T) {
	ms := newMemStore()
	mc := newMemCache()
	mc.setErr = errors.New("redis down")
	mgr := newManager(ms, mc)

	job, err := mgr.Create(context.Background(), uuid.New(), models.JobTypeSearch, nil)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status)
}

func TestManager_IsCancelled_CacheFastPath(t *testing.T) {
	ms := newMemStore()
	mc := newMemCache()
	mgr := newManager(ms, mc)
	jobID := uuid.New()

	// A definitive cancelled cache hit must not touch the store at all.
	ms.statusErr = errors.New("store should not be consulted")
	require.NoError(t, mc.SetJobStatus(context.Background(), jobID, models.JobStatusCancelled, time.Minute))

	cancelled, err := mgr.IsCancelled(context.Background(), jobID)
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestManager_IsCancelled_RunningCacheHitStillChecksStore(t *testing.T) {
	ms := newMemStore()
	mc := newMemCache()
	mgr := newManager(ms, mc)
	ctx := context.Background()

	job, err := mgr.Create(ctx, uuid.New(), models.JobTypeCuration, nil)
	require.NoError(t, err)
	_, err = mgr.Cancel(ctx, job.ID, job.TenantID)
	require.NoError(t, err)

	// Poison the cache with a stale running entry; the durable status wins.
	require.NoError(t, mc.SetJobStatus(ctx, job.ID, models.JobStatusRunning, time.Minute))

	cancelled, err := mgr.IsCancelled(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestManager_IsCancelled_CacheMissFallsBack(t *testing.T) {
	ms := newMemStore()
	mc := newMemCache()
	mgr := newManager(ms, mc)
	ctx := context.Background()

	job, err := mgr.Create(ctx, uuid.New(), models.JobTypeCuration, nil)
	require.NoError(t, err)

	cancelled, err := mgr.IsCancelled(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestManager_IsCancelled_CacheErrorFallsBack(t *testing.T) {
	ms := newMemStore()
	mc := newMemCache()
	mc.getErr = errors.New("redis down")
	mgr := newManager(ms, mc)
	ctx := context.Background()

	job, err := mgr.Create(ctx, uuid.New(), models.JobTypeCuration, nil)
	require.NoError(t, err)
	_, err = mgr.Cancel(ctx, job.ID, job.TenantID)
	require.NoError(t, err)

	cancelled, err := mgr.IsCancelled(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestManager_IsCancelled_StoreErrorPropagates(t *testing.T) {
	ms := newMemStore()
	ms.statusErr = errors.New("db down")
	mgr := newManager(ms, newMemCache())

	_, err := mgr.IsCancelled(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestManager_UpdateProgress_NormalizesCancelledToErrCancelled(t *testing.T) {
	ms := newMemStore()
	mgr := newManager(ms, newMemCache())
	ctx := context.Background()

	job, err := mgr.Create(ctx, uuid.New(), models.JobTypeCuration, nil)
	require.NoError(t, err)
	_, err = mgr.Cancel(ctx, job.ID, job.TenantID)
	require.NoError(t, err)

	err = mgr.UpdateProgress(ctx, job.ID, "fetching", 30, "")
	assert.ErrorIs(t, err, jobs.ErrCancelled)
}

func TestManager_UpdateProgress_CompletedStaysFinished(t *testing.T) {
	ms := newMemStore()
	mgr := newManager(ms, newMemCache())
	ctx := context.Background()

	job, err := mgr.Create(ctx, uuid.New(), models.JobTypeCuration, nil)
	require.NoError(t, err)
	_, err = mgr.Complete(ctx, job.ID, nil)
	require.NoError(t, err)

	err = mgr.UpdateProgress(ctx, job.ID, "late", 50, "")
	assert.ErrorIs(t, err, jobs.ErrFinished)
	assert.NotErrorIs(t, err, jobs.ErrCancelled)
}

func TestManager_AddLog_SwallowsStoreError(t *testing.T) {
	ms := newMemStore()
	ms.appendErr = errors.New("db down")
	mgr := newManager(ms, newMemCache())

	// Must not panic or surface the error; a lost log line is tolerated.
	mgr.AddLog(context.Background(), uuid.New(), models.LogLevelInfo, "hello", nil)
}

func TestManager_CancelFinished(t *testing.T) {
	ms := newMemStore()
	mgr := newManager(ms, newMemCache())
	ctx := context.Background()

	job, err := mgr.Create(ctx, uuid.New(), models.JobTypeGeneration, nil)
	require.NoError(t, err)
	_, err = mgr.Complete(ctx, job.ID, json.RawMessage(`{}`))
	require.NoError(t, err)

	_, err = mgr.Cancel(ctx, job.ID, job.TenantID)
	assert.ErrorIs(t, err, jobs.ErrFinished)
}

func TestManager_FailRecordsMessage(t *testing.T) {
	ms := newMemStore()
	mgr := newManager(ms, newMemCache())
	ctx := context.Background()

	job, err := mgr.Create(ctx, uuid.New(), models.JobTypeGeneration, nil)
	require.NoError(t, err)

	failed, err := mgr.Fail(ctx, job.ID, "provider unavailable")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, failed.Status)
	require.NotNil(t, failed.ErrorMessage)
	assert.Equal(t, "provider unavailable", *failed.ErrorMessage)
}

func TestManager_FailStale(t *testing.T) {
	ms := newMemStore()
	mgr := newManager(ms, newMemCache())
	ctx := context.Background()

	job, err := mgr.Create(ctx, uuid.New(), models.JobTypeCuration, nil)
	require.NoError(t, err)

	// Age the heartbeat past the 10m grace period
	ms.mu.Lock()
	ms.jobs[job.ID].HeartbeatAt = time.Now().UTC().Add(-time.Hour)
	ms.mu.Unlock()

	n, err := mgr.FailStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := mgr.Get(ctx, job.ID, job.TenantID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
}

func TestManager_RunningJob(t *testing.T) {
	ms := newMemStore()
	mgr := newManager(ms, newMemCache())
	ctx := context.Background()
	tenantID := uuid.New()

	got, err := mgr.RunningJob(ctx, tenantID, models.JobTypeCuration)
	require.NoError(t, err)
	assert.Nil(t, got)

	job, err := mgr.Create(ctx, tenantID, models.JobTypeCuration, nil)
	require.NoError(t, err)

	got, err = mgr.RunningJob(ctx, tenantID, models.JobTypeCuration)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
}
