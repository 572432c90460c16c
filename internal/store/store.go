package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/heraldhq/herald/pkg/models"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicateKey = errors.New("duplicate key violation")

	// ErrJobConflict is returned by CreateJob when a non-terminal job for the
	// same (tenant, type) already exists. Enforced by a partial unique index,
	// so two concurrent creates cannot both succeed.
	ErrJobConflict = errors.New("a job of this type is already running for the tenant")

	// ErrJobFinished is returned by terminal-transition operations when the
	// job has already reached a terminal status.
	ErrJobFinished = errors.New("job already finished")
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	GetDefaultTenant(ctx context.Context) (*models.Tenant, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error)
	GetJobStatus(ctx context.Context, id uuid.UUID) (string, error)
	GetRunningJob(ctx context.Context, tenantID uuid.UUID, jobType string) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	UpdateJobProgress(ctx context.Context, id uuid.UUID, stage string, progress int, message string) error
	AppendJobLog(ctx context.Context, id uuid.UUID, entry models.JobLogEntry) error
	CompleteJob(ctx context.Context, id uuid.UUID, result json.RawMessage) (*models.Job, error)
	FailJob(ctx context.Context, id uuid.UUID, errorMessage string) (*models.Job, error)
	CancelJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error)
	DeleteJobsOlderThan(ctx context.Context, tenantID uuid.UUID, cutoff time.Time) (int, error)
	FailStaleJobs(ctx context.Context, cutoff time.Time) (int, error)
}

// JobFilter narrows and paginates ListJobs. Zero-valued fields are ignored.
type JobFilter struct {
	TenantID uuid.UUID
	Type     string
	Status   string
	Page     int
	Limit    int
}
