package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/heraldhq/herald/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tenants ---

func (s *PostgresStore) GetDefaultTenant(ctx context.Context) (*models.Tenant, error) {
	var t models.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, slug, created_at, updated_at FROM tenants WHERE name = 'default' LIMIT 1`,
	).Scan(&t.ID, &t.Name, &t.Slug, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get default tenant: %w", err)
	}
	return &t, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, tenant_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.TenantID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE tenant_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Jobs ---

const jobColumns = `id, tenant_id, type, status, progress, current_stage, logs, result,
	error_message, metadata, started_at, completed_at, heartbeat_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.TenantID, &j.Type, &j.Status, &j.Progress, &j.CurrentStage,
		&j.Logs, &j.Result, &j.ErrorMessage, &j.Metadata,
		&j.StartedAt, &j.CompletedAt, &j.HeartbeatAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateJob inserts a new job row. The partial unique index on
// (tenant_id, type) for non-terminal statuses makes the single-flight guard
// atomic: the loser of a concurrent create gets ErrJobConflict instead of a
// second running row.
func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, tenant_id, type, status, progress, current_stage, logs, metadata,
		                   started_at, heartbeat_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, '[]'::jsonb, $7, $8, $8, $8, $8)`,
		job.ID, job.TenantID, job.Type, job.Status, job.Progress, job.CurrentStage,
		job.Metadata, job.StartedAt)
	if err != nil {
		if isUniqueViolation(err, "jobs_single_flight_idx") {
			return ErrJobConflict
		}
		if isUniqueViolation(err, "") {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND tenant_id = $2`, id, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) GetJobStatus(ctx context.Context, id uuid.UUID) (string, error) {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get job status: %w", err)
	}
	return status, nil
}

// GetRunningJob returns the most recent running job for (tenant, type), or
// nil when there is none.
func (s *PostgresStore) GetRunningJob(ctx context.Context, tenantID uuid.UUID, jobType string) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE tenant_id = $1 AND type = $2 AND status = 'running'
		 ORDER BY started_at DESC LIMIT 1`, tenantID, jobType))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get running job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	// Build WHERE clause dynamically
	conditions := []string{"tenant_id = $1"}
	args := []any{filter.TenantID}
	argIdx := 2

	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, filter.Type)
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	// Count query
	var total int
	countQuery := "SELECT COUNT(*) FROM jobs WHERE " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	// Normalize pagination
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	// Data query
	dataQuery := fmt.Sprintf(
		`SELECT `+jobColumns+` FROM jobs WHERE %s ORDER BY started_at DESC LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

// UpdateJobProgress writes stage and clamped progress, refreshes the liveness
// heartbeat, and appends an info log entry when message is non-empty, all in
// one statement so the persisted order matches the emitted event order.
// Terminal jobs are left untouched and reported via ErrJobFinished.
func (s *PostgresStore) UpdateJobProgress(ctx context.Context, id uuid.UUID, stage string, progress int, message string) error {
	entries := []models.JobLogEntry{}
	if message != "" {
		entries = append(entries, models.JobLogEntry{
			Timestamp: time.Now().UTC(),
			Level:     models.LogLevelInfo,
			Message:   message,
		})
	}
	logJSON, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}

	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET current_stage = $2, progress = $3, logs = logs || $4::jsonb,
		        heartbeat_at = $5, updated_at = $5
		 WHERE id = $1 AND status IN ('pending', 'running')`,
		id, stage, models.ClampProgress(progress), logJSON, now)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetJobStatus(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrJobFinished
	}
	return nil
}

// AppendJobLog appends one log entry. It is a no-op for absent jobs and is
// allowed on terminal jobs so late writes can still be audited.
func (s *PostgresStore) AppendJobLog(ctx context.Context, id uuid.UUID, entry models.JobLogEntry) error {
	logJSON, err := json.Marshal([]models.JobLogEntry{entry})
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE jobs SET logs = logs || $2::jsonb, updated_at = NOW() WHERE id = $1`, id, logJSON)
	if err != nil {
		return fmt.Errorf("append job log: %w", err)
	}
	return nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id uuid.UUID, result json.RawMessage) (*models.Job, error) {
	now := time.Now().UTC()
	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = 'completed', progress = 100, result = $2,
		        completed_at = $3, updated_at = $3
		 WHERE id = $1 AND status IN ('pending', 'running')
		 RETURNING `+jobColumns, id, result, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.terminalWriteError(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("complete job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) FailJob(ctx context.Context, id uuid.UUID, errorMessage string) (*models.Job, error) {
	logJSON, err := json.Marshal([]models.JobLogEntry{{
		Timestamp: time.Now().UTC(),
		Level:     models.LogLevelError,
		Message:   errorMessage,
	}})
	if err != nil {
		return nil, fmt.Errorf("marshal log entry: %w", err)
	}

	now := time.Now().UTC()
	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = 'failed', error_message = $2, logs = logs || $3::jsonb,
		        completed_at = $4, updated_at = $4
		 WHERE id = $1 AND status IN ('pending', 'running')
		 RETURNING `+jobColumns, id, errorMessage, logJSON, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.terminalWriteError(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("fail job: %w", err)
	}
	return j, nil
}

// CancelJob transitions a non-terminal job to cancelled. The guarded UPDATE
// means a cancel racing the runner's own terminal write loses cleanly: one of
// the two writes lands, never both.
func (s *PostgresStore) CancelJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error) {
	logJSON, err := json.Marshal([]models.JobLogEntry{{
		Timestamp: time.Now().UTC(),
		Level:     models.LogLevelWarn,
		Message:   "job cancelled by user",
	}})
	if err != nil {
		return nil, fmt.Errorf("marshal log entry: %w", err)
	}

	now := time.Now().UTC()
	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = 'cancelled', logs = logs || $3::jsonb,
		        completed_at = $4, updated_at = $4
		 WHERE id = $1 AND tenant_id = $2 AND status IN ('pending', 'running')
		 RETURNING `+jobColumns, id, tenantID, logJSON, now))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gerr := s.GetJob(ctx, id, tenantID); errors.Is(gerr, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrJobFinished
	}
	if err != nil {
		return nil, fmt.Errorf("cancel job: %w", err)
	}
	return j, nil
}

// DeleteJobsOlderThan removes terminal and pending jobs started before the
// cutoff. Running jobs are exempt regardless of age.
func (s *PostgresStore) DeleteJobsOlderThan(ctx context.Context, tenantID uuid.UUID, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs WHERE tenant_id = $1 AND started_at < $2 AND status <> 'running'`,
		tenantID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// FailStaleJobs fails running jobs whose heartbeat predates the cutoff.
// Covers runners whose hosting request died without a terminal transition.
func (s *PostgresStore) FailStaleJobs(ctx context.Context, cutoff time.Time) (int, error) {
	logJSON, err := json.Marshal([]models.JobLogEntry{{
		Timestamp: time.Now().UTC(),
		Level:     models.LogLevelError,
		Message:   "job heartbeat expired; marking as failed",
	}})
	if err != nil {
		return 0, fmt.Errorf("marshal log entry: %w", err)
	}

	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'failed', error_message = 'job heartbeat expired',
		        logs = logs || $2::jsonb, completed_at = $3, updated_at = $3
		 WHERE status = 'running' AND heartbeat_at < $1`, cutoff, logJSON, now)
	if err != nil {
		return 0, fmt.Errorf("fail stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// terminalWriteError distinguishes "job gone" from "job already finished"
// after a guarded terminal UPDATE matched no rows.
func (s *PostgresStore) terminalWriteError(ctx context.Context, id uuid.UUID) error {
	if _, err := s.GetJobStatus(ctx, id); errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return ErrJobFinished
}

// isUniqueViolation checks if a pgx error is a unique constraint violation,
// optionally on a specific constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" { // unique_violation
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
