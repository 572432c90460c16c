package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job statuses. Pending and running are the only non-terminal states; once a
// job reaches completed, failed, or cancelled it never transitions again.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// Built-in job types. The set is open: collaborators register new runner
// kinds at startup, and this core only uses the type as the single-flight
// partition key together with tenant_id.
const (
	JobTypeCuration   = "curation"
	JobTypeGeneration = "generation"
	JobTypeSearch     = "search"
)

// Log levels for persisted job log entries.
const (
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// JobLogEntry is one persisted log line on a job. The logs column is
// append-only: entries are never mutated or reordered after the fact.
type JobLogEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Job tracks a long-running background operation (curation, generation,
// search). A job is driven by the request that opened its progress stream;
// the row is the only shared state between the runner and the out-of-band
// cancel endpoint.
type Job struct {
	ID           uuid.UUID       `db:"id"            json:"id"`
	TenantID     uuid.UUID       `db:"tenant_id"     json:"tenant_id"`
	Type         string          `db:"type"          json:"type"`
	Status       string          `db:"status"        json:"status"`
	Progress     int             `db:"progress"      json:"progress"`
	CurrentStage string          `db:"current_stage" json:"current_stage"`
	Logs         []JobLogEntry   `db:"logs"          json:"logs"`
	Result       json.RawMessage `db:"result"        json:"result,omitempty"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	Metadata     json.RawMessage `db:"metadata"      json:"metadata,omitempty"`
	StartedAt    time.Time       `db:"started_at"    json:"started_at"`
	CompletedAt  *time.Time      `db:"completed_at"  json:"completed_at,omitempty"`
	HeartbeatAt  time.Time       `db:"heartbeat_at"  json:"heartbeat_at"`
	CreatedAt    time.Time       `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"    json:"updated_at"`
}

// ValidJobStatus reports whether s is one of the defined job statuses.
func ValidJobStatus(s string) bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the job has reached a final state.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed || j.Status == JobStatusCancelled
}

// ClampProgress clamps a reported progress value into [0, 100].
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
