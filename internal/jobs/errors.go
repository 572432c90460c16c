package jobs

import (
	"errors"

	"github.com/heraldhq/herald/internal/store"
)

// ErrCancelled is the cooperative-cancellation signal. It is raised inside a
// runner's progress callback once an out-of-band cancel has been observed and
// unwinds the runner; it is not a failure, and runners must not retry it.
var ErrCancelled = errors.New("job cancelled")

// Sentinels shared with the store layer, re-exported so callers only import
// this package.
var (
	// ErrConflict means a job of the same (tenant, type) is already running.
	ErrConflict = store.ErrJobConflict
	// ErrFinished means the job already reached a terminal status.
	ErrFinished = store.ErrJobFinished
	// ErrNotFound means the job does not exist for the tenant.
	ErrNotFound = store.ErrNotFound
)
