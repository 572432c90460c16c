package jobs

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/heraldhq/herald/pkg/models"
)

// ProgressFunc reports a runner's progress. Each call is also the
// cooperative-cancellation decision point: it returns ErrCancelled once the
// job has been cancelled out of band, and the runner must stop and return
// that error unchanged. An empty message reports progress without logging.
type ProgressFunc func(ctx context.Context, stage string, progress int, message string) error

// Runner performs the actual domain work of one job. It must call report at
// bounded intervals (every few seconds of work) so the job stays cancellable
// and observers see current progress. The returned payload becomes the job's
// result on success.
type Runner func(ctx context.Context, job *models.Job, report ProgressFunc) (json.RawMessage, error)

// Registry maps job types to runners. The type set is open: collaborators
// register new kinds at startup and this core stays agnostic to their
// semantics.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]Runner)}
}

func (r *Registry) Register(jobType string, fn Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[jobType] = fn
}

func (r *Registry) Get(jobType string) (Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.runners[jobType]
	return fn, ok
}

// Types returns the registered job types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.runners))
	for t := range r.runners {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
