package coordinator

import (
	"context"
	"sync"

	"github.com/testwarden/testwarden/internal/errors"
	"github.com/testwarden/testwarden/internal/testrun"
)

// RunRegistry tracks in-flight runs. It enforces the single-flight rule: at
// most one active run per project path. The registry is also what makes a
// still-running TestRun visible to readers before it reaches the store.
type RunRegistry struct {
	mu     sync.Mutex
	byPath map[string]*activeRun
	byID   map[string]*activeRun
}

type activeRun struct {
	run    *testrun.TestRun
	cancel context.CancelFunc
}

// NewRunRegistry creates an empty registry.
func NewRunRegistry() *RunRegistry {
	return &RunRegistry{
		byPath: make(map[string]*activeRun),
		byID:   make(map[string]*activeRun),
	}
}

// Acquire claims the project path for the given run. A second concurrent
// claim for the same path is a ConflictError.
func (r *RunRegistry) Acquire(run *testrun.TestRun, cancel context.CancelFunc) error {
	path := run.Request.ProjectPath
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.byPath[path]; busy {
		return errors.NewConflictError(path)
	}
	a := &activeRun{run: run, cancel: cancel}
	r.byPath[path] = a
	r.byID[run.ID] = a
	return nil
}

// Release frees the project path slot once the run is finalized.
func (r *RunRegistry) Release(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[runID]
	if !ok {
		return
	}
	delete(r.byID, runID)
	delete(r.byPath, a.run.Request.ProjectPath)
}

// Update mutates an in-flight run under the registry lock so snapshots stay
// consistent.
func (r *RunRegistry) Update(runID string, mutate func(*testrun.TestRun)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.byID[runID]; ok {
		mutate(a.run)
	}
}

// Snapshot returns a copy of an in-flight run.
func (r *RunRegistry) Snapshot(runID string) (*testrun.TestRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[runID]
	if !ok {
		return nil, false
	}
	return a.run.Clone(), true
}

// Cancel requests cooperative cancellation of an in-flight run.
func (r *RunRegistry) Cancel(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[runID]
	if !ok {
		return false
	}
	a.cancel()
	return true
}

// ActiveIDs returns the ids of all in-flight runs.
func (r *RunRegistry) ActiveIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	return ids
}
