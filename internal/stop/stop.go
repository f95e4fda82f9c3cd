// Package stop provides a process-wide, keyed cooperative cancellation
// registry. Flags are polled by run loops at safe points; raising one
// never preempts work synchronously.
package stop

import "sync"

// Registry tracks stop requests keyed by run identifier.
// It is safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	flags map[string]struct{}
}

// NewRegistry creates an empty stop registry.
func NewRegistry() *Registry {
	return &Registry{flags: make(map[string]struct{})}
}

// RequestStop raises the stop flag for the given run.
func (r *Registry) RequestStop(runID string) {
	if runID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags[runID] = struct{}{}
}

// ShouldStop reports whether a stop has been requested for the run.
func (r *Registry) ShouldStop(runID string) bool {
	if runID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.flags[runID]
	return ok
}

// ClearStop lowers the stop flag for the run, if raised.
func (r *Registry) ClearStop(runID string) {
	if runID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flags, runID)
}
