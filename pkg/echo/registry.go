package echo

import (
	"context"
	"sync"
)

// Registry tracks every live worker so the drain can enumerate and
// force-close them.
//
// Workers are keyed by ID, which doubles as the handle for O(1) removal.
// A single mutex guards insertion, removal and enumeration, so a snapshot
// never observes a half-inserted worker.
type Registry struct {
	mu      sync.Mutex
	workers map[string]*Worker

	// empty is closed whenever the registry holds no workers and replaced
	// by a fresh channel on the first insertion after that.
	empty chan struct{}

	// onChange receives the new size after every insertion or removal.
	// It runs under mu, so successive calls observe sizes in order.
	onChange func(active int)
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	empty := make(chan struct{})
	close(empty)
	return &Registry{
		workers: make(map[string]*Worker),
		empty:   empty,
	}
}

// OnChange installs fn to be called with the worker count after every
// change. fn must not call back into the registry.
func (r *Registry) OnChange(fn func(active int)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Register inserts w. Registering the same worker twice is a no-op.
func (r *Registry) Register(w *Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workers[w.id]; ok {
		return
	}
	if len(r.workers) == 0 {
		r.empty = make(chan struct{})
	}
	r.workers[w.id] = w
	r.notify()
}

// Unregister removes w and reports whether this call removed it.
// Removing a worker that is not registered is a no-op.
func (r *Registry) Unregister(w *Worker) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workers[w.id]; !ok {
		return false
	}
	delete(r.workers, w.id)
	if len(r.workers) == 0 {
		close(r.empty)
	}
	r.notify()
	return true
}

func (r *Registry) notify() {
	if r.onChange != nil {
		r.onChange(len(r.workers))
	}
}

// Snapshot returns the workers registered at the time of the call.
func (r *Registry) Snapshot() []*Worker {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w)
	}
	return out
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// Contains reports whether w is registered.
func (r *Registry) Contains(w *Worker) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.workers[w.id]
	return ok
}

// Wait blocks until the registry is empty or ctx is done.
func (r *Registry) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		if len(r.workers) == 0 {
			r.mu.Unlock()
			return nil
		}
		empty := r.empty
		r.mu.Unlock()

		select {
		case <-empty:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
