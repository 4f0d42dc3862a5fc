package session

import (
	"sync"
	"time"
)

// Registry maps session ids to handles.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Handle
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Handle)}
}

// Add registers h under its session id, replacing any previous handle.
func (r *Registry) Add(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[h.ID()] = h
}

// Get returns the handle for id.
func (r *Registry) Get(id string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.sessions[id]
	return h, ok
}

// Remove tears down and forgets the handle for id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	h, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		h.Bus.Complete()
		h.Teardown()
	}
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep removes terminal sessions not updated within retention and returns
// how many were removed.
func (r *Registry) Sweep(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)

	r.mu.RLock()
	var stale []string
	for id, h := range r.sessions {
		if h.Session.Status().Terminal() && h.Session.UpdatedAt().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		r.Remove(id)
	}
	return len(stale)
}
