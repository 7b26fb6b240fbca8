// Package presence tracks which users currently hold a live connection.
// The registry enforces the single-connection invariant: admitting a new
// handle for a user synchronously terminates any handle already registered
// for that user, so at every observable instant a user resolves to at most
// one live handle.
package presence

import (
	"log"
	"sync"
	"time"

	"github.com/linkup/social-core/internal/metrics"
)

// Handle is the minimal surface the registry needs from a live connection.
// The concrete implementation lives in the ws package; tests use fakes.
type Handle interface {
	// Send pushes an encoded frame to the peer.
	Send(data []byte) error
	// Close terminates the underlying transport.
	Close() error
}

// Info describes one registered connection for operational listings.
type Info struct {
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

type entry struct {
	handle   Handle
	joinedAt time.Time
}

// Registry is a goroutine-safe map from user ID to the user's single live
// connection handle. All mutation goes through Admit, Evict and Release;
// the internal map is never exposed.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*entry)}
}

// Admit installs handle as the user's live connection. If a connection is
// already registered for the user it is closed before the new handle is
// installed, so the displaced peer observes the termination no later than
// Admit returning. Concurrent admits for the same user serialize on the
// registry lock; the last one wins.
func (r *Registry) Admit(userID string, h Handle) {
	r.mu.Lock()
	if prev, ok := r.conns[userID]; ok {
		if err := prev.handle.Close(); err != nil {
			log.Printf("presence: close displaced connection user=%s: %v", userID, err)
		}
	}
	r.conns[userID] = &entry{handle: h, joinedAt: time.Now()}
	n := len(r.conns)
	r.mu.Unlock()

	metrics.ConnectionsActive.Set(float64(n))
}

// Evict removes and closes the user's connection regardless of which handle
// holds it. It is a no-op if the user has no registered connection.
func (r *Registry) Evict(userID string) {
	r.mu.Lock()
	e, ok := r.conns[userID]
	if ok {
		delete(r.conns, userID)
	}
	n := len(r.conns)
	r.mu.Unlock()

	if ok {
		_ = e.handle.Close()
		metrics.ConnectionsActive.Set(float64(n))
	}
}

// Release removes the user's registration only if h is still the registered
// handle. A handle that was already displaced by a newer Admit finds itself
// unregistered and this becomes a no-op; stale-close races are expected and
// harmless. Returns true if the registration was removed.
func (r *Registry) Release(userID string, h Handle) bool {
	r.mu.Lock()
	e, ok := r.conns[userID]
	if !ok || e.handle != h {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, userID)
	n := len(r.conns)
	r.mu.Unlock()

	metrics.ConnectionsActive.Set(float64(n))
	return true
}

// Resolve returns the user's live handle, if any.
func (r *Registry) Resolve(userID string) (Handle, bool) {
	r.mu.RLock()
	e, ok := r.conns[userID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// IsConnected reports whether the user currently holds a live connection.
func (r *Registry) IsConnected(userID string) bool {
	_, ok := r.Resolve(userID)
	return ok
}

// Snapshot returns connection info for all registered users. The slice is
// safe to use without holding the registry lock.
func (r *Registry) Snapshot() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.conns))
	for id, e := range r.conns {
		out = append(out, Info{UserID: id, JoinedAt: e.joinedAt})
	}
	r.mu.RUnlock()
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	n := len(r.conns)
	r.mu.RUnlock()
	return n
}
