// Package livepool maintains the in-memory set of users currently opted in
// to random matching. Entries carry the user's interest tags and a freshness
// timestamp; entries not refreshed within the staleness window stop
// qualifying for matches and are eventually purged by the sweeper.
//
// The pool is process-local runtime state: it is rebuilt empty on restart
// and never persisted.
package livepool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/linkup/social-core/internal/interests"
	"github.com/linkup/social-core/internal/metrics"
)

// DefaultStaleAfter is how long an entry stays eligible without a refresh.
const DefaultStaleAfter = 2 * time.Minute

var (
	// ErrNoInterests is returned by Join when the interest set is empty.
	ErrNoInterests = errors.New("livepool: at least one interest is required")

	// ErrTooManyInterests is returned by Join when the interest set exceeds
	// the per-user cap.
	ErrTooManyInterests = fmt.Errorf("livepool: at most %d interests are allowed", interests.MaxPerUser)

	// ErrUnknownInterest is returned by Join for a tag outside the taxonomy.
	ErrUnknownInterest = errors.New("livepool: unknown interest tag")
)

// Entry is one user's pool membership.
type Entry struct {
	UserID       string    `json:"user_id"`
	Interests    []string  `json:"interests"`
	LastActiveAt time.Time `json:"last_active_at"`
	Available    bool      `json:"available"`
}

// Pool is a goroutine-safe upsert-by-user set of live entries.
type Pool struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	staleAfter time.Duration
	now        func() time.Time // overridable in tests
}

// NewPool creates an empty pool with the given staleness window. A
// non-positive window falls back to DefaultStaleAfter.
func NewPool(staleAfter time.Duration) *Pool {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Pool{
		entries:    make(map[string]*Entry),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Join adds the user to the pool, overwriting any prior entry for the same
// user so the at-most-one-entry-per-user invariant holds by construction.
func (p *Pool) Join(userID string, tags []string) error {
	if len(tags) == 0 {
		return ErrNoInterests
	}
	if len(tags) > interests.MaxPerUser {
		return ErrTooManyInterests
	}
	for _, t := range tags {
		if !interests.Valid(t) {
			return fmt.Errorf("%w: %q", ErrUnknownInterest, t)
		}
	}

	set := make([]string, len(tags))
	copy(set, tags)

	p.mu.Lock()
	p.entries[userID] = &Entry{
		UserID:       userID,
		Interests:    set,
		LastActiveAt: p.now(),
		Available:    true,
	}
	n := len(p.entries)
	p.mu.Unlock()

	metrics.PoolSize.Set(float64(n))
	return nil
}

// Leave removes the user's entry. Removing an absent user is a no-op.
func (p *Pool) Leave(userID string) {
	p.mu.Lock()
	delete(p.entries, userID)
	n := len(p.entries)
	p.mu.Unlock()

	metrics.PoolSize.Set(float64(n))
}

// Touch refreshes the user's freshness timestamp. Returns false if the user
// is not in the pool.
func (p *Pool) Touch(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[userID]
	if !ok {
		return false
	}
	e.LastActiveAt = p.now()
	return true
}

// Snapshot returns copies of all fresh, available entries whose interest set
// intersects overlap in at least one tag, excluding the given user. It is
// read-only: callers that consume candidates must remove them via Leave.
func (p *Pool) Snapshot(excluding string, overlap []string) []Entry {
	cutoff := p.now().Add(-p.staleAfter)

	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Entry, 0, len(p.entries))
	for id, e := range p.entries {
		if id == excluding || !e.Available {
			continue
		}
		if e.LastActiveAt.Before(cutoff) {
			continue
		}
		if len(overlap) > 0 && len(Intersect(e.Interests, overlap)) == 0 {
			continue
		}
		out = append(out, *e)
	}
	return out
}

// Members returns copies of all fresh entries, for operational listings.
func (p *Pool) Members() []Entry {
	return p.Snapshot("", nil)
}

// Contains reports whether the user currently has a pool entry, fresh or not.
func (p *Pool) Contains(userID string) bool {
	p.mu.RLock()
	_, ok := p.entries[userID]
	p.mu.RUnlock()
	return ok
}

// Len returns the number of entries, including stale ones not yet purged.
func (p *Pool) Len() int {
	p.mu.RLock()
	n := len(p.entries)
	p.mu.RUnlock()
	return n
}

// ExpireStale purges entries whose freshness timestamp is older than
// olderThan and returns the number removed.
func (p *Pool) ExpireStale(olderThan time.Duration) int {
	cutoff := p.now().Add(-olderThan)

	p.mu.Lock()
	removed := 0
	for id, e := range p.entries {
		if e.LastActiveAt.Before(cutoff) {
			delete(p.entries, id)
			removed++
		}
	}
	n := len(p.entries)
	p.mu.Unlock()

	if removed > 0 {
		metrics.PoolSize.Set(float64(n))
		metrics.PoolExpiredTotal.Add(float64(removed))
	}
	return removed
}

// StartSweeper runs a background loop that purges stale entries every
// interval until ctx is cancelled. Staleness handles users who disconnected
// without an explicit leave.
func (p *Pool) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Println("[livepool] sweeper stopped")
				return
			case <-ticker.C:
				if removed := p.ExpireStale(p.staleAfter); removed > 0 {
					log.Printf("[livepool] purged %d stale entries", removed)
				}
			}
		}
	}()
}

// Intersect returns the tags present in both a and b, preserving a's order.
func Intersect(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, t := range b {
		inB[t] = true
	}
	var out []string
	for _, t := range a {
		if inB[t] {
			out = append(out, t)
		}
	}
	return out
}
