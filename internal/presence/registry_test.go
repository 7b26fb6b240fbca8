package presence

import (
	"sync"
	"sync/atomic"
	"testing"
)

type fakeHandle struct {
	closed int32
	sent   [][]byte
	mu     sync.Mutex
}

func (f *fakeHandle) Send(data []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, data)
	f.mu.Unlock()
	return nil
}

func (f *fakeHandle) Close() error {
	atomic.AddInt32(&f.closed, 1)
	return nil
}

func (f *fakeHandle) closeCount() int {
	return int(atomic.LoadInt32(&f.closed))
}

// ---------------------------------------------------------------------------
// Test: Admit registers the handle and Resolve finds it
// ---------------------------------------------------------------------------

func TestAdmitAndResolve(t *testing.T) {
	r := NewRegistry()
	h := &fakeHandle{}

	r.Admit("alice", h)

	got, ok := r.Resolve("alice")
	if !ok {
		t.Fatal("expected alice to resolve")
	}
	if got != Handle(h) {
		t.Fatal("resolved handle is not the admitted one")
	}
	if !r.IsConnected("alice") {
		t.Error("expected IsConnected to be true")
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 connection, got %d", r.Len())
	}
}

// ---------------------------------------------------------------------------
// Test: a second Admit for the same user displaces and closes the first
// ---------------------------------------------------------------------------

func TestAdmitDisplacesPrevious(t *testing.T) {
	r := NewRegistry()
	first := &fakeHandle{}
	second := &fakeHandle{}

	r.Admit("alice", first)
	r.Admit("alice", second)

	if first.closeCount() != 1 {
		t.Errorf("expected displaced handle closed once, got %d", first.closeCount())
	}
	if second.closeCount() != 0 {
		t.Errorf("new handle must not be closed, got %d closes", second.closeCount())
	}

	got, ok := r.Resolve("alice")
	if !ok || got != Handle(second) {
		t.Fatal("expected the new handle to be registered")
	}
	if r.Len() != 1 {
		t.Errorf("expected exactly one registration, got %d", r.Len())
	}
}

// ---------------------------------------------------------------------------
// Test: Release by a stale handle is a no-op
// ---------------------------------------------------------------------------

func TestReleaseStaleHandleIsNoop(t *testing.T) {
	r := NewRegistry()
	first := &fakeHandle{}
	second := &fakeHandle{}

	r.Admit("alice", first)
	r.Admit("alice", second)

	// The displaced connection's teardown races the new one; it must not
	// remove the fresh registration.
	if released := r.Release("alice", first); released {
		t.Error("stale handle must not release the registration")
	}
	if !r.IsConnected("alice") {
		t.Fatal("alice must still be connected")
	}

	if released := r.Release("alice", second); !released {
		t.Error("current handle should release the registration")
	}
	if r.IsConnected("alice") {
		t.Error("alice must be disconnected after release")
	}
}

// ---------------------------------------------------------------------------
// Test: Evict closes and removes regardless of handle
// ---------------------------------------------------------------------------

func TestEvict(t *testing.T) {
	r := NewRegistry()
	h := &fakeHandle{}

	r.Admit("bob", h)
	r.Evict("bob")

	if h.closeCount() != 1 {
		t.Errorf("expected evicted handle closed once, got %d", h.closeCount())
	}
	if r.IsConnected("bob") {
		t.Error("bob must be gone after evict")
	}

	// Evicting an absent user is a no-op.
	r.Evict("bob")
}

// ---------------------------------------------------------------------------
// Test: concurrent admits for one user leave exactly one registration
// ---------------------------------------------------------------------------

func TestConcurrentAdmitsSingleWinner(t *testing.T) {
	r := NewRegistry()

	const n = 50
	handles := make([]*fakeHandle, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		handles[i] = &fakeHandle{}
		wg.Add(1)
		go func(h *fakeHandle) {
			defer wg.Done()
			r.Admit("alice", h)
		}(handles[i])
	}
	wg.Wait()

	if r.Len() != 1 {
		t.Fatalf("expected 1 registration, got %d", r.Len())
	}

	winner, ok := r.Resolve("alice")
	if !ok {
		t.Fatal("expected alice to resolve")
	}

	// Every handle except the winner must have been closed exactly once.
	closed := 0
	for _, h := range handles {
		if Handle(h) == winner {
			if h.closeCount() != 0 {
				t.Errorf("winner was closed %d times", h.closeCount())
			}
			continue
		}
		closed += h.closeCount()
	}
	if closed != n-1 {
		t.Errorf("expected %d displaced closes, got %d", n-1, closed)
	}
}

// ---------------------------------------------------------------------------
// Test: Snapshot lists all registered users
// ---------------------------------------------------------------------------

func TestSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Admit("alice", &fakeHandle{})
	r.Admit("bob", &fakeHandle{})

	infos := r.Snapshot()
	if len(infos) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(infos))
	}
	seen := map[string]bool{}
	for _, info := range infos {
		seen[info.UserID] = true
		if info.JoinedAt.IsZero() {
			t.Errorf("joined_at not set for %s", info.UserID)
		}
	}
	if !seen["alice"] || !seen["bob"] {
		t.Errorf("missing users in snapshot: %v", seen)
	}
}
