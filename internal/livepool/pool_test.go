package livepool

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/linkup/social-core/internal/interests"
)

// ---------------------------------------------------------------------------
// Test: Join validates the interest set
// ---------------------------------------------------------------------------

func TestJoinValidation(t *testing.T) {
	p := NewPool(0)

	if err := p.Join("alice", nil); err != ErrNoInterests {
		t.Errorf("empty interests: expected ErrNoInterests, got %v", err)
	}

	tooMany := make([]string, interests.MaxPerUser+1)
	for i := range tooMany {
		tooMany[i] = "Programming"
	}
	if err := p.Join("alice", tooMany); err != ErrTooManyInterests {
		t.Errorf("too many interests: expected ErrTooManyInterests, got %v", err)
	}

	if err := p.Join("alice", []string{"Yoga", "Skydiving"}); !errors.Is(err, ErrUnknownInterest) {
		t.Errorf("unknown tag: expected ErrUnknownInterest, got %v", err)
	}

	if p.Len() != 0 {
		t.Errorf("failed joins must not add entries, pool has %d", p.Len())
	}

	if err := p.Join("alice", []string{"Yoga", "Hiking"}); err != nil {
		t.Fatalf("valid join failed: %v", err)
	}
	if !p.Contains("alice") {
		t.Error("expected alice in the pool")
	}
}

// ---------------------------------------------------------------------------
// Test: a second Join replaces the entry instead of duplicating it
// ---------------------------------------------------------------------------

func TestJoinUpserts(t *testing.T) {
	p := NewPool(0)

	p.Join("alice", []string{"Yoga"})
	p.Join("alice", []string{"Chess", "Hiking"})

	if p.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", p.Len())
	}

	members := p.Members()
	if len(members) != 1 {
		t.Fatalf("expected 1 member, got %d", len(members))
	}
	if !reflect.DeepEqual(members[0].Interests, []string{"Chess", "Hiking"}) {
		t.Errorf("expected replaced interests, got %v", members[0].Interests)
	}
}

// ---------------------------------------------------------------------------
// Test: Snapshot excludes the requester and non-overlapping entries
// ---------------------------------------------------------------------------

func TestSnapshotFiltering(t *testing.T) {
	p := NewPool(0)
	p.Join("alice", []string{"Yoga", "Hiking"})
	p.Join("bob", []string{"Hiking", "Chess"})
	p.Join("carol", []string{"Painting"})

	got := p.Snapshot("alice", []string{"Yoga", "Hiking"})
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	if got[0].UserID != "bob" {
		t.Errorf("expected bob, got %s", got[0].UserID)
	}

	// Without an overlap filter everyone but the excluded user qualifies.
	all := p.Snapshot("alice", nil)
	if len(all) != 2 {
		t.Errorf("expected 2 candidates without filter, got %d", len(all))
	}
}

// ---------------------------------------------------------------------------
// Test: stale entries stop qualifying and get purged
// ---------------------------------------------------------------------------

func TestStaleness(t *testing.T) {
	p := NewPool(time.Minute)

	base := time.Now()
	p.now = func() time.Time { return base }
	p.Join("alice", []string{"Programming"})
	p.Join("bob", []string{"Programming"})

	// Advance past the staleness window, refreshing only bob.
	p.now = func() time.Time { return base.Add(30 * time.Second) }
	if !p.Touch("bob") {
		t.Fatal("touch of present user must succeed")
	}
	p.now = func() time.Time { return base.Add(90 * time.Second) }

	candidates := p.Snapshot("", []string{"Programming"})
	if len(candidates) != 1 || candidates[0].UserID != "bob" {
		t.Fatalf("expected only bob fresh, got %v", candidates)
	}

	// Stale entries are still present until the sweep purges them.
	if p.Len() != 2 {
		t.Errorf("expected 2 entries before purge, got %d", p.Len())
	}
	if removed := p.ExpireStale(time.Minute); removed != 1 {
		t.Errorf("expected 1 purged entry, got %d", removed)
	}
	if p.Contains("alice") {
		t.Error("alice should have been purged")
	}
	if !p.Contains("bob") {
		t.Error("bob must survive the purge")
	}
}

// ---------------------------------------------------------------------------
// Test: Touch on an absent user reports false
// ---------------------------------------------------------------------------

func TestTouchAbsent(t *testing.T) {
	p := NewPool(0)
	if p.Touch("ghost") {
		t.Error("touching an absent user must return false")
	}
}

// ---------------------------------------------------------------------------
// Test: Intersect preserves the first argument's order
// ---------------------------------------------------------------------------

func TestIntersect(t *testing.T) {
	got := Intersect([]string{"Yoga", "Hiking", "Chess"}, []string{"Chess", "Hiking"})
	if !reflect.DeepEqual(got, []string{"Hiking", "Chess"}) {
		t.Errorf("expected [Hiking Chess], got %v", got)
	}

	if got := Intersect([]string{"Yoga"}, []string{"Chess"}); got != nil {
		t.Errorf("expected nil for disjoint sets, got %v", got)
	}
}

// ---------------------------------------------------------------------------
// Test: Leave is idempotent
// ---------------------------------------------------------------------------

func TestLeave(t *testing.T) {
	p := NewPool(0)
	p.Join("alice", []string{"Programming"})

	p.Leave("alice")
	if p.Contains("alice") {
		t.Error("alice should be gone after leave")
	}
	p.Leave("alice") // absent, must not panic
}
