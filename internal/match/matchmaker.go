// Package match forms random 1:1 and group chat sessions from the live
// pool. Selection is uniformly random over the qualifying candidates at
// selection time, so early joiners carry no systematic advantage, and
// selected users leave the pool in the same step that selects them so a
// concurrent request cannot double-book anyone.
package match

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"

	"github.com/linkup/social-core/internal/chat"
	"github.com/linkup/social-core/internal/livepool"
	"github.com/linkup/social-core/internal/metrics"
)

// MaxGroupSize caps a random group at the requester plus nine candidates.
const MaxGroupSize = 10

// ErrNoMatch is the soft "try again later" result: no qualifying candidate
// was in the pool. It is not a system fault and the requester's pool state
// is untouched when it is returned.
var ErrNoMatch = errors.New("match: no qualifying candidate")

// SessionCreator materializes a formed match as a durable session. The chat
// store implements it; tests substitute fakes.
type SessionCreator interface {
	CreateFromMatch(ctx context.Context, participants []string, tags []string, isGroup bool) (*chat.Session, error)
}

// Matchmaker draws candidates from the pool and hands results to the store.
type Matchmaker struct {
	mu    sync.Mutex
	pool  *livepool.Pool
	store SessionCreator
	rng   *rand.Rand
}

// New creates a Matchmaker. The rng source determines candidate selection;
// production wiring seeds it from the clock, tests pass a fixed seed so
// selection is reproducible.
func New(pool *livepool.Pool, store SessionCreator, rng *rand.Rand) *Matchmaker {
	return &Matchmaker{pool: pool, store: store, rng: rng}
}

// MatchPair pairs the requester with one uniformly random pool member whose
// interests overlap the requester's in at least one tag. Both users leave
// the pool atomically with the selection. Returns ErrNoMatch when nobody
// qualifies; the requester is not added to or removed from the pool then.
func (m *Matchmaker) MatchPair(ctx context.Context, userID string, tags []string) (*chat.Session, error) {
	if userID == "" {
		return nil, &chat.ValidationError{Reason: "user id is required"}
	}
	if len(tags) == 0 {
		return nil, &chat.ValidationError{Reason: "an interest set is required for matching"}
	}

	m.mu.Lock()
	candidates := m.pool.Snapshot(userID, tags)
	if len(candidates) == 0 {
		m.mu.Unlock()
		metrics.MatchMissesTotal.WithLabelValues("pair").Inc()
		return nil, ErrNoMatch
	}

	picked := candidates[m.rng.Intn(len(candidates))]
	m.pool.Leave(picked.UserID)
	m.pool.Leave(userID)
	m.mu.Unlock()

	shared := livepool.Intersect(tags, picked.Interests)
	session, err := m.store.CreateFromMatch(ctx, []string{userID, picked.UserID}, shared, false)
	if err != nil {
		return nil, fmt.Errorf("match: create pair session: %w", err)
	}

	metrics.MatchesTotal.WithLabelValues("pair").Inc()
	log.Printf("[match] pair formed session=%s a=%s b=%s shared=%v", session.ID, userID, picked.UserID, shared)
	return session, nil
}

// MatchGroup forms a random group of the requester plus up to nine
// uniformly drawn qualifying candidates. Unlike pair matching, a partial
// group (a single candidate) is still a match. All selected users leave the
// pool atomically with the selection.
func (m *Matchmaker) MatchGroup(ctx context.Context, userID string, tags []string) (*chat.Session, error) {
	if userID == "" {
		return nil, &chat.ValidationError{Reason: "user id is required"}
	}
	if len(tags) == 0 {
		return nil, &chat.ValidationError{Reason: "an interest set is required for matching"}
	}

	m.mu.Lock()
	candidates := m.pool.Snapshot(userID, tags)
	if len(candidates) == 0 {
		m.mu.Unlock()
		metrics.MatchMissesTotal.WithLabelValues("group").Inc()
		return nil, ErrNoMatch
	}

	count := MaxGroupSize - 1
	if len(candidates) < count {
		count = len(candidates)
	}

	participants := make([]string, 0, count+1)
	participants = append(participants, userID)
	for _, idx := range m.rng.Perm(len(candidates))[:count] {
		participants = append(participants, candidates[idx].UserID)
	}

	for _, id := range participants {
		m.pool.Leave(id)
	}

	// Matched interests follow the pair rule applied to the first drawn
	// member, mirroring how group topics are seeded.
	first := participants[1]
	var firstTags []string
	for _, c := range candidates {
		if c.UserID == first {
			firstTags = c.Interests
			break
		}
	}
	m.mu.Unlock()

	shared := livepool.Intersect(tags, firstTags)
	session, err := m.store.CreateFromMatch(ctx, participants, shared, true)
	if err != nil {
		return nil, fmt.Errorf("match: create group session: %w", err)
	}

	metrics.MatchesTotal.WithLabelValues("group").Inc()
	log.Printf("[match] group formed session=%s requester=%s size=%d shared=%v",
		session.ID, userID, len(participants), shared)
	return session, nil
}
