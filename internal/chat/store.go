package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code raised when an insert hits
// the sorted-pair unique index.
const uniqueViolation = "23505"

// Store persists sessions and messages in PostgreSQL.
//
// Concurrency discipline: personal-session creation serializes on a lock
// keyed by the sorted pair (the unique index is a backstop for multi-process
// deployments), and message appends serialize on a lock keyed by session ID
// so each session has a single logical writer. Operations on distinct
// sessions run fully concurrently.
type Store struct {
	db           *sql.DB
	pairLocks    stripedMutex
	sessionLocks stripedMutex
}

// NewStore creates a Store on an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreatePersonal returns the personal session between the unordered pair
// {userA, userB}, creating it if absent. Repeated and concurrent calls for
// the same pair return the same session; a lost insert race resolves to the
// winner's row instead of surfacing a conflict.
func (s *Store) CreatePersonal(ctx context.Context, userA, userB string) (*Session, error) {
	if userA == "" || userB == "" {
		return nil, validationf("both participant ids are required")
	}
	if userA == userB {
		return nil, validationf("a personal chat needs two distinct users")
	}

	key := PairKey(userA, userB)
	mu := s.pairLocks.lock(key)
	defer mu.Unlock()

	existing, err := s.getByPairKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	session := &Session{
		ID:           uuid.New().String(),
		Participants: []string{userA, userB},
	}
	err = s.insertSession(ctx, session, key)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			// Another process won the insert; return its row.
			return s.getByPairKey(ctx, key)
		}
		return nil, err
	}
	return session, nil
}

// CreateGroup creates a manual group session with the creator as the first
// participant. Duplicate member ids (including the creator) are dropped.
func (s *Store) CreateGroup(ctx context.Context, creatorID string, memberIDs []string, name string, tags []string) (*Session, error) {
	if creatorID == "" {
		return nil, validationf("creator id is required")
	}
	if len(memberIDs) == 0 {
		return nil, validationf("at least one member id is required")
	}
	if len(memberIDs) > MaxGroupMembers {
		return nil, validationf("a group holds the creator plus at most %d members", MaxGroupMembers)
	}

	participants := dedupe(append([]string{creatorID}, memberIDs...))
	if len(participants) < 2 {
		return nil, validationf("a group needs at least two distinct participants")
	}
	if name == "" {
		name = DefaultGroupName
	}

	session := &Session{
		ID:               uuid.New().String(),
		Participants:     participants,
		IsGroup:          true,
		GroupName:        name,
		MatchedInterests: tags,
	}
	if err := s.insertSession(ctx, session, ""); err != nil {
		return nil, err
	}
	return session, nil
}

// CreateFromMatch materializes a session produced by the matchmaker.
func (s *Store) CreateFromMatch(ctx context.Context, participants []string, tags []string, isGroup bool) (*Session, error) {
	if len(participants) < 2 {
		return nil, validationf("a match needs at least two participants")
	}
	if !isGroup && len(participants) != 2 {
		return nil, validationf("a pair match holds exactly two participants")
	}
	if len(participants) > MaxParticipants {
		return nil, validationf("participant count exceeds %d", MaxParticipants)
	}

	session := &Session{
		ID:               uuid.New().String(),
		Participants:     dedupe(participants),
		IsGroup:          isGroup,
		IsRandom:         true,
		MatchedInterests: tags,
	}
	if err := s.insertSession(ctx, session, ""); err != nil {
		return nil, err
	}
	return session, nil
}

// Get retrieves a session by id. Returns ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	const query = `
		SELECT id, participants, is_group, COALESCE(group_name, ''), is_random, matched_interests, created_at
		FROM chat_sessions
		WHERE id = $1`

	var sess Session
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&sess.ID,
		pq.Array(&sess.Participants),
		&sess.IsGroup,
		&sess.GroupName,
		&sess.IsRandom,
		pq.Array(&sess.MatchedInterests),
		&sess.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chat: get session: %w", err)
	}
	return &sess, nil
}

// Append stores a message at the end of the session's log and returns it
// with its assigned position. Appends for one session are totally ordered by
// the per-session lock; appends to distinct sessions do not contend.
func (s *Store) Append(ctx context.Context, sessionID string, msg NewMessage) (*Message, error) {
	if msg.Sender == "" {
		return nil, validationf("sender is required")
	}
	if msg.Kind == "" {
		msg.Kind = KindText
	}
	if !ValidKind(msg.Kind) {
		return nil, validationf("unknown message kind %q", msg.Kind)
	}
	if msg.Body == "" && msg.MediaRef == "" {
		return nil, validationf("a message needs a body or a media reference")
	}

	mu := s.sessionLocks.lock(sessionID)
	defer mu.Unlock()

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.HasParticipant(msg.Sender) {
		return nil, validationf("sender %s is not a participant", msg.Sender)
	}

	const query = `
		INSERT INTO chat_messages (id, session_id, sender, body, media_ref, kind)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq, created_at`

	stored := &Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Sender:    msg.Sender,
		Body:      msg.Body,
		MediaRef:  msg.MediaRef,
		Kind:      msg.Kind,
	}
	err = s.db.QueryRowContext(ctx, query,
		stored.ID, sessionID, stored.Sender, stored.Body, stored.MediaRef, string(stored.Kind),
	).Scan(&stored.Seq, &stored.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("chat: append message: %w", err)
	}
	return stored, nil
}

// History returns the session together with one page of its messages in
// append order, oldest first. Pages are 1-based; pageSize is clamped to
// [1, 200]. The session is loaded once and returned so callers that need
// its metadata do not fetch it twice.
func (s *Store) History(ctx context.Context, sessionID string, page, pageSize int) (*Session, []Message, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	// Distinguish an empty page from a missing session.
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	const query = `
		SELECT id, session_id, sender, body, media_ref, kind, seq, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY seq ASC
		LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, query, sessionID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, nil, fmt.Errorf("chat: history: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, pageSize)
	for rows.Next() {
		var m Message
		var kind string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Sender, &m.Body, &m.MediaRef, &kind, &m.Seq, &m.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("chat: history scan: %w", err)
		}
		m.Kind = Kind(kind)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("chat: history rows: %w", err)
	}
	return sess, messages, nil
}

func (s *Store) getByPairKey(ctx context.Context, key string) (*Session, error) {
	const query = `
		SELECT id, participants, is_group, COALESCE(group_name, ''), is_random, matched_interests, created_at
		FROM chat_sessions
		WHERE pair_key = $1`

	var sess Session
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&sess.ID,
		pq.Array(&sess.Participants),
		&sess.IsGroup,
		&sess.GroupName,
		&sess.IsRandom,
		pq.Array(&sess.MatchedInterests),
		&sess.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chat: get by pair key: %w", err)
	}
	return &sess, nil
}

func (s *Store) insertSession(ctx context.Context, sess *Session, pairKey string) error {
	const query = `
		INSERT INTO chat_sessions (id, participants, pair_key, is_group, group_name, is_random, matched_interests)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6, $7)
		RETURNING created_at`

	tags := sess.MatchedInterests
	if tags == nil {
		tags = []string{}
	}
	err := s.db.QueryRowContext(ctx, query,
		sess.ID,
		pq.Array(sess.Participants),
		pairKey,
		sess.IsGroup,
		sess.GroupName,
		sess.IsRandom,
		pq.Array(tags),
	).Scan(&sess.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return err
		}
		return fmt.Errorf("chat: insert session: %w", err)
	}
	// Normalize: a freshly inserted row's timestamp comes back in the DB's
	// location; keep comparisons stable for callers.
	sess.CreatedAt = sess.CreatedAt.In(time.UTC)
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
