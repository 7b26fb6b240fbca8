// Package chat provides the durable store for chat sessions and their
// ordered message logs, backed by PostgreSQL. Sessions are created by direct
// request (personal, manual group) or by the matchmaker (random pair/group);
// they are mutated only by message appends and are never deleted here.
package chat

import (
	"sort"
	"strings"
	"time"
)

// Participant and group limits, matching the product rules: a group holds
// the creator plus up to MaxGroupMembers others.
const (
	MaxParticipants = 250
	MaxGroupMembers = MaxParticipants - 1

	// DefaultGroupName is used when a group is created without a name.
	DefaultGroupName = "Unnamed Group"
)

// Kind discriminates message payloads.
type Kind string

const (
	KindText  Kind = "text"
	KindMedia Kind = "media"
	KindPoll  Kind = "poll"
)

// ValidKind reports whether k is a known message kind.
func ValidKind(k Kind) bool {
	switch k {
	case KindText, KindMedia, KindPoll:
		return true
	}
	return false
}

// Session is a chat conversation record.
type Session struct {
	ID               string    `json:"id"`
	Participants     []string  `json:"participants"`
	IsGroup          bool      `json:"is_group"`
	GroupName        string    `json:"group_name,omitempty"`
	IsRandom         bool      `json:"is_random"`
	MatchedInterests []string  `json:"matched_interests,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// HasParticipant reports whether userID is part of the session.
func (s *Session) HasParticipant(userID string) bool {
	for _, p := range s.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Message is one immutable entry in a session's append-only log. Seq is the
// store-assigned position; history ordering is by Seq ascending.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body,omitempty"`
	MediaRef  string    `json:"media_ref,omitempty"`
	Kind      Kind      `json:"kind"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage is the caller-supplied part of a message append.
type NewMessage struct {
	Sender   string
	Body     string
	MediaRef string
	Kind     Kind
}

// PairKey derives the idempotency key for a personal session: the two user
// IDs in sorted order. The same unordered pair always yields the same key.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}
