package relay

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/linkup/social-core/internal/chat"
	"github.com/linkup/social-core/internal/presence"
)

type fakeHandle struct {
	frames  [][]byte
	sendErr error
}

func (f *fakeHandle) Send(data []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeHandle) Close() error { return nil }

type fakeResolver struct {
	handles map[string]*fakeHandle
}

func (f *fakeResolver) Resolve(userID string) (presence.Handle, bool) {
	h, ok := f.handles[userID]
	if !ok {
		return nil, false
	}
	return h, true
}

type fakeNotifier struct {
	notified []string
}

func (f *fakeNotifier) PublishPushNotify(userID string, data []byte) error {
	f.notified = append(f.notified, userID)
	return nil
}

func testMessage(sessionID string) *chat.Message {
	return &chat.Message{
		ID:        "msg-1",
		SessionID: sessionID,
		Sender:    "alice",
		Body:      "hello",
		Kind:      chat.KindText,
		Seq:       7,
		CreatedAt: time.Now(),
	}
}

// ---------------------------------------------------------------------------
// Test: connected participants get the frame, the sender does not
// ---------------------------------------------------------------------------

func TestDeliverSkipsSender(t *testing.T) {
	aliceConn := &fakeHandle{}
	bobConn := &fakeHandle{}
	resolver := &fakeResolver{handles: map[string]*fakeHandle{
		"alice": aliceConn,
		"bob":   bobConn,
	}}

	r := New(resolver, nil)
	session := &chat.Session{ID: "s1", Participants: []string{"alice", "bob"}}

	notified := r.Deliver(session, testMessage("s1"))

	if len(notified) != 1 || notified[0] != "bob" {
		t.Fatalf("expected [bob] notified, got %v", notified)
	}
	if len(aliceConn.frames) != 0 {
		t.Error("sender must not receive their own message")
	}
	if len(bobConn.frames) != 1 {
		t.Fatalf("expected 1 frame for bob, got %d", len(bobConn.frames))
	}

	var frame struct {
		Type      string `json:"type"`
		SessionID string `json:"session_id"`
		Sender    string `json:"sender"`
		Body      string `json:"body"`
		Seq       int64  `json:"seq"`
	}
	if err := json.Unmarshal(bobConn.frames[0], &frame); err != nil {
		t.Fatalf("frame not valid JSON: %v", err)
	}
	if frame.Type != "message_event" || frame.SessionID != "s1" || frame.Sender != "alice" {
		t.Errorf("unexpected frame: %+v", frame)
	}
	if frame.Body != "hello" || frame.Seq != 7 {
		t.Errorf("unexpected payload: %+v", frame)
	}
}

// ---------------------------------------------------------------------------
// Test: offline participants are handed to the notifier, not queued
// ---------------------------------------------------------------------------

func TestDeliverOfflineHandOff(t *testing.T) {
	resolver := &fakeResolver{handles: map[string]*fakeHandle{}}
	notifier := &fakeNotifier{}

	r := New(resolver, notifier)
	session := &chat.Session{ID: "s1", Participants: []string{"alice", "bob", "carol"}}

	notified := r.Deliver(session, testMessage("s1"))

	if len(notified) != 0 {
		t.Errorf("nobody is connected, got notified=%v", notified)
	}
	if len(notifier.notified) != 2 {
		t.Fatalf("expected 2 push hand-offs, got %v", notifier.notified)
	}
	for _, id := range notifier.notified {
		if id == "alice" {
			t.Error("sender must not be handed to push")
		}
	}
}

// ---------------------------------------------------------------------------
// Test: a failing connection is skipped without aborting the fan-out
// ---------------------------------------------------------------------------

func TestDeliverSkipsFailedSends(t *testing.T) {
	dead := &fakeHandle{sendErr: errors.New("broken pipe")}
	live := &fakeHandle{}
	resolver := &fakeResolver{handles: map[string]*fakeHandle{
		"bob":   dead,
		"carol": live,
	}}

	r := New(resolver, nil)
	session := &chat.Session{ID: "s1", Participants: []string{"alice", "bob", "carol"}}

	notified := r.Deliver(session, testMessage("s1"))

	if len(notified) != 1 || notified[0] != "carol" {
		t.Fatalf("expected [carol], got %v", notified)
	}
	if len(live.frames) != 1 {
		t.Errorf("carol should have received the frame")
	}
}
