package messaging

import (
	"os"
	"sync/atomic"
	"testing"
	"time"
)

// newTestClient connects to a local NATS server, or skips the test when
// none is reachable. NATS_URL overrides the default address.
func newTestClient(t *testing.T) *Client {
	t.Helper()

	config := DefaultConfig()
	config.Name = "social-core-test"
	config.MaxReconnects = 0
	if url := os.Getenv("NATS_URL"); url != "" {
		config.URL = url
	}

	client, err := Connect(config)
	if err != nil {
		t.Skipf("NATS unavailable, skipping: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

// ---------------------------------------------------------------------------
// Test: re-subscribing the same key to a room keeps one subscription
// ---------------------------------------------------------------------------

func TestSubscribeRoomIdempotent(t *testing.T) {
	client := newTestClient(t)

	var delivered atomic.Int32
	handler := func(data []byte) { delivered.Add(1) }

	if err := client.SubscribeRoom("lobby", "alice", handler); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.SubscribeRoom("lobby", "alice", handler); err != nil {
		t.Fatalf("duplicate subscribe: %v", err)
	}

	if err := client.PublishRoom("lobby", []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := client.conn.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	if n := delivered.Load(); n != 1 {
		t.Errorf("expected 1 delivery, got %d", n)
	}

	client.mu.Lock()
	subs := len(client.subs)
	client.mu.Unlock()
	if subs != 1 {
		t.Errorf("expected 1 tracked subscription, got %d", subs)
	}
}

// ---------------------------------------------------------------------------
// Test: UnsubscribeAll drops every room the key follows
// ---------------------------------------------------------------------------

func TestUnsubscribeAll(t *testing.T) {
	client := newTestClient(t)

	var delivered atomic.Int32
	handler := func(data []byte) { delivered.Add(1) }

	for _, room := range []string{"lobby", "arcade"} {
		if err := client.SubscribeRoom(room, "alice", handler); err != nil {
			t.Fatalf("subscribe %s: %v", room, err)
		}
	}

	client.UnsubscribeAll("alice")

	client.mu.Lock()
	subs := len(client.subs)
	client.mu.Unlock()
	if subs != 0 {
		t.Fatalf("expected no tracked subscriptions, got %d", subs)
	}

	if err := client.PublishRoom("lobby", []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := client.conn.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	if n := delivered.Load(); n != 0 {
		t.Errorf("expected no deliveries after unsubscribe, got %d", n)
	}
}
