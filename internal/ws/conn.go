package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection is one authenticated WebSocket connection. It carries the user
// identity established at the handshake and a write mutex serializing
// outbound frames. It implements presence.Handle so the registry can push
// to and terminate it.
type Connection struct {
	UserID   string
	Conn     net.Conn
	JoinedAt time.Time

	// lastActive holds a UnixNano timestamp. The read workers store it and
	// the heartbeat sweeper loads it, so it must be atomic.
	lastActive atomic.Int64

	writeMu    sync.Mutex
	processing int32 // atomic flag: 1 while a worker is reading this conn
}

// touchActivity records the current time as the connection's last activity.
func (c *Connection) touchActivity() {
	c.lastActive.Store(time.Now().UnixNano())
}

// lastActiveAt returns the time of the most recent read activity.
func (c *Connection) lastActiveAt() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// Send writes a WebSocket text frame to the peer. The write mutex ensures
// concurrent goroutines do not interleave frame bytes.
func (c *Connection) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a protocol-level ping frame (opcode 0x9), which browsers
// answer automatically with a pong.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close terminates the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// connTable maps raw network connections back to their Connection wrapper.
// The poller reports readiness in terms of net.Conn; this is the reverse
// lookup the read path needs. Keyed by the net.Conn itself so it works for
// both the epoll and the fallback poller.
type connTable struct {
	mu    sync.RWMutex
	conns map[net.Conn]*Connection
}

func newConnTable() *connTable {
	return &connTable{conns: make(map[net.Conn]*Connection)}
}

func (t *connTable) add(c *Connection) {
	t.mu.Lock()
	t.conns[c.Conn] = c
	t.mu.Unlock()
}

// remove deletes the entry and reports whether it was present, so racing
// cleanup paths (read error vs heartbeat timeout) settle on one winner.
func (t *connTable) remove(c *Connection) bool {
	t.mu.Lock()
	_, ok := t.conns[c.Conn]
	if ok {
		delete(t.conns, c.Conn)
	}
	t.mu.Unlock()
	return ok
}

func (t *connTable) get(conn net.Conn) *Connection {
	t.mu.RLock()
	c := t.conns[conn]
	t.mu.RUnlock()
	return c
}

func (t *connTable) all() []*Connection {
	t.mu.RLock()
	out := make([]*Connection, 0, len(t.conns))
	for _, c := range t.conns {
		out = append(out, c)
	}
	t.mu.RUnlock()
	return out
}

func (t *connTable) count() int {
	t.mu.RLock()
	n := len(t.conns)
	t.mu.RUnlock()
	return n
}
