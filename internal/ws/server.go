// Package ws handles the persistent connection side of the service:
// upgrading authenticated HTTP requests to WebSocket, registering the
// resulting connections with the presence registry, and reading frames via
// an epoll-driven event loop with a bounded worker pool.
package ws

import (
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/linkup/social-core/internal/auth"
	"github.com/linkup/social-core/internal/presence"
	"github.com/linkup/social-core/internal/protocol"
	"github.com/linkup/social-core/internal/ratelimit"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	WorkerPoolSize int           // max concurrent read workers
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // per-frame read deadline
	WriteTimeout   time.Duration // reserved for slow-writer handling
	MaxFrameSize   int64         // largest accepted client frame payload
}

// DefaultServerConfig returns production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxFrameSize:   1 << 20,
	}
}

// Server owns the live connections. The handshake authenticates the bearer
// credential before any registry mutation; an invalid credential refuses
// the connection outright. Admission goes through the presence registry, so
// a reconnecting user's previous handle is terminated before the new one is
// installed.
type Server struct {
	config   ServerConfig
	poller   *poller
	table    *connTable
	registry *presence.Registry
	verifier auth.Verifier
	limiter  *ratelimit.Limiter // optional

	onMessage    func(c *Connection, data []byte)
	onDisconnect func(userID string)
	onActivity   func(userID string)

	workerPool chan struct{}
	done       chan struct{}
}

// NewServer creates a Server. onMessage is invoked from a worker goroutine
// for every complete data frame.
func NewServer(config ServerConfig, registry *presence.Registry, verifier auth.Verifier, onMessage func(c *Connection, data []byte)) *Server {
	if config.MaxFrameSize <= 0 {
		config.MaxFrameSize = DefaultServerConfig().MaxFrameSize
	}
	return &Server{
		config:     config,
		table:      newConnTable(),
		registry:   registry,
		verifier:   verifier,
		onMessage:  onMessage,
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		done:       make(chan struct{}),
	}
}

// SetLimiter enables per-user connect throttling.
func (s *Server) SetLimiter(l *ratelimit.Limiter) {
	s.limiter = l
}

// SetOnDisconnect registers a callback invoked when a user's registered
// connection goes away (read error, heartbeat timeout, or close frame). It
// does not fire when a connection is displaced by a newer admit for the
// same user, since the user is still connected then.
func (s *Server) SetOnDisconnect(fn func(userID string)) {
	s.onDisconnect = fn
}

// SetOnActivity registers a callback invoked whenever a connection shows
// read activity, including protocol-level pings. Used to keep liveness
// tracking elsewhere in step with the socket.
func (s *Server) SetOnActivity(fn func(userID string)) {
	s.onActivity = fn
}

// Start creates the poller and launches the event loop and heartbeat.
func (s *Server) Start() error {
	p, err := newPoller()
	if err != nil {
		return err
	}
	s.poller = p

	go s.eventLoop()
	StartHeartbeat(s, DefaultHeartbeatConfig())

	log.Printf("[ws] server started (workers=%d, max_conns=%d)",
		s.config.WorkerPoolSize, s.config.MaxConnections)
	return nil
}

// Stop closes the poller and stops background loops. Live connections are
// closed by their owners (registry eviction or process exit).
func (s *Server) Stop() {
	close(s.done)
	if s.poller != nil {
		_ = s.poller.close()
	}
}

// Count returns the number of live connections.
func (s *Server) Count() int {
	return s.table.count()
}

// HandleUpgrade is the HTTP handler for the connection endpoint. It
// validates the bearer credential, upgrades the connection, and admits it
// into the presence registry, evicting any prior connection for the user.
func (s *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.table.count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	userID, err := s.verifier.Verify(bearerCredential(r))
	if err != nil {
		http.Error(w, "invalid credential", http.StatusUnauthorized)
		return
	}

	if s.limiter != nil {
		if ok, _ := s.limiter.Allow(r.Context(), userID, ratelimit.RuleConnect); !ok {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("[ws] upgrade failed user=%s: %v", userID, err)
		return
	}

	c := &Connection{
		UserID:   userID,
		Conn:     conn,
		JoinedAt: time.Now(),
	}
	c.touchActivity()

	s.table.add(c)
	// Admit closes any prior connection for this user; its read path then
	// fails and cleans the displaced entry out of the table and poller.
	s.registry.Admit(userID, c)

	if err := s.poller.add(conn); err != nil {
		log.Printf("[ws] poller add failed user=%s: %v", userID, err)
		s.removeConnection(c)
		return
	}

	if frame, err := protocol.NewServerMessage(protocol.TypeConnected, protocol.ConnectedMsg{UserID: userID}); err == nil {
		if err := c.Send(frame); err != nil {
			log.Printf("[ws] send connected user=%s: %v", userID, err)
		}
	}

	log.Printf("[ws] connected user=%s (total=%d)", userID, s.table.count())
}

// eventLoop waits for read readiness and hands ready connections to the
// bounded worker pool.
func (s *Server) eventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.poller.wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Printf("[ws] poll wait: %v", err)
				continue
			}
		}

		for _, conn := range conns {
			conn := conn

			s.workerPool <- struct{}{}
			go func() {
				defer func() { <-s.workerPool }()
				s.readFrame(conn)
			}()
		}
	}
}

// readFrame reads one WebSocket frame from a ready connection. Control
// frames are handled inline; data frames go to onMessage. Read failures
// tear the connection down.
func (s *Server) readFrame(netConn net.Conn) {
	c := s.table.get(netConn)
	if c == nil {
		return
	}

	// Level-triggered readiness can dispatch the same connection twice.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A timeout means a stale readiness dispatch, not a dead peer;
		// the heartbeat owns dead-connection detection.
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return
		}
		s.removeConnection(c)
		return
	}
	_ = netConn.SetReadDeadline(time.Time{})

	c.touchActivity()
	if s.onActivity != nil {
		s.onActivity(c.UserID)
	}

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.removeConnection(c)
		}
		return
	}

	if header.Length > s.config.MaxFrameSize {
		log.Printf("[ws] oversized frame user=%s len=%d max=%d", c.UserID, header.Length, s.config.MaxFrameSize)
		s.removeConnection(c)
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.removeConnection(c)
			return
		}
	}
	if len(data) == 0 {
		return
	}

	if s.onMessage != nil {
		s.onMessage(c, data)
	}
}

// removeConnection tears a connection down: poller, table, registry, and
// finally the socket. The table removal is the winner-picking guard when
// cleanup paths race. The disconnect callback fires only if this handle was
// still the user's registered one; a displaced handle cleans up silently.
func (s *Server) removeConnection(c *Connection) {
	_ = s.poller.remove(c.Conn)

	if !s.table.remove(c) {
		return
	}

	released := s.registry.Release(c.UserID, c)
	_ = c.Close()

	if released {
		log.Printf("[ws] disconnected user=%s (total=%d)", c.UserID, s.table.count())
		if s.onDisconnect != nil {
			s.onDisconnect(c.UserID)
		}
	}
}

// bearerCredential extracts the credential from the Authorization header or,
// for browser WebSocket clients that cannot set headers, the token query
// parameter.
func bearerCredential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimPrefix(h, "Bearer ")
		}
		return h
	}
	return r.URL.Query().Get("token")
}
