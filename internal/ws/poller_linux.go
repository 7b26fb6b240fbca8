//go:build linux

package ws

import (
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// poller multiplexes read readiness for all live connections over a single
// epoll instance, so idle connections cost no goroutines. The server's
// event loop calls wait and hands ready connections to the worker pool.
type poller struct {
	epfd   int
	mu     sync.RWMutex
	conns  map[int]net.Conn
	events []unix.EpollEvent
}

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &poller{
		epfd:   epfd,
		conns:  make(map[int]net.Conn),
		events: make([]unix.EpollEvent, 128),
	}, nil
}

// add registers conn for read readiness notifications.
func (p *poller) add(conn net.Conn) error {
	fd := socketFD(conn)
	if fd < 0 {
		return syscall.EBADF
	}
	err := unix.EpollCtl(p.epfd, syscall.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLHUP,
		Fd:     int32(fd),
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.conns[fd] = conn
	p.mu.Unlock()
	return nil
}

// remove unregisters conn. Removing a connection whose descriptor already
// closed is tolerated; the kernel drops closed fds from the interest list
// on its own.
func (p *poller) remove(conn net.Conn) error {
	fd := socketFD(conn)

	p.mu.Lock()
	delete(p.conns, fd)
	p.mu.Unlock()

	if err := unix.EpollCtl(p.epfd, syscall.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.EBADF && err != unix.ENOENT {
		return err
	}
	return nil
}

// wait blocks until at least one registered connection is ready to read and
// returns them. EINTR is retried internally. Connections removed between
// epoll_wait returning and the lookup are skipped.
func (p *poller) wait() ([]net.Conn, error) {
	for {
		n, err := unix.EpollWait(p.epfd, p.events, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}

		p.mu.RLock()
		conns := make([]net.Conn, 0, n)
		for i := 0; i < n; i++ {
			if conn, ok := p.conns[int(p.events[i].Fd)]; ok {
				conns = append(conns, conn)
			}
		}
		p.mu.RUnlock()
		return conns, nil
	}
}

func (p *poller) close() error {
	return unix.Close(p.epfd)
}

// socketFD extracts the file descriptor from a net.Conn via its SyscallConn.
// Returns -1 for connection types that expose no descriptor.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	_ = raw.Control(func(f uintptr) {
		fd = int(f)
	})
	return fd
}
