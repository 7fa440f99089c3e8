//go:build !linux && !windows

package adapter

import (
	"sync"

	"golang.org/x/sys/unix"
)

// pollPoller is the portable (non-Linux, non-Windows) backend, built on
// POSIX poll(2) instead of epoll. It is the kqueue-equivalent fallback
// spec §4.3 allows ("epoll/kqueue/IOCP equivalent"); a self-pipe stands in
// for the eventfd wakeup used on Linux.
type pollPoller struct {
	mu     sync.Mutex
	kinds  map[int]Kind
	closed bool

	wakeR, wakeW int
}

func newPoller() (poller, error) {
	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		return nil, err
	}
	return &pollPoller{kinds: make(map[int]Kind), wakeR: fds[0], wakeW: fds[1]}, nil
}

func (p *pollPoller) register(fd int, kind Kind) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kinds[fd] = kind
	return nil
}

func (p *pollPoller) modify(fd int, kind Kind) error {
	return p.register(fd, kind)
}

func (p *pollPoller) unregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.kinds, fd)
	return nil
}

func kindToPollEvents(k Kind) int16 {
	var ev int16
	if k == KindRead || k == KindReadWrite {
		ev |= unix.POLLIN
	}
	if k == KindWrite || k == KindReadWrite {
		ev |= unix.POLLOUT
	}
	return ev
}

func (p *pollPoller) snapshot() []unix.PollFd {
	p.mu.Lock()
	defer p.mu.Unlock()
	pfds := make([]unix.PollFd, 0, len(p.kinds)+1)
	pfds = append(pfds, unix.PollFd{Fd: int32(p.wakeR), Events: unix.POLLIN})
	for fd, k := range p.kinds {
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: kindToPollEvents(k)})
	}
	return pfds
}

func (p *pollPoller) run(onReady func(fd int, readable, writable bool)) {
	for {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return
		}

		pfds := p.snapshot()
		n, err := unix.Poll(pfds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if n == 0 {
			continue
		}

		if pfds[0].Revents&unix.POLLIN != 0 {
			p.drainWake()
			p.mu.Lock()
			closed := p.closed
			p.mu.Unlock()
			if closed {
				return
			}
		}
		for _, pfd := range pfds[1:] {
			if pfd.Revents == 0 {
				continue
			}
			readable := pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0
			writable := pfd.Revents&(unix.POLLOUT|unix.POLLERR) != 0
			onReady(int(pfd.Fd), readable, writable)
		}
	}
}

func (p *pollPoller) drainWake() {
	var buf [64]byte
	for {
		_, err := unix.Read(p.wakeR, buf[:])
		if err != nil {
			return
		}
	}
}

func (p *pollPoller) close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	_, _ = unix.Write(p.wakeW, []byte{1})
	_ = unix.Close(p.wakeW)
	return unix.Close(p.wakeR)
}
