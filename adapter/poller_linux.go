//go:build linux

package adapter

import (
	"sync"

	"golang.org/x/sys/unix"
)

// epollPoller is the Linux epoll backend for C3, grounded on the pack's
// own epoll wiring (joeycumines-go-utilpkg/eventloop's poller_linux.go and
// wakeup_linux.go): an epoll instance plus an eventfd used purely to wake
// EpollWait for shutdown (spec §4.3's "internal self-pipe").
type epollPoller struct {
	epfd int

	wakeFD int

	mu     sync.Mutex
	closed bool
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakeFD),
	}); err != nil {
		_ = unix.Close(wakeFD)
		_ = unix.Close(epfd)
		return nil, err
	}
	return &epollPoller{epfd: epfd, wakeFD: wakeFD}, nil
}

func kindToEpoll(k Kind) uint32 {
	var ev uint32
	switch k {
	case KindRead:
		ev = unix.EPOLLIN
	case KindWrite:
		ev = unix.EPOLLOUT
	case KindReadWrite:
		ev = unix.EPOLLIN | unix.EPOLLOUT
	}
	return ev
}

func (p *epollPoller) register(fd int, kind Kind) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: kindToEpoll(kind),
		Fd:     int32(fd),
	})
}

func (p *epollPoller) modify(fd int, kind Kind) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: kindToEpoll(kind),
		Fd:     int32(fd),
	})
}

func (p *epollPoller) unregister(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (p *epollPoller) run(onReady func(fd int, readable, writable bool)) {
	events := make([]unix.EpollEvent, 256)
	for {
		n, err := unix.EpollWait(p.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == p.wakeFD {
				p.drainWake()
				p.mu.Lock()
				closed := p.closed
				p.mu.Unlock()
				if closed {
					return
				}
				continue
			}
			flags := events[i].Events
			readable := flags&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0
			writable := flags&(unix.EPOLLOUT|unix.EPOLLERR) != 0
			onReady(fd, readable, writable)
		}
	}
}

func (p *epollPoller) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(p.wakeFD, buf[:])
		if err != nil {
			return
		}
	}
}

func (p *epollPoller) close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var one [8]byte
	one[0] = 1
	_, _ = unix.Write(p.wakeFD, one[:])

	_ = unix.Close(p.wakeFD)
	return unix.Close(p.epfd)
}
