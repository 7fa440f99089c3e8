package adapter

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rdcgo/rdc/adapter/pool"
	"github.com/rdcgo/rdc/metrics"
)

// fdState is one registered descriptor's bookkeeping: its handler, the
// interest its channel last set, and whether a readiness callback for it is
// currently running on the pool.
type fdState struct {
	h    Handler
	kind Kind
	busy bool
}

// tcpAdapter is the TCP backend's Adapter: one poller goroutine, one
// mutex-protected descriptor map, and a worker pool that runs readiness
// callbacks off the poller goroutine (spec §4.3).
type tcpAdapter struct {
	poller   poller
	dispatch *pool.Dispatcher

	mu     sync.Mutex
	states map[int]*fdState

	dispatched metrics.Counter

	closeOnce sync.Once
}

func newTCPAdapter(dispatchCapacity uint, mp metrics.Provider) (Adapter, error) {
	p, err := newPoller()
	if err != nil {
		return nil, fmt.Errorf("adapter: create poller: %w", err)
	}
	var d *pool.Dispatcher
	if dispatchCapacity == 0 {
		d = pool.NewDynamicDispatcher()
	} else {
		d = pool.NewFixedDispatcher(dispatchCapacity)
	}
	a := &tcpAdapter{
		poller:   p,
		dispatch: d,
		states:   make(map[int]*fdState),
		dispatched: mp.Counter(
			"rdc.adapter.dispatched",
			metrics.WithDescription("readiness callbacks submitted to the worker pool"),
		),
	}
	go a.poller.run(a.onReady)
	return a, nil
}

// onReady clears the descriptor's interest in the poller before handing
// its callbacks to the pool and re-arms it when they return, emulating
// edge-triggered semantics on the level-triggered primitives (spec §4.3:
// "only after temporarily clearing that event from interest"). The busy
// flag keeps a second readiness report from dispatching callbacks against
// queues a running callback is already draining; the map mutex is released
// before any I/O runs ("on_read/on_write must not hold the mutex for the
// duration of I/O").
func (a *tcpAdapter) onReady(fd int, readable, writable bool) {
	a.mu.Lock()
	s := a.states[fd]
	if s == nil || s.busy {
		a.mu.Unlock()
		return
	}
	s.busy = true
	_ = a.poller.modify(fd, KindNone)
	h := s.h
	a.mu.Unlock()

	a.dispatched.Add(1)
	a.dispatch.Submit(func() {
		if readable {
			h.OnReadable()
		}
		if writable {
			h.OnWritable()
		}
		a.rearm(fd)
	})
}

// rearm restores the interest the channel last registered, picking up any
// Modify that arrived while the callback ran.
func (a *tcpAdapter) rearm(fd int) {
	a.mu.Lock()
	if s := a.states[fd]; s != nil {
		s.busy = false
		_ = a.poller.modify(fd, s.kind)
	}
	a.mu.Unlock()
}

func (a *tcpAdapter) Register(h Handler, kind Kind) error {
	a.mu.Lock()
	a.states[h.FD()] = &fdState{h: h, kind: kind}
	a.mu.Unlock()
	return a.poller.register(h.FD(), kind)
}

func (a *tcpAdapter) Modify(h Handler, kind Kind) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.states[h.FD()]
	if s == nil {
		return fmt.Errorf("adapter: modify on unregistered fd %d", h.FD())
	}
	s.kind = kind
	if s.busy {
		// Interest is cleared while callbacks run; rearm applies the
		// latest kind when they return.
		return nil
	}
	return a.poller.modify(h.FD(), kind)
}

func (a *tcpAdapter) Unregister(fd int) error {
	a.mu.Lock()
	delete(a.states, fd)
	a.mu.Unlock()
	return a.poller.unregister(fd)
}

func (a *tcpAdapter) Listen(ctx context.Context, port int) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	return ln, nil
}

func (a *tcpAdapter) Dial(ctx context.Context, host string, port int) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
}

func (a *tcpAdapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		err = a.poller.close()
		a.dispatch.Wait()
	})
	return err
}
