// Package request implements the work-request registry shared by every
// channel in the process (spec §4.1, component C1): unique id allocation,
// progress accounting, and wait/notify for each pending send or receive.
package request

import (
	"sync"
	"sync/atomic"

	"github.com/rdcgo/rdc/buffer"
)

// Direction distinguishes a send request from a receive request.
type Direction int

const (
	Send Direction = iota
	Recv
)

// Status is the lifecycle state of a Request (spec §3).
type Status int32

const (
	Pending Status = iota
	Running
	Finished
	Canceled
	Closed
	Error
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Canceled:
		return "canceled"
	case Closed:
		return "closed"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is one of the statuses a Request never leaves
// once reached (spec §3's "once terminal, status never changes").
func (s Status) Terminal() bool {
	switch s {
	case Finished, Canceled, Closed, Error:
		return true
	default:
		return false
	}
}

// Request is a single in-flight send or recv, identified by a process-local
// id. All fields besides the embedded atomics are set once at construction
// and never mutated afterwards, so reads from any goroutine are safe.
type Request struct {
	id    uint64
	dir   Direction
	buf   buffer.Buffer
	total int64
	extra interface{}

	processed atomic.Int64
	status    atomic.Int32

	done     chan struct{}
	doneOnce sync.Once
}

// ID returns the request's process-local unique id.
func (r *Request) ID() uint64 { return r.id }

// Direction returns whether this is a send or recv request.
func (r *Request) Direction() Direction { return r.dir }

// Buffer returns the buffer backing this request.
func (r *Request) Buffer() buffer.Buffer { return r.buf }

// Total returns the declared total byte count for this request.
func (r *Request) Total() int64 { return r.total }

// Extra returns the opaque extra data attached at creation (e.g. the peer
// rank or a correlation id used for logging).
func (r *Request) Extra() interface{} { return r.extra }

// Processed returns the number of bytes processed so far.
func (r *Request) Processed() int64 { return r.processed.Load() }

// Status returns the current status, observed with acquire semantics: a
// Finished read here happens-after the write that produced it, so the
// caller may safely read the buffer's final contents (spec §4.1).
func (r *Request) Status() Status { return Status(r.status.Load()) }

// setStatus transitions to s, posting the completion signal exactly once
// if s is terminal. It is a no-op if the request is already terminal,
// honoring "once terminal, status never changes" (spec §3).
func (r *Request) setStatus(s Status) {
	for {
		cur := Status(r.status.Load())
		if cur.Terminal() {
			return
		}
		if r.status.CompareAndSwap(int32(cur), int32(s)) {
			break
		}
	}
	if s.Terminal() {
		r.notify()
	}
}

// addBytes accumulates n processed bytes and, if the running total now
// equals Total, transitions to Finished. It reports whether this call
// finished the request.
func (r *Request) addBytes(n int) bool {
	total := r.processed.Add(int64(n))
	if total > r.total {
		// A buggy caller declared less than it actually transferred;
		// this is a programming error in the channel layer, not a
		// recoverable I/O condition.
		panic("request: processed bytes exceed declared total")
	}
	if total == r.total {
		r.setStatus(Finished)
		return true
	}
	return false
}

func (r *Request) notify() {
	r.doneOnce.Do(func() { close(r.done) })
}

// wait blocks until the request reaches a terminal status. It returns
// immediately if the status is already terminal.
func (r *Request) wait() {
	if Status(r.status.Load()).Terminal() {
		return
	}
	<-r.done
}
