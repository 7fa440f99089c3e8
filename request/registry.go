package request

import (
	"sync"
	"sync/atomic"

	"github.com/rdcgo/rdc/buffer"
)

// Registry is the process-wide table of in-flight work requests (spec
// §4.1). All methods are safe for concurrent use; any thread may read or
// write any request.
//
// Wait/notify uses a per-request channel close rather than the
// condition-variable-backed semaphore the original implementation uses:
// closing a channel is Go's native one-shot broadcast primitive, so it
// already gives "post exactly once, wake every waiter" without reaching for
// a counting semaphore that would be the wrong tool for a single-shot
// signal.
type Registry struct {
	nextID atomic.Uint64

	mu   sync.RWMutex
	reqs map[uint64]*Request
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{reqs: make(map[uint64]*Request)}
}

// NewRequest allocates the next id, stores the request, and returns it.
func (g *Registry) NewRequest(dir Direction, buf buffer.Buffer, extra interface{}) *Request {
	id := g.nextID.Add(1)
	r := &Request{
		id:    id,
		dir:   dir,
		buf:   buf,
		total: int64(buf.Len()),
		extra: extra,
		done:  make(chan struct{}),
	}
	r.status.Store(int32(Pending))

	g.mu.Lock()
	g.reqs[id] = r
	g.mu.Unlock()
	return r
}

// Get returns the request for id, or nil if it is not (or no longer)
// registered.
func (g *Registry) Get(id uint64) *Request {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.reqs[id]
}

// Contains reports whether id is currently registered.
func (g *Registry) Contains(id uint64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.reqs[id]
	return ok
}

// AddBytes accumulates n processed bytes against id and reports whether
// the request is now Finished. It is a no-op (returns false) if id is not
// registered, which can happen after a request has been reaped.
func (g *Registry) AddBytes(id uint64, n int) bool {
	r := g.Get(id)
	if r == nil {
		return false
	}
	return r.addBytes(n)
}

// Status returns the current status of id, or Closed if id is not
// registered (it has already been reaped and torn down).
func (g *Registry) Status(id uint64) Status {
	r := g.Get(id)
	if r == nil {
		return Closed
	}
	return r.Status()
}

// SetStatus forces a status transition on id (used by the channel layer to
// fail queued requests on a socket error, spec §4.2).
func (g *Registry) SetStatus(id uint64, s Status) {
	if r := g.Get(id); r != nil {
		r.setStatus(s)
	}
}

// Wait blocks until id reaches a terminal status.
func (g *Registry) Wait(id uint64) {
	if r := g.Get(id); r != nil {
		r.wait()
	}
}

// Notify posts the completion signal for id without changing its status.
// Used when a status transition has already happened via SetStatus/AddBytes
// and only the wake-up needs repeating (defensive; normally unnecessary
// since both of those already notify).
func (g *Registry) Notify(id uint64) {
	if r := g.Get(id); r != nil {
		r.notify()
	}
}

// Reap removes id from the registry. Call only after the caller holding the
// corresponding Completion has observed a terminal status.
func (g *Registry) Reap(id uint64) {
	g.mu.Lock()
	delete(g.reqs, id)
	g.mu.Unlock()
}
