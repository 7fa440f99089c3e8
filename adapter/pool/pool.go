// Package pool provides the worker pool that runs event-loop callbacks off
// the poller goroutine (spec §4.3: "the dispatched callback is run on a
// worker-pool thread"). Adapted from the teacher's generic task-executor
// pool (pool/fixed.go, pool/dynamic.go), here holding reusable *worker
// values instead of arbitrary task workers.
package pool

// Pool hands out and reclaims workers. Get may allocate a new worker when
// the pool is not yet at capacity (or, for a dynamic pool, whenever none is
// idle); Put returns one for reuse.
type Pool interface {
	Get() interface{}
	Put(interface{})
}

// NewFixed returns a pool that creates at most capacity workers, backed by
// buffered channels. Get never blocks: once capacity workers exist and none
// is idle, it hands out one of them again, even if that worker is still in
// use, so the pool does not bound how many callers hold a worker at once.
func NewFixed(capacity uint, newFn func() interface{}) Pool {
	return &fixed{
		available: make(chan interface{}, capacity),
		all:       make(chan interface{}, capacity),
		buf:       make(chan interface{}, 1024),
		newFn:     newFn,
	}
}

type fixed struct {
	available chan interface{}
	all       chan interface{}
	buf       chan interface{}
	newFn     func() interface{}
}

func (p *fixed) Get() interface{} {
	select {
	case el := <-p.available:
		return el

	case el := <-p.buf:
		return el

	default:
		var el interface{}

		if len(p.all) < cap(p.all) {
			el = p.newFn()
		} else {
			el = <-p.all
		}

		select {
		case p.all <- el:
		case p.buf <- el:
		default:
		}
		return el
	}
}

func (p *fixed) Put(el interface{}) {
	select {
	case p.available <- el:
	case p.all <- el:
	case p.buf <- el:
	default:
	}
}
