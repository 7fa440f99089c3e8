package pool

import "sync"

// worker runs one callback at a time and is returned to the pool when done.
type worker struct{}

func (w *worker) run(job func()) {
	job()
}

// Dispatcher runs submitted callbacks on goroutines, each borrowing a worker
// from its pool for the callback's duration (mirrors the teacher's
// dispatcher.go, generalized from Task[R] execution to running arbitrary
// event-loop callbacks). Submit never blocks: it starts one goroutine per
// job, and neither pool kind limits how many jobs run at once.
type Dispatcher struct {
	pool     Pool
	inflight sync.WaitGroup
}

// NewDispatcher wraps p as a Dispatcher.
func NewDispatcher(p Pool) *Dispatcher {
	return &Dispatcher{pool: p}
}

// NewFixedDispatcher returns a Dispatcher backed by a fixed-size worker pool.
func NewFixedDispatcher(capacity uint) *Dispatcher {
	return NewDispatcher(NewFixed(capacity, func() interface{} { return &worker{} }))
}

// NewDynamicDispatcher returns a Dispatcher backed by an unbounded pool.
func NewDynamicDispatcher() *Dispatcher {
	return NewDispatcher(NewDynamic(func() interface{} { return &worker{} }))
}

// Submit runs job on a pool worker goroutine and returns immediately.
func (d *Dispatcher) Submit(job func()) {
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		w := d.pool.Get().(*worker)
		w.run(job)
		d.pool.Put(w)
	}()
}

// Wait blocks until every submitted job has returned. Used during adapter
// shutdown to avoid closing channel state out from under a running
// callback.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}
