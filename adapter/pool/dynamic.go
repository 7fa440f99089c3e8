package pool

import "sync"

// NewDynamic is an unbounded pool, a thin wrapper over sync.Pool: workers
// are created on demand and discarded under memory pressure rather than
// kept forever.
func NewDynamic(newFn func() interface{}) Pool {
	return &sync.Pool{New: newFn}
}
