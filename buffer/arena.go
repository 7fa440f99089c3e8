package buffer

import "sync"

// Arena hands out scratch byte slices for the reduce buffers collectives
// allocate for the lifetime of a single call (spec §3's "Alloc/FreeTemp
// allocate scratch storage through an arena allocator"). It is a thin
// wrapper over sync.Pool, the same primitive the teacher's dynamic worker
// pool uses for reuse (pool/dynamic.go) — here pooling byte slices instead
// of worker objects.
type Arena struct {
	pools sync.Map // size class (int) -> *sync.Pool
}

// NewArena returns a ready-to-use Arena.
func NewArena() *Arena { return &Arena{} }

func sizeClass(n int) int {
	c := 4096
	for c < n {
		c *= 2
	}
	return c
}

func (a *Arena) poolFor(class int) *sync.Pool {
	if p, ok := a.pools.Load(class); ok {
		return p.(*sync.Pool)
	}
	p := &sync.Pool{New: func() interface{} {
		b := make([]byte, class)
		return &b
	}}
	actual, _ := a.pools.LoadOrStore(class, p)
	return actual.(*sync.Pool)
}

// AllocTemp returns a Buffer of exactly n bytes, possibly backed by a
// larger pooled slice, with the given item size.
func (a *Arena) AllocTemp(n, itemSize int) Buffer {
	class := sizeClass(n)
	p := a.poolFor(class)
	bp := p.Get().(*[]byte)
	return New((*bp)[:n], itemSize)
}

// FreeTemp returns a Buffer previously obtained from AllocTemp to the
// arena. The Buffer must not be used after FreeTemp.
func (a *Arena) FreeTemp(b Buffer) {
	class := sizeClass(cap(b.data))
	p := a.poolFor(class)
	full := b.data[:cap(b.data)]
	p.Put(&full)
}
