// Package ops implements the reduce operators collectives apply
// element-wise to fixed-width numeric buffers (spec §4.7: "the operator is
// associative and commutative on the supported numeric kinds").
package ops

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Kind names a fixed-width numeric element type a Reducer can operate on.
type Kind int

const (
	Int32 Kind = iota
	Int64
	Float32
	Float64
)

func (k Kind) String() string {
	switch k {
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "unknown"
	}
}

// Size returns the element width in bytes for k.
func (k Kind) Size() int {
	switch k {
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	default:
		return 0
	}
}

// Reducer applies an operator element-wise: dst[i] = op(dst[i], src[i]),
// both slices holding Count() elements of the same Kind (spec §3's
// Buffer item-size; the collective layer slices by element count before
// calling it).
type Reducer func(dst, src []byte, kind Kind)

// names the operators directly from the original implementation's
// op::Max/Min/Sum/BitOR (original_source/include/core/mpi.h), not
// reinvented here.
const (
	Max   = "max"
	Min   = "min"
	Sum   = "sum"
	BitOR = "bitor"
)

// Registry maps (operator name, Kind) to a Reducer, populated at
// construction the way coatyio-dda-examples/compute/registry/registry.go
// populates its computation-name map.
type Registry struct {
	reducers map[string]map[Kind]Reducer
}

// NewRegistry returns a Registry pre-populated with every operator the
// spec names: max, min and sum for every supported Kind, bitor for the
// integer Kinds (Int32, Int64) only.
func NewRegistry() *Registry {
	r := &Registry{reducers: make(map[string]map[Kind]Reducer)}
	r.register(Max, Int32, reduceInt32(func(a, b int32) int32 { return max32(a, b) }))
	r.register(Max, Int64, reduceInt64(func(a, b int64) int64 {
		if a < b {
			return b
		}
		return a
	}))
	r.register(Max, Float32, reduceFloat32(func(a, b float32) float32 {
		if a < b {
			return b
		}
		return a
	}))
	r.register(Max, Float64, reduceFloat64(func(a, b float64) float64 { return math.Max(a, b) }))

	r.register(Min, Int32, reduceInt32(func(a, b int32) int32 {
		if a > b {
			return b
		}
		return a
	}))
	r.register(Min, Int64, reduceInt64(func(a, b int64) int64 {
		if a > b {
			return b
		}
		return a
	}))
	r.register(Min, Float32, reduceFloat32(func(a, b float32) float32 {
		if a > b {
			return b
		}
		return a
	}))
	r.register(Min, Float64, reduceFloat64(func(a, b float64) float64 { return math.Min(a, b) }))

	r.register(Sum, Int32, reduceInt32(func(a, b int32) int32 { return a + b }))
	r.register(Sum, Int64, reduceInt64(func(a, b int64) int64 { return a + b }))
	r.register(Sum, Float32, reduceFloat32(func(a, b float32) float32 { return a + b }))
	r.register(Sum, Float64, reduceFloat64(func(a, b float64) float64 { return a + b }))

	r.register(BitOR, Int32, reduceInt32(func(a, b int32) int32 { return a | b }))
	r.register(BitOR, Int64, reduceInt64(func(a, b int64) int64 { return a | b }))

	return r
}

func max32(a, b int32) int32 {
	if a < b {
		return b
	}
	return a
}

func (r *Registry) register(name string, kind Kind, fn Reducer) {
	m, ok := r.reducers[name]
	if !ok {
		m = make(map[Kind]Reducer)
		r.reducers[name] = m
	}
	m[kind] = fn
}

// Lookup returns the Reducer registered for (name, kind), or an error if
// none was registered.
func (r *Registry) Lookup(name string, kind Kind) (Reducer, error) {
	m, ok := r.reducers[name]
	if !ok {
		return nil, fmt.Errorf("ops: unknown operator %q", name)
	}
	fn, ok := m[kind]
	if !ok {
		return nil, fmt.Errorf("ops: operator %q has no implementation for %s", name, kind)
	}
	return fn, nil
}

// Names returns every registered operator name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.reducers))
	for name := range r.reducers {
		names = append(names, name)
	}
	return names
}

func reduceInt32(f func(a, b int32) int32) Reducer {
	return func(dst, src []byte, kind Kind) {
		n := len(dst) / 4
		for i := 0; i < n; i++ {
			off := i * 4
			a := int32(binary.LittleEndian.Uint32(dst[off : off+4]))
			b := int32(binary.LittleEndian.Uint32(src[off : off+4]))
			binary.LittleEndian.PutUint32(dst[off:off+4], uint32(f(a, b)))
		}
	}
}

func reduceInt64(f func(a, b int64) int64) Reducer {
	return func(dst, src []byte, kind Kind) {
		n := len(dst) / 8
		for i := 0; i < n; i++ {
			off := i * 8
			a := int64(binary.LittleEndian.Uint64(dst[off : off+8]))
			b := int64(binary.LittleEndian.Uint64(src[off : off+8]))
			binary.LittleEndian.PutUint64(dst[off:off+8], uint64(f(a, b)))
		}
	}
}

func reduceFloat32(f func(a, b float32) float32) Reducer {
	return func(dst, src []byte, kind Kind) {
		n := len(dst) / 4
		for i := 0; i < n; i++ {
			off := i * 4
			a := math.Float32frombits(binary.LittleEndian.Uint32(dst[off : off+4]))
			b := math.Float32frombits(binary.LittleEndian.Uint32(src[off : off+4]))
			binary.LittleEndian.PutUint32(dst[off:off+4], math.Float32bits(f(a, b)))
		}
	}
}

func reduceFloat64(f func(a, b float64) float64) Reducer {
	return func(dst, src []byte, kind Kind) {
		n := len(dst) / 8
		for i := 0; i < n; i++ {
			off := i * 8
			a := math.Float64frombits(binary.LittleEndian.Uint64(dst[off : off+8]))
			b := math.Float64frombits(binary.LittleEndian.Uint64(src[off : off+8]))
			binary.LittleEndian.PutUint64(dst[off:off+8], math.Float64bits(f(a, b)))
		}
	}
}
