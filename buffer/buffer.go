// Package buffer provides the small value type that crosses the channel and
// collective APIs in place of a raw pointer (spec §9's "wrap as a small
// value type (address, length, item-size)").
package buffer

// Buffer aliases a byte range with an item size, so collectives that reduce
// fixed-width numeric elements can slice by element count while channels
// move the same range as opaque bytes.
//
// A Buffer never copies on construction or Slice: it always aliases the
// backing array of data. The caller keeps the backing array live until any
// WorkCompletion referencing it has finished (spec §9).
type Buffer struct {
	data     []byte
	itemSize int
	mutable  bool
}

// New wraps data as a Buffer with the given item size in bytes. itemSize
// must divide len(data) evenly for Count to be meaningful; a itemSize of 0
// or 1 means "opaque bytes".
func New(data []byte, itemSize int) Buffer {
	if itemSize <= 0 {
		itemSize = 1
	}
	return Buffer{data: data, itemSize: itemSize, mutable: true}
}

// ReadOnly wraps data as an immutable Buffer (e.g. a send source that the
// caller never mutates concurrently).
func ReadOnly(data []byte, itemSize int) Buffer {
	b := New(data, itemSize)
	b.mutable = false
	return b
}

// Bytes returns the aliased byte slice.
func (b Buffer) Bytes() []byte { return b.data }

// Len returns the byte length of the buffer.
func (b Buffer) Len() int { return len(b.data) }

// ItemSize returns the element width in bytes.
func (b Buffer) ItemSize() int { return b.itemSize }

// Count returns the number of whole elements the buffer holds.
func (b Buffer) Count() int {
	if b.itemSize == 0 {
		return 0
	}
	return len(b.data) / b.itemSize
}

// Mutable reports whether the caller is allowed to write through this
// Buffer (false for buffers wrapping a read-only send source).
func (b Buffer) Mutable() bool { return b.mutable }

// Slice returns a Buffer aliasing the byte sub-range [start, end) of b,
// inheriting b's item size (spec §3).
func (b Buffer) Slice(start, end int) Buffer {
	return Buffer{data: b.data[start:end], itemSize: b.itemSize, mutable: b.mutable}
}

// SliceElements returns a Buffer aliasing the element sub-range
// [startElem, endElem), i.e. byte range [startElem*itemSize, endElem*itemSize).
func (b Buffer) SliceElements(startElem, endElem int) Buffer {
	return b.Slice(startElem*b.itemSize, endElem*b.itemSize)
}

// Split divides [0, count) into n contiguous slices, with the last slice
// absorbing any remainder (spec §4.7's reduce-scatter split).
func Split(count, n int) [][2]int {
	ranges := make([][2]int, n)
	base := count / n
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i == n-1 {
			size = count - start
		}
		ranges[i] = [2]int{start, start + size}
		start += size
	}
	return ranges
}
