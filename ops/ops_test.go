package ops_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rdcgo/rdc/ops"
)

func putInt32s(vs ...int32) []byte {
	buf := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
	}
	return buf
}

func getInt32s(buf []byte) []int32 {
	out := make([]int32, len(buf)/4)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

func TestSumInt32(t *testing.T) {
	reg := ops.NewRegistry()
	fn, err := reg.Lookup(ops.Sum, ops.Int32)
	require.NoError(t, err)

	dst := putInt32s(1, 2, 3)
	src := putInt32s(10, 20, 30)
	fn(dst, src, ops.Int32)
	require.Equal(t, []int32{11, 22, 33}, getInt32s(dst))
}

func TestMaxMinInt32(t *testing.T) {
	reg := ops.NewRegistry()
	maxFn, err := reg.Lookup(ops.Max, ops.Int32)
	require.NoError(t, err)
	minFn, err := reg.Lookup(ops.Min, ops.Int32)
	require.NoError(t, err)

	dst := putInt32s(5, -3)
	src := putInt32s(2, -9)
	maxFn(dst, src, ops.Int32)
	require.Equal(t, []int32{5, -3}, getInt32s(dst))

	dst = putInt32s(5, -3)
	minFn(dst, src, ops.Int32)
	require.Equal(t, []int32{2, -9}, getInt32s(dst))
}

func TestSumFloat64(t *testing.T) {
	reg := ops.NewRegistry()
	fn, err := reg.Lookup(ops.Sum, ops.Float64)
	require.NoError(t, err)

	dst := make([]byte, 8)
	src := make([]byte, 8)
	binary.LittleEndian.PutUint64(dst, math.Float64bits(1.5))
	binary.LittleEndian.PutUint64(src, math.Float64bits(2.25))
	fn(dst, src, ops.Float64)
	require.Equal(t, 3.75, math.Float64frombits(binary.LittleEndian.Uint64(dst)))
}

func TestLookupUnknownOperator(t *testing.T) {
	reg := ops.NewRegistry()
	_, err := reg.Lookup("xor", ops.Int32)
	require.Error(t, err)
}

func TestLookupMissingKindForOperator(t *testing.T) {
	reg := ops.NewRegistry()
	_, err := reg.Lookup(ops.BitOR, ops.Float64)
	require.Error(t, err)
}
