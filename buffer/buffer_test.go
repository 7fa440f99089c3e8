package buffer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rdcgo/rdc/buffer"
)

func TestNewDefaultsZeroItemSizeToOne(t *testing.T) {
	b := buffer.New(make([]byte, 10), 0)
	require.Equal(t, 1, b.ItemSize())
	require.Equal(t, 10, b.Count())
}

func TestNewIsMutableReadOnlyIsNot(t *testing.T) {
	require.True(t, buffer.New(make([]byte, 4), 4).Mutable())
	require.False(t, buffer.ReadOnly(make([]byte, 4), 4).Mutable())
}

func TestSliceAliasesBackingArray(t *testing.T) {
	data := make([]byte, 8)
	b := buffer.New(data, 1)
	sub := b.Slice(2, 5)
	sub.Bytes()[0] = 0xff
	require.Equal(t, byte(0xff), data[2])
	require.Len(t, sub.Bytes(), 3)
}

func TestSliceElementsUsesItemSize(t *testing.T) {
	data := make([]byte, 16)
	b := buffer.New(data, 4)
	sub := b.SliceElements(1, 3)
	require.Equal(t, 8, sub.Len())
	require.Equal(t, 2, sub.Count())
}

func TestSplitCoversEveryElementExactlyOnce(t *testing.T) {
	for _, tc := range []struct{ count, n int }{
		{10, 3}, {1, 1}, {7, 7}, {100, 4}, {5, 2},
	} {
		ranges := buffer.Split(tc.count, tc.n)
		require.Len(t, ranges, tc.n)
		require.Equal(t, 0, ranges[0][0])
		require.Equal(t, tc.count, ranges[tc.n-1][1])
		for i := 1; i < tc.n; i++ {
			require.Equal(t, ranges[i-1][1], ranges[i][0], "range %d must start where %d ended", i, i-1)
		}
	}
}

func TestArenaAllocTempReturnsExactLength(t *testing.T) {
	a := buffer.NewArena()
	b := a.AllocTemp(100, 4)
	require.Equal(t, 100, b.Len())
	require.Equal(t, 25, b.Count())
	a.FreeTemp(b)
}

func TestArenaReusesFreedBuffers(t *testing.T) {
	a := buffer.NewArena()
	first := a.AllocTemp(4096, 1)
	ptr := &first.Bytes()[0]
	a.FreeTemp(first)

	second := a.AllocTemp(4096, 1)
	require.Same(t, ptr, &second.Bytes()[0], "expected the pooled slice to be reused")
}
