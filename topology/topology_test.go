package topology_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rdcgo/rdc/topology"
)

func TestComputeRejectsNonPositiveSize(t *testing.T) {
	_, err := topology.Compute(0)
	require.Error(t, err)
}

func TestComputeSingleRank(t *testing.T) {
	s, err := topology.Compute(1)
	require.NoError(t, err)
	require.Equal(t, -1, s.Parent[0])
	require.Equal(t, 0, s.RingPrev(0))
	require.Equal(t, 0, s.RingNext(0))
}

func TestRingIsAPermutationAndCycle(t *testing.T) {
	for n := 1; n <= 37; n++ {
		s, err := topology.Compute(n)
		require.NoError(t, err)

		seen := make(map[int]bool, n)
		for r := 0; r < n; r++ {
			seen[r] = true
			require.Equal(t, r, s.RingNext(s.RingPrev(r)), "n=%d r=%d", n, r)
			require.Equal(t, r, s.RingPrev(s.RingNext(r)), "n=%d r=%d", n, r)
		}
		require.Len(t, seen, n)
	}
}

func TestTreeIsConnectedAcyclicWithNMinus1Edges(t *testing.T) {
	for n := 1; n <= 37; n++ {
		s, err := topology.Compute(n)
		require.NoError(t, err)

		edges := 0
		for r, neighbors := range s.Tree {
			for _, nb := range neighbors {
				if nb > r {
					edges++
				}
			}
		}
		require.Equal(t, n-1, edges, "n=%d", n)

		dist := s.Distances(0)
		require.Len(t, dist, n, "every rank reachable from root, n=%d", n)
	}
}

func TestParentChildConsistency(t *testing.T) {
	for n := 2; n <= 20; n++ {
		s, err := topology.Compute(n)
		require.NoError(t, err)
		for r := 1; r < n; r++ {
			p := s.Parent[r]
			require.Contains(t, s.Tree[p], r, "n=%d r=%d", n, r)
			require.Contains(t, s.Tree[r], p, "n=%d r=%d", n, r)
		}
	}
}

func TestDistancesCoverEveryRank(t *testing.T) {
	for n := 1; n <= 20; n++ {
		s, err := topology.Compute(n)
		require.NoError(t, err)
		for root := 0; root < n; root++ {
			dist := s.Distances(root)
			require.Len(t, dist, n)
		}
	}
}
