package comm

import (
	"fmt"

	"github.com/rdcgo/rdc/buffer"
	"github.com/rdcgo/rdc/ops"
	"github.com/rdcgo/rdc/request"
	"github.com/rdcgo/rdc/topology"
)

// Broadcast implements the tree broadcast (spec §4.7): every non-root rank
// receives buf from its unique neighbor one hop closer to root, then
// forwards it to every neighbor one hop farther, with all of a rank's
// sends posted concurrently as a chain completion and awaited once.
func (c *Communicator) Broadcast(buf buffer.Buffer, root int) error {
	c.collectiveInvocations.Add(1)
	if c.worldSize == 1 {
		return nil
	}
	snap := c.snapshotLocked()
	dist := snap.Distances(root)
	myDist, ok := dist[c.rank]
	if !ok {
		return fmt.Errorf("comm: rank %d unreachable from root %d in tree", c.rank, root)
	}

	if c.rank != root {
		parent, err := treeParentNeighbor(snap, dist, c.rank, myDist)
		if err != nil {
			return err
		}
		if err := c.Recv(parent, buf); err != nil {
			return fmt.Errorf("comm: broadcast recv from %d: %w", parent, err)
		}
	}

	chain := request.NewChainCompletion()
	for _, nb := range snap.Neighbors(c.rank) {
		if dist[nb] != myDist+1 {
			continue
		}
		comp, err := c.ISend(nb, buf)
		if err != nil {
			return fmt.Errorf("comm: broadcast send to %d: %w", nb, err)
		}
		chain.Add(comp)
	}
	return waitChain(chain)
}

// Reduce implements the tree reduce (spec §4.7): every rank receives from
// each of its children in turn into reducebuf, folds it into buf with
// reducer, then (unless it is root) forwards the accumulated buf to its
// parent. buf at root holds the final reduction on return.
func (c *Communicator) Reduce(buf, reducebuf buffer.Buffer, reducer ops.Reducer, kind ops.Kind, root int) error {
	c.collectiveInvocations.Add(1)
	if c.worldSize == 1 {
		return nil
	}
	snap := c.snapshotLocked()
	dist := snap.Distances(root)
	myDist, ok := dist[c.rank]
	if !ok {
		return fmt.Errorf("comm: rank %d unreachable from root %d in tree", c.rank, root)
	}

	for _, nb := range snap.Neighbors(c.rank) {
		if dist[nb] != myDist+1 {
			continue
		}
		if err := c.Recv(nb, reducebuf); err != nil {
			return fmt.Errorf("comm: reduce recv from child %d: %w", nb, err)
		}
		reducer(buf.Bytes(), reducebuf.Bytes(), kind)
	}

	if c.rank != root {
		parent, err := treeParentNeighbor(snap, dist, c.rank, myDist)
		if err != nil {
			return err
		}
		if err := c.Send(parent, buf); err != nil {
			return fmt.Errorf("comm: reduce send to parent %d: %w", parent, err)
		}
	}
	return nil
}

// treeParentNeighbor returns the unique neighbor of rank one hop closer to
// root, per spec §4.7's "unique neighbor with d=d(self)-1".
func treeParentNeighbor(snap *topology.Snapshot, dist map[int]int, rank, myDist int) (int, error) {
	for _, nb := range snap.Neighbors(rank) {
		if dist[nb] == myDist-1 {
			return nb, nil
		}
	}
	return 0, fmt.Errorf("comm: rank %d has no parent neighbor at distance %d", rank, myDist-1)
}

// ReduceScatterRing implements the ring reduce-scatter phase of Allreduce
// (spec §4.7): buf is split into worldSize contiguous slices by ranges;
// after N-1 exchange-and-fold steps each rank owns the fully-reduced slice
// at position self in buf (the read index walks next(next(self)),
// next^3(self), ... and its final stop is next^N(self) = self).
func (c *Communicator) ReduceScatterRing(buf, reducebuf buffer.Buffer, reducer ops.Reducer, kind ops.Kind, ranges [][2]int) error {
	n := c.worldSize
	if n == 1 {
		return nil
	}
	snap := c.snapshotLocked()
	self := c.rank
	prevRank, nextRank := snap.RingPrev(self), snap.RingNext(self)

	writeIdx := snap.RingNext(self)
	readIdx := snap.RingNext(writeIdx)

	for step := 0; step < n-1; step++ {
		wr, rr := ranges[writeIdx], ranges[readIdx]
		sendBuf := buf.SliceElements(wr[0], wr[1])
		recvBuf := reducebuf.SliceElements(rr[0], rr[1])

		sendComp, err := c.ISend(prevRank, sendBuf)
		if err != nil {
			return fmt.Errorf("comm: reduce-scatter send to %d: %w", prevRank, err)
		}
		recvComp, err := c.IRecv(nextRank, recvBuf)
		if err != nil {
			return fmt.Errorf("comm: reduce-scatter recv from %d: %w", nextRank, err)
		}
		if err := waitOne(sendComp); err != nil {
			return err
		}
		if err := waitOne(recvComp); err != nil {
			return err
		}

		dst := buf.SliceElements(rr[0], rr[1])
		reducer(dst.Bytes(), recvBuf.Bytes(), kind)

		writeIdx = readIdx
		readIdx = snap.RingNext(readIdx)
	}
	return nil
}

// AllgatherRing implements the ring allgather phase (spec §4.7): each rank
// begins holding the distinct slice at its own position (where
// ReduceScatterRing leaves the fully-reduced slice) and, after worldSize-1
// steps passing its current slice to prev and receiving the next slice
// from next, every rank holds every slice. slices[i] is the buffer this
// rank keeps for logical position i; slices may differ in size.
func (c *Communicator) AllgatherRing(slices []buffer.Buffer) error {
	n := c.worldSize
	if n == 1 {
		return nil
	}
	if len(slices) != n {
		return fmt.Errorf("comm: allgather expects %d slices, got %d", n, len(slices))
	}
	snap := c.snapshotLocked()
	self := c.rank
	prevRank, nextRank := snap.RingPrev(self), snap.RingNext(self)

	cur := self
	for step := 0; step < n-1; step++ {
		nxt := snap.RingNext(cur)

		sendComp, err := c.ISend(prevRank, slices[cur])
		if err != nil {
			return fmt.Errorf("comm: allgather send to %d: %w", prevRank, err)
		}
		recvComp, err := c.IRecv(nextRank, slices[nxt])
		if err != nil {
			return fmt.Errorf("comm: allgather recv from %d: %w", nextRank, err)
		}
		if err := waitOne(sendComp); err != nil {
			return err
		}
		if err := waitOne(recvComp); err != nil {
			return err
		}
		cur = nxt
	}
	return nil
}

// Allreduce dispatches by buffer size (spec §4.7): small buffers go through
// tree Reduce-to-root followed by tree Broadcast-from-root; buffers at or
// above the communicator's ring-mincount threshold go through the ring
// reduce-scatter/allgather pair instead.
func (c *Communicator) Allreduce(buf buffer.Buffer, reducer ops.Reducer, kind ops.Kind) error {
	if c.worldSize == 1 {
		return nil
	}
	if int64(buf.Len()) < c.ringMincount {
		c.allreduceTreePath.Add(1)
		reducebuf := c.arena.AllocTemp(buf.Len(), buf.ItemSize())
		defer c.arena.FreeTemp(reducebuf)
		if err := c.Reduce(buf, reducebuf, reducer, kind, 0); err != nil {
			return err
		}
		return c.Broadcast(buf, 0)
	}

	c.allreduceRingPath.Add(1)
	ranges := buffer.Split(buf.Count(), c.worldSize)
	reducebuf := c.arena.AllocTemp(buf.Len(), buf.ItemSize())
	defer c.arena.FreeTemp(reducebuf)
	if err := c.ReduceScatterRing(buf, reducebuf, reducer, kind, ranges); err != nil {
		return err
	}

	slices := make([]buffer.Buffer, len(ranges))
	for i, r := range ranges {
		slices[i] = buf.SliceElements(r[0], r[1])
	}
	return c.AllgatherRing(slices)
}
