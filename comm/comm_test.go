package comm_test

import (
	"context"
	"fmt"
	"math"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rdcgo/rdc/adapter"
	"github.com/rdcgo/rdc/buffer"
	"github.com/rdcgo/rdc/comm"
	"github.com/rdcgo/rdc/internal/wire"
	"github.com/rdcgo/rdc/metrics"
	"github.com/rdcgo/rdc/ops"
	"github.com/rdcgo/rdc/request"
	"github.com/rdcgo/rdc/topology"
	"github.com/rdcgo/rdc/tracker"
)

// cluster wires up n Communicators against a single in-process fake
// tracker, deriving each rank's connect/accept peer list from the same
// topology.Compute(n) a real tracker would use, so connectOne/acceptOne
// exercise the real dial/accept/handshake path end to end.
type cluster struct {
	comms []*comm.Communicator
}

// newCluster builds a cluster whose ring-mincount threshold is high enough
// that every Allreduce call takes the tree path.
func newCluster(t *testing.T, n int) *cluster {
	t.Helper()
	return newClusterWithRingMincount(t, n, 1<<30)
}

// newClusterWithRingMincount is newCluster with the ring-mincount threshold
// parameterized, so a caller can force Allreduce's ring reduce-scatter +
// allgather path (a ringMincount of 0 makes the ring path unconditional,
// since buffer length is never negative).
func newClusterWithRingMincount(t *testing.T, n int, ringMincount int64) *cluster {
	t.Helper()

	adapters := make([]adapter.Adapter, n)
	listeners := make([]net.Listener, n)
	addrs := make([]string, n)
	for i := 0; i < n; i++ {
		a, err := adapter.New(adapter.BackendTCP, 4, metrics.NewNoopProvider())
		require.NoError(t, err)
		t.Cleanup(func() { _ = a.Close() })
		ln, err := a.Listen(context.Background(), 0)
		require.NoError(t, err)
		t.Cleanup(func() { _ = ln.Close() })
		adapters[i] = a
		listeners[i] = ln
		addrs[i] = fmt.Sprintf("tcp:127.0.0.1:%d", ln.Addr().(*net.TCPAddr).Port)
	}

	snap, err := topology.Compute(n)
	require.NoError(t, err)

	trackerLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = trackerLn.Close() })

	trackerHost, trackerPortStr, err := net.SplitHostPort(trackerLn.Addr().String())
	require.NoError(t, err)
	var trackerPort int
	_, err = fmt.Sscanf(trackerPortStr, "%d", &trackerPort)
	require.NoError(t, err)

	go func() {
		for {
			conn, err := trackerLn.Accept()
			if err != nil {
				return
			}
			go serveWorker(conn, n, snap, addrs)
		}
	}()

	reg := request.NewRegistry()
	arena := buffer.NewArena()
	comms := make([]*comm.Communicator, n)
	infos := make([]*tracker.StartInfo, n)
	for i := 0; i < n; i++ {
		cfg := tracker.DefaultConfig()
		cfg.URI = trackerHost
		cfg.Port = trackerPort
		cfg.ConnectRetry = 1
		cfg.Logger = zerolog.Nop()
		client := tracker.New(cfg)

		info, err := client.Start(context.Background(), -1, addrs[i])
		require.NoError(t, err)
		require.Equal(t, int32(i), info.Rank)
		infos[i] = info

		comms[i] = comm.New("main", i, n, adapters[i], listeners[i], client, reg, arena, ringMincount, zerolog.Nop(), metrics.NewNoopProvider())
	}

	// Init every rank concurrently: a rank's accept slots only complete
	// once the ranks that dial it run their own Init.
	initErrs := make(chan error, n)
	for i := 0; i < n; i++ {
		i := i
		go func() { initErrs <- comms[i].Init(context.Background(), infos[i]) }()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-initErrs)
	}

	cl := &cluster{comms: comms}
	t.Cleanup(func() {
		for _, c := range cl.comms {
			_ = c.Close()
		}
	})
	return cl
}

// serveWorker plays the tracker side for one worker's whole connection
// lifetime: the start handshake (assigning the rank whose listen address
// matches the one the worker sends), then register/exclude/unexclude/
// barrier for as many rounds as the worker issues.
func serveWorker(conn net.Conn, n int, snap *topology.Snapshot, addrs []string) {
	defer conn.Close()

	if _, err := wire.ReadString(conn); err != nil { // "start"
		return
	}
	if _, err := wire.ReadInt32(conn); err != nil { // rank hint, -1
		return
	}
	workerAddr, err := wire.ReadString(conn)
	if err != nil {
		return
	}

	rank := -1
	for i, a := range addrs {
		if a == workerAddr {
			rank = i
			break
		}
	}
	if rank < 0 {
		return
	}

	// Link every tree neighbor plus both ring neighbors (a ring neighbor is
	// not always a tree neighbor), each peer once.
	var peers []int
	linked := make(map[int]bool)
	for _, nb := range append(append([]int(nil), snap.Tree[rank]...), snap.RingPrev(rank), snap.RingNext(rank)) {
		if nb == rank || linked[nb] {
			continue
		}
		linked[nb] = true
		peers = append(peers, nb)
	}

	var connectAddrs []string
	var connectRanks []int32
	var acceptRanks []int32
	for _, nb := range peers {
		if nb < rank {
			connectAddrs = append(connectAddrs, addrs[nb])
			connectRanks = append(connectRanks, int32(nb))
		} else {
			acceptRanks = append(acceptRanks, int32(nb))
		}
	}

	for _, v := range []int32{0, 0, 0, int32(n), int32(rank), int32(len(connectAddrs)), int32(len(acceptRanks))} {
		if err := wire.WriteInt32(conn, v); err != nil {
			return
		}
	}
	for i := range connectAddrs {
		if err := wire.WriteString(conn, connectAddrs[i]); err != nil {
			return
		}
		if err := wire.WriteInt32(conn, connectRanks[i]); err != nil {
			return
		}
	}
	for _, r := range acceptRanks {
		if err := wire.WriteInt32(conn, r); err != nil {
			return
		}
	}

	for {
		cmd, err := wire.ReadString(conn)
		if err != nil {
			return
		}
		switch cmd {
		case "register":
			if _, err := wire.ReadString(conn); err != nil {
				return
			}
		case "exclude":
			if _, err := wire.ReadString(conn); err != nil {
				return
			}
			if err := wire.WriteString(conn, "exclude_done"); err != nil {
				return
			}
		case "unexclude":
			if _, err := wire.ReadString(conn); err != nil {
				return
			}
			if err := wire.WriteString(conn, "unexclude_done"); err != nil {
				return
			}
		case "barrier":
			if _, err := wire.ReadString(conn); err != nil {
				return
			}
			if err := wire.WriteString(conn, "barrier_done"); err != nil {
				return
			}
		default:
			return
		}
	}
}

func withTimeout(t *testing.T, d time.Duration, f func() error) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- f() }()
	select {
	case err := <-done:
		return err
	case <-time.After(d):
		t.Fatal("timed out")
		return nil
	}
}

func float32Buffer(vals ...float32) buffer.Buffer {
	data := make([]byte, len(vals)*4)
	buf := buffer.New(data, 4)
	for i, v := range vals {
		bits := math.Float32bits(v)
		data[i*4+0] = byte(bits)
		data[i*4+1] = byte(bits >> 8)
		data[i*4+2] = byte(bits >> 16)
		data[i*4+3] = byte(bits >> 24)
	}
	return buf
}

func TestBroadcastDeliversRootValueToEveryRank(t *testing.T) {
	const n = 4
	cl := newCluster(t, n)

	payload := []byte{1, 2, 3, 4}
	results := make([][]byte, n)

	errs := make(chan error, n)
	for r := 0; r < n; r++ {
		r := r
		var buf buffer.Buffer
		if r == 0 {
			data := make([]byte, len(payload))
			copy(data, payload)
			buf = buffer.New(data, 1)
		} else {
			buf = buffer.New(make([]byte, len(payload)), 1)
		}
		results[r] = buf.Bytes()
		go func() { errs <- withTimeout(t, 5*time.Second, func() error { return cl.comms[r].Broadcast(buf, 0) }) }()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}
	for r := 0; r < n; r++ {
		require.Equal(t, payload, results[r], "rank %d", r)
	}
}

func TestAllreduceSumTreePathMatchesExpected(t *testing.T) {
	const n = 3
	cl := newCluster(t, n)

	bufs := make([]buffer.Buffer, n)
	for r := 0; r < n; r++ {
		bufs[r] = float32Buffer(float32(r + 1))
	}

	errs := make(chan error, n)
	for r := 0; r < n; r++ {
		r := r
		go func() {
			errs <- withTimeout(t, 5*time.Second, func() error {
				reducer, err := ops.NewRegistry().Lookup(ops.Sum, ops.Float32)
				if err != nil {
					return err
				}
				return cl.comms[r].Allreduce(bufs[r], reducer, ops.Float32)
			})
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}

	want := float32Buffer(6) // 1+2+3
	for r := 0; r < n; r++ {
		require.Equal(t, want.Bytes(), bufs[r].Bytes(), "rank %d", r)
	}
}

func TestAllreduceSumRingPathMatchesExpected(t *testing.T) {
	const n = 3
	// ringMincount 0 makes "buf.Len() < ringMincount" always false, so
	// Allreduce always takes ReduceScatterRing/AllgatherRing.
	cl := newClusterWithRingMincount(t, n, 0)

	bufs := make([]buffer.Buffer, n)
	for r := 0; r < n; r++ {
		bufs[r] = float32Buffer(float32(r + 1))
	}

	errs := make(chan error, n)
	for r := 0; r < n; r++ {
		r := r
		go func() {
			errs <- withTimeout(t, 5*time.Second, func() error {
				reducer, err := ops.NewRegistry().Lookup(ops.Sum, ops.Float32)
				if err != nil {
					return err
				}
				return cl.comms[r].Allreduce(bufs[r], reducer, ops.Float32)
			})
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}

	want := float32Buffer(6) // 1+2+3
	for r := 0; r < n; r++ {
		require.Equal(t, want.Bytes(), bufs[r].Bytes(), "rank %d", r)
	}
}

func TestAllreduceMaxRingPathMatchesExpected(t *testing.T) {
	const n = 3
	cl := newClusterWithRingMincount(t, n, 0)

	values := [][3]float32{
		{5, 1, 9},
		{2, 8, 3},
		{7, 4, 6},
	}
	bufs := make([]buffer.Buffer, n)
	for r := 0; r < n; r++ {
		bufs[r] = float32Buffer(values[r][0], values[r][1], values[r][2])
	}

	errs := make(chan error, n)
	for r := 0; r < n; r++ {
		r := r
		go func() {
			errs <- withTimeout(t, 5*time.Second, func() error {
				reducer, err := ops.NewRegistry().Lookup(ops.Max, ops.Float32)
				if err != nil {
					return err
				}
				return cl.comms[r].Allreduce(bufs[r], reducer, ops.Float32)
			})
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}

	// elementwise max(5,2,7)=7, max(1,8,4)=8, max(9,3,6)=9
	want := float32Buffer(7, 8, 9)
	for r := 0; r < n; r++ {
		require.Equal(t, want.Bytes(), bufs[r].Bytes(), "rank %d", r)
	}
}

func TestBarrierReturnsForEveryRank(t *testing.T) {
	const n = 3
	cl := newCluster(t, n)

	errs := make(chan error, n)
	for r := 0; r < n; r++ {
		r := r
		go func() { errs <- withTimeout(t, 5*time.Second, func() error { return cl.comms[r].Barrier(context.Background()) }) }()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}
}
