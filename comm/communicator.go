// Package comm implements the rendezvous setup and collective algorithms
// that run over a rank's set of point-to-point channels (spec §4.7,
// component C7), grounded on
// original_source/src/comm/communicator_base.go's Communicator.
package comm

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rdcgo/rdc/adapter"
	"github.com/rdcgo/rdc/buffer"
	"github.com/rdcgo/rdc/channel"
	"github.com/rdcgo/rdc/internal/wire"
	"github.com/rdcgo/rdc/metrics"
	"github.com/rdcgo/rdc/request"
	"github.com/rdcgo/rdc/topology"
	"github.com/rdcgo/rdc/tracker"
)

// ErrLinkMissing is returned by Init when the ring neighbors it expects a
// channel for were not established (spec §4.7 step 6's validation).
var ErrLinkMissing = fmt.Errorf("comm: ring neighbor link missing after connect")

// Communicator owns one rank's set of links for a single named collective
// group — the "main" communicator, or one created by NewCommunicator
// (spec §4.8).
type Communicator struct {
	name         string
	adapter      adapter.Adapter
	listener     Accepter
	trk          *tracker.Client
	reg          *request.Registry
	arena        *buffer.Arena
	logger       zerolog.Logger
	ringMincount int64
	metrics      metrics.Provider

	collectiveInvocations metrics.Counter
	allreduceTreePath     metrics.Counter
	allreduceRingPath     metrics.Counter

	rank      int
	worldSize int

	mu       sync.RWMutex
	snapshot *topology.Snapshot
	links    map[int]*channel.Channel
}

// Accepter is the subset of net.Listener that Init needs to service
// accept slots; satisfied by the listener the manager binds once at
// startup and shares across every communicator's (re)connect round.
type Accepter interface {
	Accept() (net.Conn, error)
}

// New constructs a Communicator for name. Call Init (or ReConnectLinks)
// before using it for collectives. A nil mp is treated as
// metrics.NewNoopProvider().
func New(name string, rank, worldSize int, a adapter.Adapter, ln Accepter, trk *tracker.Client, reg *request.Registry, arena *buffer.Arena, ringMincount int64, logger zerolog.Logger, mp metrics.Provider) *Communicator {
	if mp == nil {
		mp = metrics.NewNoopProvider()
	}
	return &Communicator{
		name:         name,
		adapter:      a,
		listener:     ln,
		trk:          trk,
		reg:          reg,
		arena:        arena,
		ringMincount: ringMincount,
		logger:       logger.With().Str("comm", name).Logger(),
		metrics:      mp,
		collectiveInvocations: mp.Counter(
			"rdc.comm.collective_invocations",
			metrics.WithDescription("collective operations dispatched on this communicator"),
		),
		allreduceTreePath: mp.Counter(
			"rdc.comm.allreduce_tree_path",
			metrics.WithDescription("Allreduce calls that took the tree reduce+broadcast path"),
		),
		allreduceRingPath: mp.Counter(
			"rdc.comm.allreduce_ring_path",
			metrics.WithDescription("Allreduce calls that took the ring reduce-scatter+allgather path"),
		),
		rank:      rank,
		worldSize: worldSize,
		links:     make(map[int]*channel.Channel),
	}
}

// Name returns the communicator's tracker-registered name.
func (c *Communicator) Name() string { return c.name }

// GetRank returns this process's rank within the communicator's world.
func (c *Communicator) GetRank() int { return c.rank }

// GetWorldSize returns the number of ranks in the communicator.
func (c *Communicator) GetWorldSize() int { return c.worldSize }

func (c *Communicator) snapshotLocked() *topology.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// RingPrev returns the rank preceding this one on the ring.
func (c *Communicator) RingPrev() int { return c.snapshotLocked().RingPrev(c.rank) }

// RingNext returns the rank following this one on the ring.
func (c *Communicator) RingNext() int { return c.snapshotLocked().RingNext(c.rank) }

// Init performs the one-time rendezvous (spec §4.7's Init/ReConnectLinks
// steps 1-7), using the connect/accept peer lists the tracker handed back
// in info (obtained from tracker.Client.Start/Restart).
func (c *Communicator) Init(ctx context.Context, info *tracker.StartInfo) error {
	return c.ReConnectLinks(ctx, info)
}

// ReConnectLinks (re)builds every link for the current world size,
// mirroring Communicator::ReConnectLinks: recompute topology, register,
// exclude, connect/accept in parallel, validate the ring links exist,
// unexclude.
func (c *Communicator) ReConnectLinks(ctx context.Context, info *tracker.StartInfo) error {
	// runID correlates every log line this rendezvous round produces,
	// independent of the request ids collectives later hand out.
	runID := uuid.New()
	log := c.logger.With().Str("rendezvous", runID.String()).Logger()
	log.Debug().Int("connect", int(info.NumConnect)).Int("accept", int(info.NumAccept)).Msg("comm: rendezvous starting")

	snap, err := topology.Compute(c.worldSize)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()

	if err := c.trk.Register(c.name); err != nil {
		return fmt.Errorf("comm: register: %w", err)
	}
	if err := c.trk.Exclude(ctx, c.name); err != nil {
		return fmt.Errorf("comm: exclude: %w", err)
	}

	// acceptRanks is the set of ranks we expect to dial us, not a
	// per-slot assignment: concurrent Accept() calls have no control over
	// which dialer's connection they receive first, so each acceptOne
	// goroutine validates the peer it actually gets against this shared
	// set rather than a specific pre-assigned rank.
	acceptRanks := make(map[int]bool, info.NumAccept)
	for i := int32(0); i < info.NumAccept; i++ {
		acceptRanks[int(info.AcceptRanks[i])] = true
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := int32(0); i < info.NumConnect; i++ {
		addr := info.ConnectAddrs[i]
		peerRank := int(info.ConnectRanks[i])
		g.Go(func() error { return c.connectOne(gctx, addr, peerRank) })
	}
	for i := int32(0); i < info.NumAccept; i++ {
		g.Go(func() error { return c.acceptOne(acceptRanks) })
	}
	if err := g.Wait(); err != nil {
		_ = c.trk.Unexclude(c.name)
		return err
	}

	if err := c.validateRingLinks(); err != nil {
		_ = c.trk.Unexclude(c.name)
		return err
	}

	log.Debug().Msg("comm: rendezvous complete")
	return c.trk.Unexclude(c.name)
}

// connectOne dials addr, exchanges rank integers on the raw connection
// (receive peer rank first, then send our own — spec §4.7 step 5), and
// only then hands the connection to the channel layer for nonblocking,
// event-driven I/O.
func (c *Communicator) connectOne(ctx context.Context, addr string, peerRank int) error {
	host, port, err := splitPeerAddr(addr)
	if err != nil {
		return err
	}
	conn, err := c.adapter.Dial(ctx, host, port)
	if err != nil {
		return fmt.Errorf("comm: connect to rank %d at %s: %w", peerRank, addr, err)
	}

	gotRank, err := wire.ReadInt32(conn)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("comm: rank handshake with %d: %w", peerRank, err)
	}
	if err := wire.WriteInt32(conn, int32(c.rank)); err != nil {
		_ = conn.Close()
		return fmt.Errorf("comm: rank handshake with %d: %w", peerRank, err)
	}
	if int(gotRank) != peerRank {
		_ = conn.Close()
		return fmt.Errorf("comm: connect expected rank %d, got %d", peerRank, gotRank)
	}

	ch, err := channel.New(c.adapter, c.reg, conn, peerRank, c.name, c.metrics)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.links[peerRank] = ch
	c.mu.Unlock()
	return nil
}

// acceptOne accepts the next inbound connection and exchanges rank
// integers in the opposite order (send own rank first, then receive the
// peer's — spec §4.7 step 5). The dialer's identity is only known once
// its rank arrives on the wire, so it is validated against the shared
// expected-set rather than against a slot-specific rank.
func (c *Communicator) acceptOne(expected map[int]bool) error {
	conn, err := c.listener.Accept()
	if err != nil {
		return fmt.Errorf("comm: accept: %w", err)
	}

	if err := wire.WriteInt32(conn, int32(c.rank)); err != nil {
		_ = conn.Close()
		return fmt.Errorf("comm: rank handshake accepting: %w", err)
	}
	gotRank32, err := wire.ReadInt32(conn)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("comm: rank handshake accepting: %w", err)
	}
	peerRank := int(gotRank32)
	if !expected[peerRank] {
		_ = conn.Close()
		return fmt.Errorf("comm: accept got unexpected peer rank %d", peerRank)
	}

	ch, err := channel.Accept(c.adapter, c.reg, conn, peerRank, c.name, c.metrics)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.links[peerRank] = ch
	c.mu.Unlock()
	return nil
}

func (c *Communicator) validateRingLinks() error {
	if c.worldSize == 1 {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	prev, next := c.snapshot.RingPrev(c.rank), c.snapshot.RingNext(c.rank)
	if _, ok := c.links[prev]; !ok {
		return fmt.Errorf("%w: ring_prev=%d", ErrLinkMissing, prev)
	}
	if _, ok := c.links[next]; !ok {
		return fmt.Errorf("%w: ring_next=%d", ErrLinkMissing, next)
	}
	return nil
}

// link returns the channel to peerRank, or an error if no such link
// exists.
func (c *Communicator) link(peerRank int) (*channel.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.links[peerRank]
	if !ok {
		return nil, fmt.Errorf("comm: no link to rank %d", peerRank)
	}
	return ch, nil
}

// ISend posts a send to peerRank over its link.
func (c *Communicator) ISend(peerRank int, buf buffer.Buffer) (*request.Completion, error) {
	ch, err := c.link(peerRank)
	if err != nil {
		return nil, err
	}
	return ch.ISend(buf)
}

// IRecv posts a recv from peerRank over its link.
func (c *Communicator) IRecv(peerRank int, buf buffer.Buffer) (*request.Completion, error) {
	ch, err := c.link(peerRank)
	if err != nil {
		return nil, err
	}
	return ch.IRecv(buf)
}

// Send blocks until buf has been fully transmitted to peerRank.
func (c *Communicator) Send(peerRank int, buf buffer.Buffer) error {
	comp, err := c.ISend(peerRank, buf)
	if err != nil {
		return err
	}
	if err := waitOne(comp); err != nil {
		return request.Tag(err, comp.ID(), peerRank)
	}
	return nil
}

// Recv blocks until buf has been fully filled from peerRank.
func (c *Communicator) Recv(peerRank int, buf buffer.Buffer) error {
	comp, err := c.IRecv(peerRank, buf)
	if err != nil {
		return err
	}
	if err := waitOne(comp); err != nil {
		return request.Tag(err, comp.ID(), peerRank)
	}
	return nil
}

// Barrier excludes, round-trips "barrier" through the tracker, and
// unexcludes (spec §4.7's Barrier, mirroring Communicator::Barrier).
func (c *Communicator) Barrier(ctx context.Context) error {
	c.collectiveInvocations.Add(1)
	if err := c.trk.Exclude(ctx, c.name); err != nil {
		return err
	}
	err := c.trk.Barrier(c.name)
	if unexErr := c.trk.Unexclude(c.name); err == nil {
		err = unexErr
	}
	return err
}

// Close tears down every link (spec's ResetLinks), leaving the
// Communicator ready for a future ReConnectLinks.
func (c *Communicator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for rank, ch := range c.links {
		if err := ch.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("comm: close link to rank %d: %w", rank, err)
		}
	}
	c.links = make(map[int]*channel.Channel)
	return firstErr
}

func waitOne(c *request.Completion) error {
	c.Wait()
	if s := c.Status(); s != request.Finished {
		return fmt.Errorf("comm: request ended in status %s", s)
	}
	return nil
}

func waitChain(cc *request.ChainCompletion) error {
	cc.Wait()
	if s := cc.Status(); s != request.Finished {
		return fmt.Errorf("comm: chain request ended in status %s", s)
	}
	return nil
}

// splitPeerAddr parses a spec §3 Peer Address tuple stringified as
// "backend:host:port" and returns the host/port TCP needs to dial.
func splitPeerAddr(addr string) (host string, port int, err error) {
	parts := strings.SplitN(addr, ":", 3)
	if len(parts) != 3 {
		return "", 0, fmt.Errorf("comm: malformed peer address %q", addr)
	}
	port, err = strconv.Atoi(parts[2])
	if err != nil {
		return "", 0, fmt.Errorf("comm: malformed peer address %q: %w", addr, err)
	}
	return parts[1], port, nil
}
