// Package channel implements the point-to-point transport channel (spec
// §4.2, component C2): one socket, one peer rank, a FIFO of pending sends
// and a FIFO of pending recvs, driven entirely by C3's readiness
// callbacks.
package channel

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"

	"github.com/rdcgo/rdc/adapter"
	"github.com/rdcgo/rdc/buffer"
	"github.com/rdcgo/rdc/metrics"
	"github.com/rdcgo/rdc/request"
)

// Instrument names recorded against the metrics.Provider threaded into
// New/Connect/Accept. Byte counters are the call sites SPEC_FULL.md §11
// names for this component; the error counter tracks how often fail()
// marks a channel dead (spec §4.2's failure semantics).
const (
	metricBytesSent     = "rdc.channel.bytes_sent"
	metricBytesReceived = "rdc.channel.bytes_received"
	metricErrors        = "rdc.channel.errors"
)

// ErrClosed is returned by ISend/IRecv on a channel that has already been
// closed.
var ErrClosed = errors.New("channel: closed")

// Channel owns one socket and the send/recv request queues pending on it.
// All exported methods are safe for concurrent use.
type Channel struct {
	conn net.Conn
	fd   int
	a    adapter.Adapter
	reg  *request.Registry

	id       xid.ID
	peerRank int
	commName string

	bytesSent     metrics.Counter
	bytesReceived metrics.Counter
	errorsCounter metrics.Counter

	mu    sync.Mutex
	kind  adapter.Kind
	sendQ []uint64
	recvQ []uint64

	errFlag atomic.Bool
	closed  atomic.Bool
}

// New wraps an already-established conn as a Channel, registering it with
// a with no event interest until the first ISend/IRecv. mp records the
// byte counters and error counter every Channel reports through (a nil mp
// is treated as metrics.NewNoopProvider()).
func New(a adapter.Adapter, reg *request.Registry, conn net.Conn, peerRank int, commName string, mp metrics.Provider) (*Channel, error) {
	if mp == nil {
		mp = metrics.NewNoopProvider()
	}
	fd, err := adapter.ConnFD(conn)
	if err != nil {
		return nil, err
	}
	if err := setNonblocking(fd); err != nil {
		return nil, err
	}
	c := &Channel{
		conn:          conn,
		fd:            fd,
		a:             a,
		reg:           reg,
		id:            xid.New(),
		peerRank:      peerRank,
		commName:      commName,
		bytesSent:     mp.Counter(metricBytesSent, metrics.WithUnit("By"), metrics.WithDescription("bytes written to peer channels")),
		bytesReceived: mp.Counter(metricBytesReceived, metrics.WithUnit("By"), metrics.WithDescription("bytes read from peer channels")),
		errorsCounter: mp.Counter(metricErrors, metrics.WithDescription("channel socket errors observed")),
	}
	if err := a.Register(c, adapter.KindNone); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect performs the three-way handshake to host:port and wraps the
// resulting connection as a Channel (spec §4.2's connect contract).
func Connect(ctx context.Context, a adapter.Adapter, reg *request.Registry, host string, port int, peerRank int, commName string, mp metrics.Provider) (*Channel, error) {
	conn, err := a.Dial(ctx, host, port)
	if err != nil {
		return nil, err
	}
	return New(a, reg, conn, peerRank, commName, mp)
}

// Accept wraps an already-accepted conn (from adapter.Adapter.Listen) as a
// Channel.
func Accept(a adapter.Adapter, reg *request.Registry, conn net.Conn, peerRank int, commName string, mp metrics.Provider) (*Channel, error) {
	return New(a, reg, conn, peerRank, commName, mp)
}

// FD implements adapter.Handler.
func (c *Channel) FD() int { return c.fd }

// CorrelationID returns the per-connection identifier assigned when the
// channel was created, for use as a logging/metrics label that survives
// fd reuse across reconnects (mirrors sockstats.Conn's per-connection
// bookkeeping id).
func (c *Channel) CorrelationID() xid.ID { return c.id }

// PeerRank returns the rank this channel connects to.
func (c *Channel) PeerRank() int { return c.peerRank }

// CommName returns the owning communicator's name.
func (c *Channel) CommName() string { return c.commName }

// ErrorFlag reports whether a socket-level error has been observed.
func (c *Channel) ErrorFlag() bool { return c.errFlag.Load() }

// ISend creates a send request for buf. With no sends already queued it
// attempts an immediate best-effort write and, on short write or
// would-block, enqueues the remainder for OnWritable to drain. With sends
// already pending the request goes straight onto the queue so bytes leave
// the socket in issue order. buf must stay live until the returned
// completion is terminal.
func (c *Channel) ISend(buf buffer.Buffer) (*request.Completion, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	r := c.reg.NewRequest(request.Send, buf, c.peerRank)
	c.reg.SetStatus(r.ID(), request.Running)
	comp := request.NewCompletion(c.reg, r.ID())

	if c.errFlag.Load() {
		c.reg.SetStatus(r.ID(), request.Error)
		return comp, nil
	}
	if buf.Len() == 0 {
		c.reg.AddBytes(r.ID(), 0)
		return comp, nil
	}

	c.mu.Lock()
	if len(c.sendQ) == 0 {
		// Immediate write under mu: a competing ISend or the event loop's
		// queue bookkeeping cannot interleave bytes from another request.
		n, err := rawWrite(c.fd, buf.Bytes())
		if err != nil && !errors.Is(err, errWouldBlock) {
			c.mu.Unlock()
			c.reg.SetStatus(r.ID(), request.Error)
			c.fail(err)
			return comp, nil
		}
		if n > 0 {
			c.bytesSent.Add(int64(n))
			if c.reg.AddBytes(r.ID(), n) {
				c.mu.Unlock()
				return comp, nil
			}
		}
	}
	c.sendQ = append(c.sendQ, r.ID())
	err := c.wantEventLocked(adapter.KindWrite)
	c.mu.Unlock()
	if err != nil {
		c.fail(err)
	}
	return comp, nil
}

// IRecv creates a recv request for buf and enqueues it; the transfer is
// fully driven by OnReadable (spec §4.2).
func (c *Channel) IRecv(buf buffer.Buffer) (*request.Completion, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	r := c.reg.NewRequest(request.Recv, buf, c.peerRank)
	c.reg.SetStatus(r.ID(), request.Running)
	comp := request.NewCompletion(c.reg, r.ID())

	if c.errFlag.Load() {
		c.reg.SetStatus(r.ID(), request.Error)
		return comp, nil
	}
	if buf.Len() == 0 {
		c.reg.AddBytes(r.ID(), 0)
		return comp, nil
	}

	c.mu.Lock()
	c.recvQ = append(c.recvQ, r.ID())
	err := c.wantEventLocked(adapter.KindRead)
	c.mu.Unlock()
	if err != nil {
		c.fail(err)
	}
	return comp, nil
}

// OnReadable implements adapter.Handler (spec §4.2's on_read).
func (c *Channel) OnReadable() {
	for {
		c.mu.Lock()
		if len(c.recvQ) == 0 {
			// Queue check and disarm under one mu hold: an IRecv that
			// lands in between would otherwise arm read interest only for
			// this disarm to drop it.
			_ = c.dropEventLocked(adapter.KindRead)
			c.mu.Unlock()
			return
		}
		id := c.recvQ[0]
		c.mu.Unlock()

		r := c.reg.Get(id)
		if r == nil || r.Status().Terminal() {
			c.popRecv()
			continue
		}
		buf := r.Buffer()
		offset := int(r.Processed())
		n, err := rawRead(c.fd, buf.Bytes()[offset:])
		if err != nil {
			if errors.Is(err, errWouldBlock) {
				return
			}
			c.fail(err)
			return
		}
		if n == 0 {
			c.fail(io.EOF)
			return
		}
		c.bytesReceived.Add(int64(n))
		if c.reg.AddBytes(id, n) {
			c.popRecv()
		}
	}
}

// OnWritable implements adapter.Handler (spec §4.2's on_write).
func (c *Channel) OnWritable() {
	for {
		c.mu.Lock()
		if len(c.sendQ) == 0 {
			_ = c.dropEventLocked(adapter.KindWrite)
			c.mu.Unlock()
			return
		}
		id := c.sendQ[0]
		c.mu.Unlock()

		r := c.reg.Get(id)
		if r == nil || r.Status().Terminal() {
			c.popSend()
			continue
		}
		buf := r.Buffer()
		offset := int(r.Processed())
		n, err := rawWrite(c.fd, buf.Bytes()[offset:])
		if err != nil {
			if errors.Is(err, errWouldBlock) {
				return
			}
			c.fail(err)
			return
		}
		if n == 0 {
			return
		}
		c.bytesSent.Add(int64(n))
		if c.reg.AddBytes(id, n) {
			c.popSend()
		}
	}
}

// OnError implements adapter.Handler.
func (c *Channel) OnError(err error) { c.fail(err) }

// fail marks the channel's error flag and fails every queued request with
// status error (spec §4.2's failure semantics); it does not close the
// socket or stop the process — recovery is the communicator's decision.
func (c *Channel) fail(_ error) {
	if !c.errFlag.CompareAndSwap(false, true) {
		return
	}
	c.errorsCounter.Add(1)
	c.mu.Lock()
	pending := make([]uint64, 0, len(c.sendQ)+len(c.recvQ))
	pending = append(pending, c.sendQ...)
	pending = append(pending, c.recvQ...)
	c.sendQ = nil
	c.recvQ = nil
	c.mu.Unlock()

	for _, id := range pending {
		c.reg.SetStatus(id, request.Error)
	}
}

// Close is idempotent: it unregisters from C3, disposes pending requests
// as closed, and shuts the socket.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	pending := make([]uint64, 0, len(c.sendQ)+len(c.recvQ))
	pending = append(pending, c.sendQ...)
	pending = append(pending, c.recvQ...)
	c.sendQ = nil
	c.recvQ = nil
	c.mu.Unlock()

	for _, id := range pending {
		c.reg.SetStatus(id, request.Closed)
	}
	_ = c.a.Unregister(c.fd)
	return c.conn.Close()
}

// wantEventLocked arms ev unless it is already part of the channel's
// interest set. Caller holds mu.
func (c *Channel) wantEventLocked(ev adapter.Kind) error {
	if c.kind == ev || c.kind == adapter.KindReadWrite {
		return nil
	}
	nk, err := adapter.AddEvent(c.kind, ev)
	if err != nil {
		return err
	}
	c.kind = nk
	return c.a.Modify(c, nk)
}

// dropEventLocked disarms ev if it is currently armed. Caller holds mu.
func (c *Channel) dropEventLocked(ev adapter.Kind) error {
	if c.kind != ev && c.kind != adapter.KindReadWrite {
		return nil
	}
	nk, err := adapter.DeleteEvent(c.kind, ev)
	if err != nil {
		return err
	}
	c.kind = nk
	return c.a.Modify(c, nk)
}

func (c *Channel) popRecv() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.recvQ) > 0 {
		c.recvQ = c.recvQ[1:]
	}
}

func (c *Channel) popSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sendQ) > 0 {
		c.sendQ = c.sendQ[1:]
	}
}
