// Package tracker implements the single serialized TCP connection to the
// coordinator process (spec §4.4, component C4): every command is a
// sequence of framed messages sent and received while holding the
// client's mutex.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/rdcgo/rdc/internal/env"
	"github.com/rdcgo/rdc/internal/wire"
	"github.com/rdcgo/rdc/metrics"
)

// ErrProtocolViolation wraps any unexpected reply token from the tracker
// (spec §7.4: "Tracker protocol violation ... fatal; the process should
// abort after logging"). Callers that want that fatal behavior should
// check errors.Is(err, ErrProtocolViolation) and panic after logging; this
// package itself only reports the error, it never panics.
var ErrProtocolViolation = errors.New("tracker: protocol violation")

// StartInfo is everything the tracker hands back in response to
// start/restart (spec §4.4's command table), mirroring
// original_source/src/comm/tracker.cc's Connect.
type StartInfo struct {
	DeadNodes     []int32
	PendingNodes  int32
	SameHostPeers []int32
	WorldSize     int32
	Rank          int32
	NumConnect    int32
	NumAccept     int32
	ConnectAddrs  []string // length NumConnect
	ConnectRanks  []int32  // length NumConnect
	AcceptRanks   []int32  // length NumAccept
}

// Config parameterizes a Client, read from the environment by the caller
// (spec §4.8's "parameters read from environment (command-line
// overrides)").
type Config struct {
	URI             string
	Port            int
	HostAddr        string // "backend:host:port", spec §3's Peer Address tuple stringified
	Restart         bool
	PendingNodes    int32
	ConnectRetry    int
	Logger          zerolog.Logger
	MetricsProvider metrics.Provider
}

// DefaultConfig reads RDC_TRACKER_URI / RDC_TRACKER_PORT / RDC_RESTART /
// RDC_PENDING_NODES / RDC_WORKER_CONNECT_RETRY.
func DefaultConfig() Config {
	return Config{
		URI:             env.String(env.TrackerURI, "127.0.0.1"),
		Port:            env.Int(env.TrackerPort, 9000),
		Restart:         env.Bool(env.Restart, false),
		PendingNodes:    int32(env.Int(env.PendingNodes, 0)),
		ConnectRetry:    env.Int(env.ConnectRetry, 5),
		Logger:          zerolog.Nop(),
		MetricsProvider: metrics.NewNoopProvider(),
	}
}

// Client is a single serialized connection to the tracker (spec §4.4).
// Every exported method that talks to the tracker holds mu for its whole
// framed exchange.
type Client struct {
	cfg Config

	mu        sync.Mutex
	conn      net.Conn
	connected bool
	closed    bool

	deadNodesMu sync.RWMutex
	deadNodes   []int32

	cmdLatency metrics.Histogram
}

// New returns an unconnected Client; call Start to perform the initial
// handshake. A nil cfg.MetricsProvider is treated as metrics.NewNoopProvider().
func New(cfg Config) *Client {
	mp := cfg.MetricsProvider
	if mp == nil {
		mp = metrics.NewNoopProvider()
	}
	return &Client{
		cfg: cfg,
		cmdLatency: mp.Histogram(
			"rdc.tracker.command_duration_seconds",
			metrics.WithUnit("s"),
			metrics.WithDescription("round-trip latency of framed tracker commands"),
		),
	}
}

// observe records the elapsed time since start against the command-latency
// histogram. One histogram covers every command: the metrics.Provider
// interface fixes an instrument's attributes at creation, so splitting by
// command name would mean one instrument per command instead of one bounded
// set of buckets.
func (c *Client) observe(start time.Time) {
	c.cmdLatency.Record(time.Since(start).Seconds())
}

// Lock/Unlock expose the serializing mutex so callers that need to bracket
// several framed round-trips with other tracker-adjacent work can do so
// explicitly, mirroring Tracker::Lock/UnLock. The exported methods take mu
// themselves, so a holder of Lock must not call them until Unlock.
func (c *Client) Lock()   { c.mu.Lock() }
func (c *Client) Unlock() { c.mu.Unlock() }

// Connected reports whether the initial handshake has completed.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// MarkDisconnected flips Connected to false without closing the
// underlying socket, mirroring demaon.cc's "on any read error... sets
// tracker_connected = false" (spec §4.5). Used by the heartbeat daemon
// when a heartbeat round-trip fails.
func (c *Client) MarkDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// IsClosed reports whether Shutdown/Close has already run.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// DeadNodes returns the most recently cached dead-node list (updated by
// Start/Restart and by the heartbeat daemon).
func (c *Client) DeadNodes() []int32 {
	c.deadNodesMu.RLock()
	defer c.deadNodesMu.RUnlock()
	out := make([]int32, len(c.deadNodes))
	copy(out, c.deadNodes)
	return out
}

func (c *Client) setDeadNodes(nodes []int32) {
	c.deadNodesMu.Lock()
	c.deadNodes = nodes
	c.deadNodesMu.Unlock()
}

// dial retries the TCP connect with exponential backoff (spec §7.3),
// grounded on tracker.cc's do/while connect-retry loop but generalized
// from a fixed 1s sleep to cenkalti/backoff.
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	var conn net.Conn
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.cfg.ConnectRetry))
	op := func() error {
		d := net.Dialer{}
		cc, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", c.cfg.URI, c.cfg.Port))
		if err != nil {
			c.cfg.Logger.Warn().Err(err).Msg("tracker connect retrying")
			return err
		}
		conn = cc
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("tracker: connect to %s:%d: %w", c.cfg.URI, c.cfg.Port, err)
	}
	return conn, nil
}

// Start performs the start/restart handshake (spec §4.4's `start`/
// `restart` row), establishing the connection on first call.
func (c *Client) Start(ctx context.Context, rank int32, workerAddr string) (*StartInfo, error) {
	cmd := "start"
	if c.cfg.Restart {
		cmd = "restart"
	}
	return c.connect(ctx, cmd, rank, workerAddr)
}

func (c *Client) connect(ctx context.Context, cmd string, rank int32, workerAddr string) (*StartInfo, error) {
	defer c.observe(time.Now())
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		conn, err := c.dial(ctx)
		if err != nil {
			return nil, err
		}
		c.conn = conn
		c.connected = true
	}

	if err := wire.WriteString(c.conn, cmd); err != nil {
		return nil, err
	}
	if err := wire.WriteInt32(c.conn, rank); err != nil {
		return nil, err
	}
	if cmd == "restart" {
		if err := wire.WriteInt32(c.conn, c.cfg.PendingNodes); err != nil {
			return nil, err
		}
	}
	if err := wire.WriteString(c.conn, workerAddr); err != nil {
		return nil, err
	}

	info, err := c.readStartReply()
	if err != nil {
		return nil, err
	}
	c.setDeadNodes(info.DeadNodes)
	return info, nil
}

func (c *Client) readStartReply() (*StartInfo, error) {
	info := &StartInfo{}

	numDead, err := wire.ReadInt32(c.conn)
	if err != nil {
		return nil, err
	}
	if numDead > 0 {
		info.DeadNodes = make([]int32, numDead)
		for i := range info.DeadNodes {
			if info.DeadNodes[i], err = wire.ReadInt32(c.conn); err != nil {
				return nil, err
			}
		}
	}

	if info.PendingNodes, err = wire.ReadInt32(c.conn); err != nil {
		return nil, err
	}

	numSameHost, err := wire.ReadInt32(c.conn)
	if err != nil {
		return nil, err
	}
	info.SameHostPeers = make([]int32, numSameHost)
	for i := range info.SameHostPeers {
		if info.SameHostPeers[i], err = wire.ReadInt32(c.conn); err != nil {
			return nil, err
		}
	}
	sort.Slice(info.SameHostPeers, func(i, j int) bool { return info.SameHostPeers[i] < info.SameHostPeers[j] })

	if info.WorldSize, err = wire.ReadInt32(c.conn); err != nil {
		return nil, err
	}
	if info.Rank, err = wire.ReadInt32(c.conn); err != nil {
		return nil, err
	}
	if info.NumConnect, err = wire.ReadInt32(c.conn); err != nil {
		return nil, err
	}
	if info.NumAccept, err = wire.ReadInt32(c.conn); err != nil {
		return nil, err
	}

	info.ConnectAddrs = make([]string, info.NumConnect)
	info.ConnectRanks = make([]int32, info.NumConnect)
	for i := int32(0); i < info.NumConnect; i++ {
		if info.ConnectAddrs[i], err = wire.ReadString(c.conn); err != nil {
			return nil, err
		}
		if info.ConnectRanks[i], err = wire.ReadInt32(c.conn); err != nil {
			return nil, err
		}
	}

	info.AcceptRanks = make([]int32, info.NumAccept)
	for i := int32(0); i < info.NumAccept; i++ {
		if info.AcceptRanks[i], err = wire.ReadInt32(c.conn); err != nil {
			return nil, err
		}
	}

	return info, nil
}

// Register registers commName with the tracker (spec §4.4's `register`).
func (c *Client) Register(commName string) error {
	defer c.observe(time.Now())
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := wire.WriteString(c.conn, "register"); err != nil {
		return err
	}
	return wire.WriteString(c.conn, commName)
}

// Exclude spins, with a short backoff, until the tracker grants the
// cooperative lock for commName (spec §4.4: "workers spin with a short
// backoff until granted").
func (c *Client) Exclude(ctx context.Context, commName string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Microsecond
	b.MaxInterval = 5 * time.Millisecond
	for {
		if c.IsClosed() {
			return fmt.Errorf("tracker: exclude on closed client")
		}
		token, err := c.roundTrip("exclude", commName)
		if err != nil {
			return err
		}
		if token == "exclude_done" {
			return nil
		}
		select {
		case <-time.After(b.NextBackOff()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Unexclude releases the cooperative lock taken by Exclude.
func (c *Client) Unexclude(commName string) error {
	token, err := c.roundTrip("unexclude", commName)
	if err != nil {
		return err
	}
	if token != "unexclude_done" {
		return fmt.Errorf("%w: unexpected unexclude reply %q", ErrProtocolViolation, token)
	}
	return nil
}

// Barrier sends the barrier command and waits for barrier_done (spec
// §4.4, §4.7's Barrier; Exclude/Unexclude bracketing is the caller's
// responsibility, matching Communicator::Barrier).
func (c *Client) Barrier(commName string) error {
	token, err := c.roundTrip("barrier", commName)
	if err != nil {
		return err
	}
	if token != "barrier_done" {
		return fmt.Errorf("%w: unexpected barrier reply %q", ErrProtocolViolation, token)
	}
	return nil
}

func (c *Client) roundTrip(cmd, payload string) (string, error) {
	defer c.observe(time.Now())
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := wire.WriteString(c.conn, cmd); err != nil {
		return "", err
	}
	if err := wire.WriteString(c.conn, payload); err != nil {
		return "", err
	}
	return wire.ReadString(c.conn)
}

// Checkpoint ships name/data pairs to the tracker under the `checkpoint`
// command (spec §4.9), prefixed with the entry count so the tracker knows
// how many name/blob pairs to read before replying.
func (c *Client) Checkpoint(entries map[string][]byte) error {
	defer c.observe(time.Now())
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := wire.WriteString(c.conn, "checkpoint"); err != nil {
		return err
	}
	if err := wire.WriteInt32(c.conn, int32(len(entries))); err != nil {
		return err
	}
	for name, data := range entries {
		if err := wire.WriteString(c.conn, name); err != nil {
			return err
		}
		if err := wire.WriteBytes(c.conn, data); err != nil {
			return err
		}
	}
	token, err := wire.ReadString(c.conn)
	if err != nil {
		return err
	}
	if token != "checkpoint_done" {
		return fmt.Errorf("%w: unexpected checkpoint reply %q", ErrProtocolViolation, token)
	}
	return nil
}

// LoadCheckpoint sends the names of the entries it wants restored, then
// retrieves the stored blob for each in the same order, returning the
// version number the tracker reports (0 when nothing was stored, spec
// §4.9).
func (c *Client) LoadCheckpoint(names []string) (map[string][]byte, int32, error) {
	defer c.observe(time.Now())
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := wire.WriteString(c.conn, "load_checkpoint"); err != nil {
		return nil, 0, err
	}
	if err := wire.WriteInt32(c.conn, int32(len(names))); err != nil {
		return nil, 0, err
	}
	for _, name := range names {
		if err := wire.WriteString(c.conn, name); err != nil {
			return nil, 0, err
		}
	}
	version, err := wire.ReadInt32(c.conn)
	if err != nil {
		return nil, 0, err
	}
	out := make(map[string][]byte, len(names))
	for _, name := range names {
		data, err := wire.ReadBytes(c.conn)
		if err != nil {
			return nil, 0, err
		}
		out[name] = data
	}
	return out, version, nil
}

// Heartbeat sends the heartbeat command and returns the dead/pending node
// counts (spec §4.5/§4.4); the heartbeat daemon caches DeadNodes from the
// result.
func (c *Client) Heartbeat() (deadNodes []int32, pendingNodes int32, err error) {
	defer c.observe(time.Now())
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := wire.WriteString(c.conn, "heartbeat"); err != nil {
		return nil, 0, err
	}
	token, err := wire.ReadString(c.conn)
	if err != nil {
		return nil, 0, err
	}
	if token != "heartbeat_done" {
		return nil, 0, fmt.Errorf("%w: unexpected heartbeat reply %q", ErrProtocolViolation, token)
	}
	numDead, err := wire.ReadInt32(c.conn)
	if err != nil {
		return nil, 0, err
	}
	dead := make([]int32, numDead)
	for i := range dead {
		if dead[i], err = wire.ReadInt32(c.conn); err != nil {
			return nil, 0, err
		}
	}
	if pendingNodes, err = wire.ReadInt32(c.conn); err != nil {
		return nil, 0, err
	}
	c.setDeadNodes(dead)
	return dead, pendingNodes, nil
}

// Print sends a diagnostic string to the tracker for centralized logging
// (spec §12's TrackerPrint, §6's programmer-visible surface).
func (c *Client) Print(msg string) error {
	defer c.observe(time.Now())
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := wire.WriteString(c.conn, "print"); err != nil {
		return err
	}
	return wire.WriteString(c.conn, msg)
}

// Shutdown notifies the tracker this worker is leaving and closes the
// connection. Idempotent.
func (c *Client) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn == nil {
		return nil
	}
	_ = wire.WriteString(c.conn, "shutdown")
	return c.conn.Close()
}
