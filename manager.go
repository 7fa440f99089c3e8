package rdc

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/rdcgo/rdc/adapter"
	"github.com/rdcgo/rdc/buffer"
	"github.com/rdcgo/rdc/checkpoint"
	"github.com/rdcgo/rdc/comm"
	"github.com/rdcgo/rdc/heartbeat"
	"github.com/rdcgo/rdc/ops"
	"github.com/rdcgo/rdc/request"
	"github.com/rdcgo/rdc/tracker"
)

// Manager is the process-wide singleton component (spec §4.8, component
// C8): it owns the adapter, the tracker client, the heartbeat daemon, the
// checkpoint store, and every named Communicator. Per spec §9's guidance
// on process-wide singletons, Manager is an explicitly constructed value
// (not a hidden global) that Init publishes to a package-level slot;
// GetRank/Barrier/Allreduce/etc. are convenience wrappers over that slot so
// callers that don't need multiple Managers in one process (the common
// case) never have to thread one through their own call stack.
type Manager struct {
	cfg Config

	adapter   adapter.Adapter
	listener  net.Listener
	trk       *tracker.Client
	reg       *request.Registry
	arena     *buffer.Arena
	opsReg    *ops.Registry
	heartbeat *heartbeat.Daemon
	store     *checkpoint.Store
	lifecycle *lifecycleCoordinator

	rank      int
	worldSize int
	startInfo *tracker.StartInfo

	mu    sync.RWMutex
	comms map[string]*comm.Communicator
}

var (
	globalMu sync.Mutex
	global   *Manager
)

// Init constructs the process-wide Manager, connects to the tracker, and
// builds the "main" Communicator (spec §4.8's Init, the reserved "main"
// name from spec §3). Only one Manager may be live per process; call
// Finalize before a second Init.
func Init(ctx context.Context, opts ...Option) error {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global != nil {
		return ErrAlreadyInitialized
	}

	m, err := newManager(ctx, opts...)
	if err != nil {
		return err
	}
	global = m
	return nil
}

// Finalize shuts down the main communicator, every other communicator, the
// adapter, the heartbeat daemon, and the tracker client (spec §4.8), and
// clears the process-wide Manager so a later Init can run again.
func Finalize() error {
	globalMu.Lock()
	m := global
	global = nil
	globalMu.Unlock()

	if m == nil {
		return ErrNotInitialized
	}
	return m.lifecycle.run()
}

func currentManager() (*Manager, error) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		return nil, ErrNotInitialized
	}
	return global, nil
}

func newManager(ctx context.Context, opts ...Option) (*Manager, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	a, err := adapter.New(cfg.Backend, cfg.WorkerPoolSize, cfg.MetricsProvider)
	if err != nil {
		return nil, fmt.Errorf("rdc: create adapter: %w", err)
	}
	ln, err := a.Listen(ctx, cfg.ListenPort)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("rdc: listen: %w", err)
	}

	hostAddr, err := selfAddress(cfg.Backend, ln)
	if err != nil {
		_ = ln.Close()
		_ = a.Close()
		return nil, err
	}

	trk := tracker.New(tracker.Config{
		URI:             cfg.TrackerURI,
		Port:            cfg.TrackerPort,
		HostAddr:        hostAddr,
		Restart:         cfg.Restart,
		PendingNodes:    cfg.PendingNodes,
		ConnectRetry:    cfg.ConnectRetry,
		Logger:          cfg.Logger,
		MetricsProvider: cfg.MetricsProvider,
	})

	info, err := trk.Start(ctx, -1, hostAddr)
	if err != nil {
		_ = ln.Close()
		_ = a.Close()
		return nil, fmt.Errorf("rdc: tracker start: %w", err)
	}

	reg := request.NewRegistry()
	arena := buffer.NewArena()
	opsReg := ops.NewRegistry()

	hb := heartbeat.New(trk, cfg.HeartbeatInterval, cfg.Logger, cfg.MetricsProvider)
	hb.Start(ctx)

	store := checkpoint.NewStore(trk, cfg.Logger, cfg.MetricsProvider)

	main := comm.New("main", int(info.Rank), int(info.WorldSize), a, ln, trk, reg, arena, cfg.ReduceRingMincount, cfg.Logger, cfg.MetricsProvider)
	if err := main.Init(ctx, info); err != nil {
		hb.Stop()
		_ = ln.Close()
		_ = a.Close()
		_ = trk.Shutdown()
		return nil, fmt.Errorf("rdc: init main communicator: %w", err)
	}

	m := &Manager{
		cfg:       cfg,
		adapter:   a,
		listener:  ln,
		trk:       trk,
		reg:       reg,
		arena:     arena,
		opsReg:    opsReg,
		heartbeat: hb,
		store:     store,
		rank:      int(info.Rank),
		worldSize: int(info.WorldSize),
		startInfo: info,
		comms:     map[string]*comm.Communicator{"main": main},
	}
	m.lifecycle = newLifecycleCoordinator(m.closeCommunicators, hb.Stop, a.Close, trk.Shutdown)
	return m, nil
}

// selfAddress stringifies this process's listener as a spec §3 Peer
// Address tuple ("backend:host:port").
func selfAddress(backend adapter.Backend, ln net.Listener) (string, error) {
	tcpAddr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		return "", fmt.Errorf("rdc: listener address %v is not TCP", ln.Addr())
	}
	host, err := os.Hostname()
	if err != nil {
		host = tcpAddr.IP.String()
	}
	return fmt.Sprintf("%s:%s:%d", backend, host, tcpAddr.Port), nil
}

func (m *Manager) closeCommunicators() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for name, c := range m.comms {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("rdc: close communicator %q: %w", name, err)
		}
	}
	return firstErr
}

// NewCommunicator creates (or returns, if already created) the named
// Communicator, rendezvousing it over the same connect/accept peer list
// the tracker handed back at Init (spec §4.8).
func (m *Manager) NewCommunicator(ctx context.Context, name string) (*comm.Communicator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.comms[name]; ok {
		return c, nil
	}
	c := comm.New(name, m.rank, m.worldSize, m.adapter, m.listener, m.trk, m.reg, m.arena, m.cfg.ReduceRingMincount, m.cfg.Logger, m.cfg.MetricsProvider)
	if err := c.Init(ctx, m.startInfo); err != nil {
		return nil, fmt.Errorf("rdc: init communicator %q: %w", name, err)
	}
	m.comms[name] = c
	return c, nil
}

// GetCommunicator returns a previously created Communicator by name.
func (m *Manager) GetCommunicator(name string) (*comm.Communicator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.comms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommunicator, name)
	}
	return c, nil
}

// ResetAllCommunicators tears down and rebuilds every communicator's links
// against the current topology (spec §4.7's fault-recovery path: "at the
// next CheckPoint, the manager can tear down and re-build all
// communicators via ResetAllCommunicators followed by ReConnectLinks").
func (m *Manager) ResetAllCommunicators(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, c := range m.comms {
		if err := c.Close(); err != nil {
			return fmt.Errorf("rdc: reset: close communicator %q: %w", name, err)
		}
	}
	for name, c := range m.comms {
		if err := c.ReConnectLinks(ctx, m.startInfo); err != nil {
			return fmt.Errorf("rdc: reset: reconnect communicator %q: %w", name, err)
		}
	}
	return nil
}

func (m *Manager) mainComm() (*comm.Communicator, error) {
	return m.GetCommunicator("main")
}

func (m *Manager) resolveComm(name []string) (*comm.Communicator, error) {
	if len(name) == 0 {
		return m.mainComm()
	}
	return m.GetCommunicator(name[0])
}

// AddGlobalState registers buf as checkpoint state assumed identical
// across every rank.
func (m *Manager) AddGlobalState(name string, buf buffer.Buffer) {
	m.store.AddGlobalState(name, buf)
}

// AddLocalState registers buf as genuinely per-rank checkpoint state.
func (m *Manager) AddLocalState(name string, buf buffer.Buffer) {
	m.store.AddLocalState(name, buf)
}

// CheckPoint ships every registered region's current contents to the
// tracker.
func (m *Manager) CheckPoint() error {
	return m.store.CheckPoint()
}

// LoadCheckPoint restores every registered region from the tracker,
// returning the tracker-owned version number.
func (m *Manager) LoadCheckPoint() (int32, error) {
	return m.store.LoadCheckPoint()
}

// TrackerPrint forwards msg to the tracker for centralized logging (spec
// §12's supplemented TrackerPrint feature).
func (m *Manager) TrackerPrint(msg string) error {
	return m.trk.Print(msg)
}

// OpsRegistry returns the reduce-operator registry collectives look up
// operators in.
func (m *Manager) OpsRegistry() *ops.Registry { return m.opsReg }

// ---- package-level convenience wrappers over the process-wide Manager ----

// GetRank returns this process's rank.
func GetRank() (int, error) {
	m, err := currentManager()
	if err != nil {
		return 0, err
	}
	return m.rank, nil
}

// GetWorldSize returns the number of ranks in the current world.
func GetWorldSize() (int, error) {
	m, err := currentManager()
	if err != nil {
		return 0, err
	}
	return m.worldSize, nil
}

// NewCommunicator creates (or fetches) a named communicator on the
// process-wide Manager.
func NewCommunicator(ctx context.Context, name string) (*comm.Communicator, error) {
	m, err := currentManager()
	if err != nil {
		return nil, err
	}
	return m.NewCommunicator(ctx, name)
}

// GetCommunicator fetches a previously created communicator by name.
func GetCommunicator(name string) (*comm.Communicator, error) {
	m, err := currentManager()
	if err != nil {
		return nil, err
	}
	return m.GetCommunicator(name)
}

// Barrier blocks until every rank of commName (default "main") has entered
// it.
func Barrier(ctx context.Context, commName ...string) error {
	m, err := currentManager()
	if err != nil {
		return err
	}
	c, err := m.resolveComm(commName)
	if err != nil {
		return err
	}
	return c.Barrier(ctx)
}

// Broadcast runs tree broadcast from root over commName (default "main").
func Broadcast(buf buffer.Buffer, root int, commName ...string) error {
	m, err := currentManager()
	if err != nil {
		return err
	}
	c, err := m.resolveComm(commName)
	if err != nil {
		return err
	}
	return c.Broadcast(buf, root)
}

// Allgather runs ring allgather over slices on commName (default "main").
func Allgather(slices []buffer.Buffer, commName ...string) error {
	m, err := currentManager()
	if err != nil {
		return err
	}
	c, err := m.resolveComm(commName)
	if err != nil {
		return err
	}
	return c.AllgatherRing(slices)
}

// Allreduce applies opName (one of ops.Max/Min/Sum/BitOR) element-wise of
// kind across every rank's buf on commName (default "main"), dispatching
// between tree and ring by size (spec §4.7).
func Allreduce(buf buffer.Buffer, opName string, kind ops.Kind, commName ...string) error {
	m, err := currentManager()
	if err != nil {
		return err
	}
	c, err := m.resolveComm(commName)
	if err != nil {
		return err
	}
	reducer, err := m.opsReg.Lookup(opName, kind)
	if err != nil {
		return err
	}
	return c.Allreduce(buf, reducer, kind)
}

// Send blocks until buf has been fully transmitted to destRank on commName
// (default "main").
func Send(destRank int, buf buffer.Buffer, commName ...string) error {
	m, err := currentManager()
	if err != nil {
		return err
	}
	c, err := m.resolveComm(commName)
	if err != nil {
		return err
	}
	return c.Send(destRank, buf)
}

// Recv blocks until buf has been fully filled from srcRank on commName
// (default "main").
func Recv(srcRank int, buf buffer.Buffer, commName ...string) error {
	m, err := currentManager()
	if err != nil {
		return err
	}
	c, err := m.resolveComm(commName)
	if err != nil {
		return err
	}
	return c.Recv(srcRank, buf)
}

// ISend posts a non-blocking send to destRank on commName (default
// "main").
func ISend(destRank int, buf buffer.Buffer, commName ...string) (*request.Completion, error) {
	m, err := currentManager()
	if err != nil {
		return nil, err
	}
	c, err := m.resolveComm(commName)
	if err != nil {
		return nil, err
	}
	return c.ISend(destRank, buf)
}

// IRecv posts a non-blocking recv from srcRank on commName (default
// "main").
func IRecv(srcRank int, buf buffer.Buffer, commName ...string) (*request.Completion, error) {
	m, err := currentManager()
	if err != nil {
		return nil, err
	}
	c, err := m.resolveComm(commName)
	if err != nil {
		return nil, err
	}
	return c.IRecv(srcRank, buf)
}

// AddGlobalState registers buf as checkpoint state assumed identical
// across every rank.
func AddGlobalState(name string, buf buffer.Buffer) error {
	m, err := currentManager()
	if err != nil {
		return err
	}
	m.AddGlobalState(name, buf)
	return nil
}

// AddLocalState registers buf as genuinely per-rank checkpoint state.
func AddLocalState(name string, buf buffer.Buffer) error {
	m, err := currentManager()
	if err != nil {
		return err
	}
	m.AddLocalState(name, buf)
	return nil
}

// CheckPoint ships every registered region's current contents to the
// tracker.
func CheckPoint() error {
	m, err := currentManager()
	if err != nil {
		return err
	}
	return m.CheckPoint()
}

// LoadCheckPoint restores every registered region from the tracker,
// returning the tracker-owned version number.
func LoadCheckPoint() (int32, error) {
	m, err := currentManager()
	if err != nil {
		return 0, err
	}
	return m.LoadCheckPoint()
}

// ResetAllCommunicators tears down and rebuilds every communicator's links
// (spec §4.7's fault-recovery path).
func ResetAllCommunicators(ctx context.Context) error {
	m, err := currentManager()
	if err != nil {
		return err
	}
	return m.ResetAllCommunicators(ctx)
}

// TrackerPrint forwards msg to the tracker for centralized logging.
func TrackerPrint(msg string) error {
	m, err := currentManager()
	if err != nil {
		return err
	}
	return m.TrackerPrint(msg)
}
