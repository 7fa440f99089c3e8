// Package rdc is the programmer-visible surface of the fault-aware
// collective-communication runtime (spec §6, component C8's Manager):
// Init/Finalize a process-wide Manager, create or fetch named
// Communicators, run Barrier/Broadcast/Allgather/Allreduce/Send/Recv, and
// checkpoint/restore registered state.
package rdc

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/rdcgo/rdc/adapter"
	"github.com/rdcgo/rdc/internal/env"
	"github.com/rdcgo/rdc/metrics"
)

// Config parameterizes a Manager. The zero value is never used directly —
// construct one with defaultConfig() plus Options, mirroring the teacher's
// Config/defaultConfig/Option layering (config.go/defaults.go/options.go
// in the teacher repo).
type Config struct {
	// TrackerURI/TrackerPort is the coordinator endpoint (RDC_TRACKER_URI,
	// RDC_TRACKER_PORT).
	TrackerURI  string
	TrackerPort int

	// HeartbeatInterval is the heartbeat daemon's cadence
	// (RDC_HEARTBEAT_INTERVAL, default 60s).
	HeartbeatInterval time.Duration

	// Restart, if true, joins an existing cluster as a replacement
	// (RDC_RESTART) rather than starting fresh.
	Restart bool
	// PendingNodes is declared to the tracker on restart
	// (RDC_PENDING_NODES).
	PendingNodes int32

	// ReduceRingMincount is the byte threshold at which Allreduce switches
	// from tree to ring (rdc_reduce_ring_mincount, B/K/M/G suffixes).
	ReduceRingMincount int64

	// ConnectRetry bounds the tracker connect retry loop
	// (RDC_WORKER_CONNECT_RETRY).
	ConnectRetry int

	// Backend selects the adapter implementation (RDC_BACKEND).
	Backend adapter.Backend

	// WorkerPoolSize sizes the adapter's readiness-callback dispatch pool
	// (RDC_NUM_WORKERS); 0 means an unbounded dynamic pool.
	WorkerPoolSize uint

	// ListenPort is the port this process's channel listener binds for
	// inbound peer connections during rendezvous.
	ListenPort int

	// MetricsProvider records runtime instrumentation; defaults to a
	// no-op provider.
	MetricsProvider metrics.Provider

	// Logger is threaded down into tracker, heartbeat, checkpoint, and comm
	// (spec §10.3); defaults to a disabled logger.
	Logger zerolog.Logger
}

// defaultConfig centralizes the environment-resolved defaults, mirroring
// the teacher's defaultConfig() (defaults.go): applied first, then
// Options override individual fields, matching spec §4.8's "parameters
// read from environment (command-line overrides)".
func defaultConfig() Config {
	return Config{
		TrackerURI:         env.String(env.TrackerURI, "127.0.0.1"),
		TrackerPort:        env.Int(env.TrackerPort, 9000),
		HeartbeatInterval:  time.Duration(env.Int(env.HeartbeatInterval, 60)) * time.Second,
		Restart:            env.Bool(env.Restart, false),
		PendingNodes:       int32(env.Int(env.PendingNodes, 0)),
		ReduceRingMincount: env.ByteSize(env.ReduceRingMincount, 32<<20),
		ConnectRetry:       env.Int(env.ConnectRetry, 5),
		Backend:            adapter.SelectBackend(),
		WorkerPoolSize:     uint(env.Int(env.NumWorkers, 0)),
		ListenPort:         0,
		MetricsProvider:    metrics.NewNoopProvider(),
		Logger:             zerolog.Nop(),
	}
}

// validateConfig performs the lightweight invariant checks the teacher's
// validateConfig (defaults.go) does for its own Config: reject values that
// can never be valid rather than failing confusingly deep inside Init.
func validateConfig(cfg *Config) error {
	if cfg.TrackerPort <= 0 {
		return ErrInvalidConfig
	}
	if cfg.ConnectRetry < 0 {
		return ErrInvalidConfig
	}
	if cfg.ReduceRingMincount < 0 {
		return ErrInvalidConfig
	}
	if cfg.MetricsProvider == nil {
		return ErrInvalidConfig
	}
	return nil
}
