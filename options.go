package rdc

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/rdcgo/rdc/adapter"
	"github.com/rdcgo/rdc/metrics"
)

// Option configures a Manager at Init time, mirroring the teacher's
// functional-options convention (options.go).
type Option func(*Config)

// WithTrackerURI overrides RDC_TRACKER_URI.
func WithTrackerURI(uri string) Option {
	return func(c *Config) { c.TrackerURI = uri }
}

// WithTrackerPort overrides RDC_TRACKER_PORT.
func WithTrackerPort(port int) Option {
	return func(c *Config) { c.TrackerPort = port }
}

// WithHeartbeatInterval overrides RDC_HEARTBEAT_INTERVAL.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Config) { c.HeartbeatInterval = d }
}

// WithRestart marks this process as rejoining a live cluster, declaring
// pendingNodes to the tracker (RDC_RESTART, RDC_PENDING_NODES).
func WithRestart(pendingNodes int32) Option {
	return func(c *Config) {
		c.Restart = true
		c.PendingNodes = pendingNodes
	}
}

// WithReduceRingMincount overrides rdc_reduce_ring_mincount.
func WithReduceRingMincount(n int64) Option {
	return func(c *Config) { c.ReduceRingMincount = n }
}

// WithConnectRetry overrides RDC_WORKER_CONNECT_RETRY.
func WithConnectRetry(n int) Option {
	return func(c *Config) { c.ConnectRetry = n }
}

// WithBackend overrides RDC_BACKEND.
func WithBackend(b adapter.Backend) Option {
	return func(c *Config) { c.Backend = b }
}

// WithWorkerPoolSize overrides RDC_NUM_WORKERS.
func WithWorkerPoolSize(n uint) Option {
	return func(c *Config) { c.WorkerPoolSize = n }
}

// WithListenPort sets the port this process's channel listener binds.
func WithListenPort(port int) Option {
	return func(c *Config) { c.ListenPort = port }
}

// WithMetricsProvider overrides the default no-op metrics provider.
func WithMetricsProvider(p metrics.Provider) Option {
	return func(c *Config) { c.MetricsProvider = p }
}

// WithLogger overrides the default disabled logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}
