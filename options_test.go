package rdc

import (
	"testing"
	"time"

	"github.com/rdcgo/rdc/adapter"
	"github.com/rdcgo/rdc/metrics"
)

func TestOptions_OverrideDefaults(t *testing.T) {
	cfg := defaultConfig()
	opts := []Option{
		WithTrackerURI("tracker.internal"),
		WithTrackerPort(7777),
		WithHeartbeatInterval(5 * time.Second),
		WithRestart(3),
		WithReduceRingMincount(1 << 10),
		WithConnectRetry(2),
		WithBackend(adapter.BackendTCP),
		WithWorkerPoolSize(4),
		WithListenPort(8888),
		WithMetricsProvider(metrics.NewBasicProvider()),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.TrackerURI != "tracker.internal" {
		t.Fatalf("TrackerURI = %q; want tracker.internal", cfg.TrackerURI)
	}
	if cfg.TrackerPort != 7777 {
		t.Fatalf("TrackerPort = %d; want 7777", cfg.TrackerPort)
	}
	if cfg.HeartbeatInterval != 5*time.Second {
		t.Fatalf("HeartbeatInterval = %v; want 5s", cfg.HeartbeatInterval)
	}
	if !cfg.Restart || cfg.PendingNodes != 3 {
		t.Fatalf("Restart/PendingNodes = %v/%d; want true/3", cfg.Restart, cfg.PendingNodes)
	}
	if cfg.ReduceRingMincount != 1<<10 {
		t.Fatalf("ReduceRingMincount = %d; want %d", cfg.ReduceRingMincount, 1<<10)
	}
	if cfg.ConnectRetry != 2 {
		t.Fatalf("ConnectRetry = %d; want 2", cfg.ConnectRetry)
	}
	if cfg.Backend != adapter.BackendTCP {
		t.Fatalf("Backend = %v; want tcp", cfg.Backend)
	}
	if cfg.WorkerPoolSize != 4 {
		t.Fatalf("WorkerPoolSize = %d; want 4", cfg.WorkerPoolSize)
	}
	if cfg.ListenPort != 8888 {
		t.Fatalf("ListenPort = %d; want 8888", cfg.ListenPort)
	}
	if cfg.MetricsProvider == nil {
		t.Fatalf("MetricsProvider was not overridden")
	}

	if err := validateConfig(&cfg); err != nil {
		t.Fatalf("validateConfig returned error for overridden config: %v", err)
	}
}

func TestWithConnectRetry_NegativeRejectedByValidate(t *testing.T) {
	cfg := defaultConfig()
	WithConnectRetry(-1)(&cfg)
	if err := validateConfig(&cfg); err == nil {
		t.Fatalf("expected validateConfig to reject negative ConnectRetry override")
	}
}
