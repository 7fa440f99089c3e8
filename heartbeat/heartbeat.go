// Package heartbeat implements the dedicated background thread that keeps
// the tracker's dead/pending-node view fresh (spec §4.5, component C5).
package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rdcgo/rdc/internal/env"
	"github.com/rdcgo/rdc/metrics"
	"github.com/rdcgo/rdc/tracker"
)

// DefaultInterval reads RDC_HEARTBEAT_INTERVAL (seconds), defaulting to
// 60s (spec §4.5: "default 60s, configurable").
func DefaultInterval() time.Duration {
	return time.Duration(env.Int(env.HeartbeatInterval, 60)) * time.Second
}

// Daemon is the heartbeat loop: wait for the tracker connection, then send
// `heartbeat` on a fixed interval under the tracker's own mutex until the
// connection is closed or a round-trip fails.
type Daemon struct {
	client   *tracker.Client
	interval time.Duration
	logger   zerolog.Logger

	deadNodes metrics.Histogram
	failures  metrics.Counter

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// New constructs a Daemon for client. interval <= 0 means DefaultInterval.
// A nil mp is treated as metrics.NewNoopProvider().
func New(client *tracker.Client, interval time.Duration, logger zerolog.Logger, mp metrics.Provider) *Daemon {
	if interval <= 0 {
		interval = DefaultInterval()
	}
	if mp == nil {
		mp = metrics.NewNoopProvider()
	}
	return &Daemon{
		client:   client,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
		deadNodes: mp.Histogram(
			"rdc.heartbeat.dead_nodes",
			metrics.WithDescription("dead-node count reported per heartbeat round"),
		),
		failures: mp.Counter(
			"rdc.heartbeat.failures",
			metrics.WithDescription("heartbeat round-trips that failed"),
		),
	}
}

// Start launches the heartbeat loop in a background goroutine (spec
// §4.5's "a dedicated thread").
func (d *Daemon) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	go d.run(ctx)
}

func (d *Daemon) run(ctx context.Context) {
	defer close(d.done)

	for !d.client.Connected() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.interval):
		}
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for d.client.Connected() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if d.client.IsClosed() {
			return
		}
		dead, pending, err := d.client.Heartbeat()
		if err != nil {
			d.failures.Add(1)
			d.logger.Warn().Err(err).Msg("heartbeat round-trip failed, marking tracker disconnected")
			d.client.MarkDisconnected()
			return
		}
		d.deadNodes.Record(float64(len(dead)))
		if len(dead) > 0 {
			d.logger.Info().Ints32("dead_ranks", dead).Msg("heartbeat: dead nodes detected")
		}
		if pending > 0 {
			d.logger.Info().Int32("pending_nodes", pending).Msg("heartbeat: pending nodes detected")
		}
	}
}

// Stop cancels the loop and waits for it to exit. Safe to call more than
// once (mirrors the teacher's sync.Once-guarded shutdown sequence in
// lifecycle.go).
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		if d.cancel != nil {
			d.cancel()
		}
		<-d.done
	})
}
