package rdc

import "sync"

// lifecycleCoordinator runs the Manager's shutdown sequence exactly once,
// in a fixed order, regardless of how many goroutines call Finalize
// concurrently — adapted from the teacher's lifecycleCoordinator
// (lifecycle.go), which gives the same guarantee for a Workers pool's
// cancel/drain/close sequence.
type lifecycleCoordinator struct {
	once sync.Once

	closeCommunicators func() error
	stopHeartbeat      func()
	closeAdapter       func() error
	shutdownTracker    func() error
}

func newLifecycleCoordinator(
	closeCommunicators func() error,
	stopHeartbeat func(),
	closeAdapter func() error,
	shutdownTracker func() error,
) *lifecycleCoordinator {
	return &lifecycleCoordinator{
		closeCommunicators: closeCommunicators,
		stopHeartbeat:      stopHeartbeat,
		closeAdapter:       closeAdapter,
		shutdownTracker:    shutdownTracker,
	}
}

// run executes the shutdown sequence exactly once (spec §4.8's Finalize:
// "shuts down the main communicator, the adapter, the heartbeat daemon,
// and the tracker client"). Errors from each step are collected but do not
// stop later steps from running — a stuck communicator must not prevent
// the tracker connection from also being torn down.
func (l *lifecycleCoordinator) run() error {
	var firstErr error
	l.once.Do(func() {
		if err := l.closeCommunicators(); err != nil && firstErr == nil {
			firstErr = err
		}
		l.stopHeartbeat()
		if err := l.closeAdapter(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := l.shutdownTracker(); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}
