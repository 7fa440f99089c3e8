// Package adapter implements the process-wide, single-multiplexer event
// loop (spec §4.3, component C3): a background worker owns the
// readiness-notification primitive, channels register the events they care
// about, and readiness callbacks are dispatched onto a worker pool.
//
// RDC_BACKEND selects which Peer Address backend-tag the adapter speaks
// (spec §9's "sparse feature flags": RDMA and shared-memory transports are
// represented as alternative Adapter implementations behind this same
// interface; only the TCP backend has real internals here, matching the
// spec's explicit "not specified" for RDMA/IPC internals).
package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/rdcgo/rdc/internal/env"
	"github.com/rdcgo/rdc/metrics"
)

// Kind is the event-interest state machine a registered Handler moves
// through (spec §4.2's "none, read, write, read+write").
type Kind int

const (
	KindNone Kind = iota
	KindRead
	KindWrite
	KindReadWrite
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindReadWrite:
		return "read+write"
	default:
		return "invalid"
	}
}

// ErrInvalidTransition is returned by AddEvent/DeleteEvent for any
// transition the state machine does not define (spec §4.2: "other
// combinations invalid and fatal").
var ErrInvalidTransition = errors.New("adapter: invalid event transition")

// AddEvent returns the Kind reached by adding ev (KindRead or KindWrite) to
// k, per spec §4.2: none→{read,write}, the other half of the pair →
// read+write; adding an already-present event, or adding to read+write, is
// invalid.
func AddEvent(k, ev Kind) (Kind, error) {
	switch {
	case ev != KindRead && ev != KindWrite:
		return k, ErrInvalidTransition
	case k == KindNone:
		return ev, nil
	case k == KindRead && ev == KindWrite:
		return KindReadWrite, nil
	case k == KindWrite && ev == KindRead:
		return KindReadWrite, nil
	default:
		return k, ErrInvalidTransition
	}
}

// DeleteEvent returns the Kind reached by removing ev from k, symmetric
// with AddEvent.
func DeleteEvent(k, ev Kind) (Kind, error) {
	switch {
	case ev != KindRead && ev != KindWrite:
		return k, ErrInvalidTransition
	case k == KindReadWrite && ev == KindRead:
		return KindWrite, nil
	case k == KindReadWrite && ev == KindWrite:
		return KindRead, nil
	case k == ev:
		return KindNone, nil
	default:
		return k, ErrInvalidTransition
	}
}

// Handler is implemented by anything that can be registered with an
// Adapter: in this system, always a *channel.Channel.
type Handler interface {
	FD() int
	OnReadable()
	OnWritable()
	OnError(err error)
}

// Adapter is the process-wide multiplexer singleton (spec §4.3).
type Adapter interface {
	// Register adds h's descriptor to the multiplexer with the given
	// interest, and begins dispatching readiness callbacks for it.
	Register(h Handler, kind Kind) error
	// Modify changes the interest registered for h's descriptor.
	Modify(h Handler, kind Kind) error
	// Unregister removes fd from the multiplexer. Safe to call more than
	// once.
	Unregister(fd int) error
	// Listen binds a non-blocking listener socket on port.
	Listen(ctx context.Context, port int) (net.Listener, error)
	// Dial opens a non-blocking TCP connection to host:port.
	Dial(ctx context.Context, host string, port int) (net.Conn, error)
	// Close stops the loop and releases the multiplexing primitive. Safe
	// to call more than once.
	Close() error
}

// Backend names a Peer Address backend-tag (spec §3's Peer Address tuple).
type Backend string

const (
	BackendTCP  Backend = "tcp"
	BackendRDMA Backend = "rdma"
	BackendIPC  Backend = "ipc"
)

// ErrUnsupportedBackend is returned by New for any backend that has no
// working internals in this implementation (RDMA, IPC — spec §1's explicit
// "RDMA and shared-memory transports... not [specified internally]").
var ErrUnsupportedBackend = errors.New("adapter: backend has no internals in this build")

// SelectBackend reads RDC_BACKEND (default tcp).
func SelectBackend() Backend {
	return Backend(env.String("RDC_BACKEND", string(BackendTCP)))
}

// New constructs the process-wide Adapter singleton for the configured
// backend. dispatchCapacity sizes the worker pool that runs readiness
// callbacks (spec §4.3); 0 means an unbounded dynamic pool. mp records a
// counter of dispatched readiness callbacks (a nil mp is treated as
// metrics.NewNoopProvider()).
func New(backend Backend, dispatchCapacity uint, mp metrics.Provider) (Adapter, error) {
	if mp == nil {
		mp = metrics.NewNoopProvider()
	}
	switch backend {
	case BackendTCP:
		return newTCPAdapter(dispatchCapacity, mp)
	case BackendRDMA, BackendIPC:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, backend)
	default:
		return nil, fmt.Errorf("adapter: unknown backend %q", backend)
	}
}
