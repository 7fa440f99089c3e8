package tracker_test

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rdcgo/rdc/internal/wire"
	"github.com/rdcgo/rdc/tracker"
)

// fakeTracker is a minimal stand-in server speaking just enough of the
// wire protocol (spec §4.4) to exercise Client's framing.
func fakeTracker(t *testing.T) (host string, port int, conns chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	conns = make(chan net.Conn, 4)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			conns <- c
		}
	}()

	h, p, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err = strconv.Atoi(p)
	require.NoError(t, err)
	return h, port, conns
}

var errNoConn = errors.New("tracker: no incoming connection")

// acceptOne waits for the next accepted connection from fakeTracker.
func acceptOne(conns chan net.Conn) (net.Conn, error) {
	select {
	case c := <-conns:
		return c, nil
	case <-time.After(5 * time.Second):
		return nil, errNoConn
	}
}

// serveStart plays the tracker side of one start handshake, matching the
// field order of original_source's Tracker::Connect, and leaves the
// connection open for further commands.
func serveStart(conn net.Conn, worldSize, rank, numConnect, numAccept int32) error {
	if _, err := wire.ReadString(conn); err != nil { // "start" or "restart"
		return err
	}
	if _, err := wire.ReadInt32(conn); err != nil { // rank sent by worker
		return err
	}
	if _, err := wire.ReadString(conn); err != nil { // worker addr
		return err
	}

	if err := wire.WriteInt32(conn, 0); err != nil { // num dead
		return err
	}
	if err := wire.WriteInt32(conn, 0); err != nil { // pending nodes
		return err
	}
	if err := wire.WriteInt32(conn, 0); err != nil { // num same-host peers
		return err
	}
	if err := wire.WriteInt32(conn, worldSize); err != nil {
		return err
	}
	if err := wire.WriteInt32(conn, rank); err != nil {
		return err
	}
	if err := wire.WriteInt32(conn, numConnect); err != nil {
		return err
	}
	if err := wire.WriteInt32(conn, numAccept); err != nil {
		return err
	}
	for i := int32(0); i < numConnect; i++ {
		if err := wire.WriteString(conn, "tcp:127.0.0.1:9911"); err != nil {
			return err
		}
		if err := wire.WriteInt32(conn, i); err != nil {
			return err
		}
	}
	for i := int32(0); i < numAccept; i++ {
		if err := wire.WriteInt32(conn, i+numConnect); err != nil {
			return err
		}
	}
	return nil
}

func TestStartHandshake(t *testing.T) {
	host, port, conns := fakeTracker(t)

	cfg := tracker.DefaultConfig()
	cfg.URI = host
	cfg.Port = port
	cfg.ConnectRetry = 1
	client := tracker.New(cfg)

	serveErr := make(chan error, 1)
	go func() {
		conn, err := acceptOne(conns)
		if err != nil {
			serveErr <- err
			return
		}
		defer conn.Close()
		serveErr <- serveStart(conn, 4, 2, 1, 0)
	}()

	info, err := client.Start(context.Background(), -1, "tcp:127.0.0.1:9910")
	require.NoError(t, err)
	require.NoError(t, <-serveErr)

	require.Equal(t, int32(4), info.WorldSize)
	require.Equal(t, int32(2), info.Rank)
	require.Equal(t, int32(1), info.NumConnect)
	require.Equal(t, int32(0), info.NumAccept)
	require.Equal(t, []string{"tcp:127.0.0.1:9911"}, info.ConnectAddrs)
	require.Equal(t, []int32{0}, info.ConnectRanks)
}

func TestBarrierRoundTrip(t *testing.T) {
	host, port, conns := fakeTracker(t)

	cfg := tracker.DefaultConfig()
	cfg.URI = host
	cfg.Port = port
	cfg.ConnectRetry = 1
	client := tracker.New(cfg)

	serveErr := make(chan error, 1)
	go func() {
		conn, err := acceptOne(conns)
		if err != nil {
			serveErr <- err
			return
		}
		defer conn.Close()
		if err := serveStart(conn, 1, 0, 0, 0); err != nil {
			serveErr <- err
			return
		}
		if _, err := wire.ReadString(conn); err != nil { // "barrier"
			serveErr <- err
			return
		}
		if _, err := wire.ReadString(conn); err != nil { // comm name
			serveErr <- err
			return
		}
		serveErr <- wire.WriteString(conn, "barrier_done")
	}()

	_, err := client.Start(context.Background(), -1, "tcp:127.0.0.1:9910")
	require.NoError(t, err)

	require.NoError(t, client.Barrier("main"))
	require.NoError(t, <-serveErr)
}
