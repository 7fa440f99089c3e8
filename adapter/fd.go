package adapter

import (
	"fmt"
	"net"
	"syscall"
)

// ConnFD extracts the raw file descriptor backing conn, so it can be
// registered directly with the multiplexer. conn must support
// SyscallConn (true for *net.TCPConn and the net.Listener's Accept
// results used throughout this package).
func ConnFD(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1, fmt.Errorf("adapter: %T does not expose a raw fd", conn)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	if err := raw.Control(func(p uintptr) { fd = int(p) }); err != nil {
		return -1, err
	}
	return fd, nil
}
