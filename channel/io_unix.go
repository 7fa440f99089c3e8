//go:build !windows

package channel

import (
	"errors"

	"golang.org/x/sys/unix"
)

// errWouldBlock signals EAGAIN/EWOULDBLOCK, distinct from a real I/O
// error, on a non-blocking socket.
var errWouldBlock = errors.New("channel: would block")

func rawRead(fd int, p []byte) (int, error) {
	n, err := unix.Read(fd, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, errWouldBlock
		}
		return 0, err
	}
	return n, nil
}

func rawWrite(fd int, p []byte) (int, error) {
	n, err := unix.Write(fd, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, errWouldBlock
		}
		return 0, err
	}
	return n, nil
}

func setNonblocking(fd int) error {
	return unix.SetNonblock(fd, true)
}
