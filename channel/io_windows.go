//go:build windows

package channel

import "errors"

var errWouldBlock = errors.New("channel: would block")

func rawRead(_ int, _ []byte) (int, error) {
	return 0, errors.New("channel: raw non-blocking I/O unsupported on windows")
}

func rawWrite(_ int, _ []byte) (int, error) {
	return 0, errors.New("channel: raw non-blocking I/O unsupported on windows")
}

func setNonblocking(_ int) error {
	return errors.New("channel: unsupported on windows")
}
