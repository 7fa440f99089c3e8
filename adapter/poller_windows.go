//go:build windows

package adapter

import "errors"

// No IOCP backend is implemented; Windows is not a supported deployment
// target for this build (the training clusters this library targets run
// Linux, per original_source's own build files).
func newPoller() (poller, error) {
	return nil, errors.New("adapter: no poller backend on windows")
}
