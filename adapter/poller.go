package adapter

// poller is the minimal readiness-multiplexing primitive the tcpAdapter
// drives; epoll on Linux, poll(2) elsewhere, per platform build files.
type poller interface {
	register(fd int, kind Kind) error
	modify(fd int, kind Kind) error
	unregister(fd int) error
	// run blocks, dispatching readiness to onReady, until close wakes it.
	run(onReady func(fd int, readable, writable bool))
	close() error
}
