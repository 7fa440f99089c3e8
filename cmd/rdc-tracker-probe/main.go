/*
Connects to an rdc tracker, performs the start handshake, prints the
returned StartInfo, then shuts down. Useful for checking a tracker is
reachable and handing out ranks before launching a full worker fleet.

For usage details, run rdc-tracker-probe with -h.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/rdcgo/rdc/tracker"
)

func main() {
	var uri string
	var port int
	var hostAddr string
	var timeout time.Duration

	flag.Usage = usage
	flag.StringVar(&uri, "tracker-uri", "127.0.0.1", "tracker host")
	flag.IntVar(&port, "tracker-port", 9000, "tracker port")
	flag.StringVar(&hostAddr, "host-addr", "tcp:probe:0", "Peer Address tuple this probe announces")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "handshake timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client := tracker.New(tracker.Config{
		URI:          uri,
		Port:         port,
		HostAddr:     hostAddr,
		ConnectRetry: 1,
		Logger:       zerolog.Nop(),
	})

	info, err := client.Start(ctx, -1, hostAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rdc-tracker-probe: start: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("rank:           %d\n", info.Rank)
	fmt.Printf("world size:     %d\n", info.WorldSize)
	fmt.Printf("dead nodes:     %v\n", info.DeadNodes)
	fmt.Printf("pending nodes:  %d\n", info.PendingNodes)
	fmt.Printf("same-host peers:%v\n", info.SameHostPeers)
	fmt.Printf("connect to:     %v (ranks %v)\n", info.ConnectAddrs, info.ConnectRanks)
	fmt.Printf("accept from:    %v\n", info.AcceptRanks)

	if err := client.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "rdc-tracker-probe: shutdown: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Printf(`usage: rdc-tracker-probe [-h] [-tracker-uri host] [-tracker-port port] [-host-addr addr] [-timeout d]

Performs a single start handshake against a tracker and prints the
resulting rank assignment and peer lists.

Flags:
`)
	flag.PrintDefaults()
}
