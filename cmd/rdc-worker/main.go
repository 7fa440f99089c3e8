/*
Starts an rdc worker process: rendezvous with a tracker, run a toy
Allreduce loop over a fixed-size float32 buffer for a configurable number
of iterations, checkpoint the buffer between iterations, then exit.

For usage details, run rdc-worker with -h.
*/
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/rdcgo/rdc"
	"github.com/rdcgo/rdc/adapter"
	"github.com/rdcgo/rdc/buffer"
	"github.com/rdcgo/rdc/ops"
)

func main() {
	var trackerURI string
	var trackerPort int
	var iterations int
	var restart bool
	var verbose bool

	flag.Usage = usage
	flag.StringVar(&trackerURI, "tracker-uri", "127.0.0.1", "tracker host")
	flag.IntVar(&trackerPort, "tracker-port", 9000, "tracker port")
	flag.IntVar(&iterations, "iterations", 10, "number of allreduce rounds to run")
	flag.BoolVar(&restart, "restart", false, "rejoin an existing cluster instead of starting fresh")
	flag.BoolVar(&verbose, "v", false, "enable structured logging to stderr")
	flag.Parse()

	var logger zerolog.Logger
	if verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	} else {
		logger = zerolog.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "rdc-worker: signal received, finalizing...")
		cancel()
	}()

	opts := []rdc.Option{
		rdc.WithTrackerURI(trackerURI),
		rdc.WithTrackerPort(trackerPort),
		rdc.WithLogger(logger),
		rdc.WithBackend(adapter.BackendTCP),
	}
	if restart {
		opts = append(opts, rdc.WithRestart(0))
	}

	if err := rdc.Init(ctx, opts...); err != nil {
		fmt.Fprintf(os.Stderr, "rdc-worker: init: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := rdc.Finalize(); err != nil {
			fmt.Fprintf(os.Stderr, "rdc-worker: finalize: %v\n", err)
		}
	}()

	rank, err := rdc.GetRank()
	if err != nil {
		fmt.Fprintf(os.Stderr, "rdc-worker: get rank: %v\n", err)
		os.Exit(1)
	}
	worldSize, err := rdc.GetWorldSize()
	if err != nil {
		fmt.Fprintf(os.Stderr, "rdc-worker: get world size: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("rdc-worker: rank %d of %d starting\n", rank, worldSize)

	const count = 1 << 16
	buf := buffer.New(make([]byte, count*4), 4)
	fillFloat32(buf, float32(rank+1))

	if err := rdc.AddGlobalState("gradient", buf); err != nil {
		fmt.Fprintf(os.Stderr, "rdc-worker: register state: %v\n", err)
		os.Exit(1)
	}

	for i := 0; i < iterations; i++ {
		select {
		case <-ctx.Done():
			fmt.Println("rdc-worker: canceled, exiting early")
			return
		default:
		}

		if err := rdc.Allreduce(buf, ops.Sum, ops.Float32); err != nil {
			fmt.Fprintf(os.Stderr, "rdc-worker: allreduce round %d: %v\n", i, err)
			os.Exit(1)
		}
		if err := rdc.Barrier(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "rdc-worker: barrier round %d: %v\n", i, err)
			os.Exit(1)
		}
		if err := rdc.CheckPoint(); err != nil {
			fmt.Fprintf(os.Stderr, "rdc-worker: checkpoint round %d: %v\n", i, err)
			os.Exit(1)
		}
		fmt.Printf("rdc-worker: rank %d completed round %d\n", rank, i)
		time.Sleep(10 * time.Millisecond)
	}

	fmt.Printf("rdc-worker: rank %d done\n", rank)
}

func fillFloat32(buf buffer.Buffer, v float32) {
	bits := math.Float32bits(v)
	data := buf.Bytes()
	for i := 0; i+4 <= len(data); i += 4 {
		binary.LittleEndian.PutUint32(data[i:i+4], bits)
	}
}

func usage() {
	fmt.Printf(`usage: rdc-worker [-h] [-tracker-uri host] [-tracker-port port] [-iterations n] [-restart] [-v]

Rendezvouses with a tracker and runs a toy Allreduce/Barrier/CheckPoint
loop to exercise the rdc runtime end to end.

Flags:
`)
	flag.PrintDefaults()
}
