// Package env resolves the rdc environment variables (spec §6) into plain
// Go values, with explicit overrides (options/command-line) always taking
// precedence over the process environment.
package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Names of the recognized environment variables.
const (
	TrackerURI         = "RDC_TRACKER_URI"
	TrackerPort        = "RDC_TRACKER_PORT"
	HeartbeatInterval  = "RDC_HEARTBEAT_INTERVAL"
	Restart            = "RDC_RESTART"
	Rank               = "RDC_RANK"
	PendingNodes       = "RDC_PENDING_NODES"
	ReduceRingMincount = "rdc_reduce_ring_mincount"
	ConnectRetry       = "RDC_WORKER_CONNECT_RETRY"
	Backend            = "RDC_BACKEND"
	NumWorkers         = "RDC_NUM_WORKERS"
)

// String returns the environment value for key, or def if unset or empty.
func String(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// Int returns the environment value for key parsed as an int, or def if
// unset, empty, or unparsable.
func Int(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Bool returns the environment value for key interpreted as 0/1, or def if
// unset, empty, or unparsable.
func Bool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	return v == "1" || strings.EqualFold(v, "true")
}

// ParseByteSize parses a byte count with an optional B/K/M/G suffix
// (case-insensitive), as used by rdc_reduce_ring_mincount.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("env: empty byte size")
	}
	mult := int64(1)
	suffix := s[len(s)-1]
	switch suffix {
	case 'b', 'B':
		mult = 1
		s = s[:len(s)-1]
	case 'k', 'K':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'g', 'G':
		mult = 1 << 30
		s = s[:len(s)-1]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("env: byte size %q has no digits", s)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("env: invalid byte size %q: %w", s, err)
	}
	return n * mult, nil
}

// ByteSize returns the environment value for key parsed with ParseByteSize,
// or def if unset, empty, or unparsable.
func ByteSize(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := ParseByteSize(v)
	if err != nil {
		return def
	}
	return n
}
