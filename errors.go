package rdc

import "errors"

// Namespace prefixes every sentinel error this package defines, matching
// the teacher's errors.go convention.
const Namespace = "rdc"

var (
	// ErrInvalidConfig is returned by Init when the resolved Config fails
	// validateConfig's invariant checks.
	ErrInvalidConfig = errors.New(Namespace + ": invalid configuration")

	// ErrNotInitialized is returned by any Manager operation invoked
	// before Init has completed.
	ErrNotInitialized = errors.New(Namespace + ": manager not initialized")

	// ErrAlreadyInitialized is returned by Init when called more than
	// once on the same Manager without an intervening Finalize.
	ErrAlreadyInitialized = errors.New(Namespace + ": manager already initialized")

	// ErrUnknownCommunicator is returned by GetCommunicator for a name
	// that was never passed to NewCommunicator.
	ErrUnknownCommunicator = errors.New(Namespace + ": unknown communicator")

	// ErrFinalized is not returned by any operation in this package:
	// Finalize clears the process-wide Manager, so calls made after it
	// report ErrNotInitialized.
	ErrFinalized = errors.New(Namespace + ": manager finalized")
)
