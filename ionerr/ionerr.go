// Package ionerr defines the sentinel error kinds shared across ioncore's
// memory, scheduling, and graph packages, so callers can use errors.Is
// regardless of which subsystem raised them.
package ionerr

import "errors"

var (
	// ErrOutOfMemory is returned when a backing allocator cannot satisfy a
	// request and no fallback is configured.
	ErrOutOfMemory = errors.New(`ionerr: out of memory`)

	// ErrCapacityExceeded is returned when a bounded structure (e.g. the
	// temporary ring allocator) is saturated and falls back to a slower path.
	ErrCapacityExceeded = errors.New(`ionerr: capacity exceeded`)

	// ErrInvalidState is returned for operations attempted against an object
	// in the wrong lifecycle state, e.g. destructing a job still running.
	ErrInvalidState = errors.New(`ionerr: invalid state`)

	// ErrNotFound is returned by lookups that find nothing, e.g. an unknown
	// tweakable key.
	ErrNotFound = errors.New(`ionerr: not found`)

	// ErrInvalidArgument is returned for malformed input, e.g. a non-power-
	// of-two alignment.
	ErrInvalidArgument = errors.New(`ionerr: invalid argument`)
)
