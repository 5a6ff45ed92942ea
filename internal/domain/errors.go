package domain

import "errors"

// Pipeline error taxonomy. Component-local failures never escalate to crash
// the pipeline; only startup configuration errors are fatal.
var (
	// ErrSourceUnavailable marks a transient upstream failure. Retried with
	// backoff, never fatal.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrMalformedEvent marks a payload the adapter could not normalize.
	// The single event is dropped and counted.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrDispatchFailed marks a signal whose delivery attempts were exhausted.
	// The signal is recorded for later replay.
	ErrDispatchFailed = errors.New("dispatch failed")

	// ErrStoreCorruption marks an entity snapshot failing its invariant check.
	// The entity is quarantined and reset rather than crashing the store.
	ErrStoreCorruption = errors.New("entity state corruption")
)
