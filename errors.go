package mvkv

import "errors"

var (
	// ErrDuplicateKey is returned by Add and AddRange when the key is already
	// present with a different value.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrKeyNotFound is returned by accessors that require the key to exist.
	ErrKeyNotFound = errors.New("key not found")

	// ErrInvalidArgument is returned for inverted ranges, empty keys and
	// operations that cannot be applied.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrCorruption is returned when a record or dump fails validation.
	ErrCorruption = errors.New("corrupted record")

	// ErrSnapshotUnavailable is returned when the log no longer holds enough
	// history to reconstruct the requested version.
	ErrSnapshotUnavailable = errors.New("snapshot unavailable")

	// ErrNoCheckpoint is returned by Truncate when no snapshot entry would
	// survive the cut.
	ErrNoCheckpoint = errors.New("no checkpoint at or after cut point")

	// ErrModifiedDuringIteration is reported by an Enumerator whose Builder
	// was mutated after the enumeration started.
	ErrModifiedDuringIteration = errors.New("builder modified during iteration")

	// ErrSinkClosed is returned by a Sink after Close.
	ErrSinkClosed = errors.New("sink closed")
)
