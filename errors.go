package stratocache

import "errors"

var (
	// ErrSerialization reports that a value could not be encoded or
	// decoded. Unlike backend failures this is a data-contract defect and
	// is always surfaced to the caller.
	ErrSerialization = errors.New("stratocache: serialization failed")

	// ErrBackendUnavailable reports that the remote tier rejected the
	// call because its circuit breaker is open or the connection is down.
	// Only strict-mode writes and deletes surface it.
	ErrBackendUnavailable = errors.New("stratocache: backend unavailable")

	// ErrClosed reports use after Close.
	ErrClosed = errors.New("stratocache: cache closed")
)
