package engine

import "errors"

var (
	// ErrNotFound: the key has no live record.
	ErrNotFound = errors.New("engine: key not found")
	// ErrShutdown: the engine is closed or closing.
	ErrShutdown = errors.New("engine: shut down")
	// ErrTimeout: a bounded wait expired before a worker replied.
	ErrTimeout = errors.New("engine: request timed out")
	// ErrNotOwner: a privileged operation was attempted through a
	// non-owning handle.
	ErrNotOwner = errors.New("engine: handle does not own the engine")
	// ErrConsistency: an unexpected message/state combination, the "bug"
	// class. Surfaced rather than papered over.
	ErrConsistency = errors.New("engine: consistency violation")
	// ErrStaleRead: a file location was superseded while the read was in
	// flight; the caller retries through the cache.
	ErrStaleRead = errors.New("engine: stale read")
	// ErrMigrationHalted: a topology change failed mid-way; affected zones
	// are paused awaiting operator intervention.
	ErrMigrationHalted = errors.New("engine: topology migration halted")
)
