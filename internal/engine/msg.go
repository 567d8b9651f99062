package engine

import (
	"context"

	"github.com/rzbill/strata/internal/store"
)

// Reply channels are single-use and buffered so a worker never blocks on a
// caller that already gave up.

// putMsg asks a writer-worker to append one record. Tombstone puts carry
// an empty value.
type putMsg struct {
	ctx       context.Context
	key       []byte
	value     []byte
	tombstone bool
	reply     chan putReply
}

type putReply struct {
	err error
}

// getMsg asks a reader-worker to resolve one key.
type getMsg struct {
	ctx   context.Context
	key   []byte
	reply chan getReply
}

type getReply struct {
	value []byte
	// maybeStale is set when the record was read through a move-map
	// translation, meaning a compaction rewrote the file while this read
	// was in flight.
	maybeStale bool
	err        error
}

// cacheInsertMsg installs a fresh write in a cache shard. The cache-worker
// answers the original caller and forwards file-state updates itself.
type cacheInsertMsg struct {
	key       []byte
	loc       store.Location
	value     []byte
	tombstone bool
	reply     chan putReply
}

// initInsertMsg replays one surveyed record during initialization. The
// newest (file, offset) wins regardless of replay order; compaction
// triggers stay disabled.
type initInsertMsg struct {
	key       []byte
	loc       store.Location
	tombstone bool
	done      chan struct{}
}

// cacheLookupMsg resolves a key against a cache shard.
type cacheLookupMsg struct {
	key   []byte
	reply chan cacheLookupReply
}

type cacheLookupReply struct {
	found   bool
	deleted bool
	loc     store.Location
	value   []byte // nil when only the location is cached
}

// cacheValueMsg attaches value bytes read back from disk.
type cacheValueMsg struct {
	key   []byte
	value []byte
}

// cacheStatsMsg reports a shard's size to the zone-worker or a state dump.
type cacheStatsMsg struct {
	reply chan cacheStats
}

type cacheStats struct {
	entries    int
	valueBytes int64
}

// cacheClearMsg drops cached values, retaining locations.
type cacheClearMsg struct {
	reply chan struct{}
}

// cacheEachMsg streams every entry to a migration collector. The worker
// blocks until fn returns, so callers keep fn cheap.
type cacheEachMsg struct {
	fn    func(key string, e store.CacheEntry)
	reply chan struct{}
}

// cacheInstallMsg installs one migrated entry during recache.
type cacheInstallMsg struct {
	key   string
	entry store.CacheEntry
	reply chan struct{}
}

// gcMove relocates one key after compaction moved its record.
type gcMove struct {
	key    []byte
	oldLoc store.Location
	newLoc store.Location
}

// gcCacheUpdateMsg is one batched per-shard cache update from a finished
// compaction. The reply lists the old offsets whose relocation applied;
// unacknowledged offsets stay in the file's move map.
type gcCacheUpdateMsg struct {
	file  store.FileNum
	moves []gcMove
	reply chan gcCacheUpdateReply
}

type gcCacheUpdateReply struct {
	acked []uint64
}

// fileAddEntryMsg records a fresh append in the owning file-worker.
type fileAddEntryMsg struct {
	loc store.Location
	// noGc suppresses the compaction trigger check (initialization).
	noGc bool
}

// fileMarkGarbageMsg marks a superseded record.
type fileMarkGarbageMsg struct {
	loc  store.Location
	noGc bool
}

// openLiveMsg creates a Live file state, either at startup or as the
// second leg of a rollover handshake.
type openLiveMsg struct {
	file  store.FileNum
	reply chan error
}

// closeLiveMsg downgrades the outgoing live file to Stale. The receiving
// file-worker forwards an openLiveMsg for the successor to its owner and
// the final ack flows back on reply.
type closeLiveMsg struct {
	oldFile store.FileNum
	newFile store.FileNum
	reply   chan error
}

// readLeaseMsg asks the owning file-worker for permission to read loc.
// While the file is under compaction the request is buffered and replayed
// once the move map is in place.
type readLeaseMsg struct {
	loc   store.Location
	reply chan readLeaseReply
}

type readLeaseReply struct {
	loc        store.Location
	maybeStale bool
	err        error
}

// readDoneMsg releases a read lease.
type readDoneMsg struct {
	file store.FileNum
}

// gcControlMsg toggles compaction behavior on a file-worker.
type gcControlMsg struct {
	ctl GcControl
}

// fileStatsMsg reports a file-worker's shard for a state dump.
type fileStatsMsg struct {
	reply chan []FileSummary
}

// fileTransferMsg hands a file-worker's states to recache migration.
type fileTransferMsg struct {
	reply chan []*store.FileState
}

// fileInstallMsg installs migrated file states during recache.
type fileInstallMsg struct {
	states []*store.FileState
	reply  chan struct{}
}

// gcFileMsg asks an init/GC-worker to compact one file.
type gcFileMsg struct {
	file store.FileNum
}

// gcBeginMsg opens the compaction handshake with the file's owner.
type gcBeginMsg struct {
	file  store.FileNum
	reply chan gcBeginReply
}

type gcBeginReply struct {
	ok bool
	// entries snapshots the current records (offset -> length).
	entries []store.Location
}

// gcFinishedMsg closes the handshake: the owner installs the compacted
// layout, clears acknowledged move-map entries and replays buffered
// messages.
type gcFinishedMsg struct {
	file    store.FileNum
	moved   map[uint64]store.Location
	newSize uint64
	acked   []uint64
	reply   chan struct{}
}

// gcAbortedMsg clears the gc-active flag after a failed compaction.
type gcAbortedMsg struct {
	file store.FileNum
}

// initFileMsg asks an init/GC-worker to replay one surveyed file.
type initFileMsg struct {
	info  fileToInit
	reply chan error
}

type fileToInit struct {
	num      store.FileNum
	dataSize int64
	hasIndex bool
}

// nextFileMsg allocates the next file number from the zone-worker.
type nextFileMsg struct {
	reply chan store.FileNum
}

// liveChangedMsg tells the zone-worker which file is now live.
type liveChangedMsg struct {
	file store.FileNum
}

// zoneStatsPushMsg is the periodic shard-size report into the zone-worker.
type zoneStatsPushMsg struct {
	fromCache bool
	worker    string
	cache     cacheStats
	files     []FileSummary
}

// zoneStateMsg asks the zone-worker for its aggregated state.
type zoneStateMsg struct {
	reply chan ZoneState
}

// tunablesMsg pushes changed runtime tunables to live workers. Each
// worker applies the fields it owns and ignores the rest.
type tunablesMsg struct {
	maxFileBytes    int64
	cacheValueLimit int64
	gcRatio         float64
}

// drainMsg is a queue marker: its reply proves every message enqueued
// before it has been processed.
type drainMsg struct {
	reply chan struct{}
}
