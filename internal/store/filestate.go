package store

import (
	"errors"
	"fmt"
	"sort"
)

// FileStatus is the lifecycle state of one data file.
type FileStatus uint8

const (
	// StatusLive: the file is accepting appends.
	StatusLive FileStatus = iota
	// StatusStale: rolled over, eligible for compaction.
	StatusStale
	// StatusUnderGC: currently being compacted.
	StatusUnderGC
)

// String returns a short name for the status.
func (s FileStatus) String() string {
	switch s {
	case StatusLive:
		return "live"
	case StatusStale:
		return "stale"
	case StatusUnderGC:
		return "under-gc"
	default:
		return "unknown"
	}
}

var (
	// ErrReadersActive rejects compaction while reads are in flight.
	ErrReadersActive = errors.New("store: file has active readers")
	// ErrBadStatus rejects a transition from the wrong lifecycle state.
	ErrBadStatus = errors.New("store: invalid file status for operation")
)

// FileState tracks one data file's records, garbage and in-flight readers.
// Owned exclusively by the file-worker the file number hashes to.
type FileState struct {
	File   FileNum
	Status FileStatus

	// Size is the total bytes appended, including garbage.
	Size uint64

	entries map[uint64]uint64 // offset -> encoded length, current records
	garbage map[uint64]uint64 // offset -> encoded length, superseded records
	moveMap map[uint64]uint64 // old offset -> new offset, set by compaction

	readers int
}

// NewFileState creates state for a freshly opened file.
func NewFileState(file FileNum, status FileStatus) *FileState {
	return &FileState{
		File:    file,
		Status:  status,
		entries: make(map[uint64]uint64),
		garbage: make(map[uint64]uint64),
	}
}

// AddEntry records a freshly appended record.
func (fs *FileState) AddEntry(offset, length uint64) {
	fs.entries[offset] = length
	if end := offset + length; end > fs.Size {
		fs.Size = end
	}
}

// MarkGarbage moves the record at offset to the garbage set. Unknown
// offsets are tolerated: during initialization the superseding entry may
// be replayed before the superseded one has been seen.
func (fs *FileState) MarkGarbage(offset, length uint64) {
	delete(fs.entries, offset)
	fs.garbage[offset] = length
	if end := offset + length; end > fs.Size {
		fs.Size = end
	}
}

// EntryCount returns the number of current records.
func (fs *FileState) EntryCount() int { return len(fs.entries) }

// GarbageBytes returns the byte total of superseded records.
func (fs *FileState) GarbageBytes() uint64 {
	var sum uint64
	for _, l := range fs.garbage {
		sum += l
	}
	return sum
}

// GarbageRatio returns the garbage fraction of the file's size.
func (fs *FileState) GarbageRatio() float64 {
	if fs.Size == 0 {
		return 0
	}
	return float64(fs.GarbageBytes()) / float64(fs.Size)
}

// Entries returns current (offset, length) pairs in offset order.
func (fs *FileState) Entries() []Location {
	out := make([]Location, 0, len(fs.entries))
	for off, l := range fs.entries {
		out = append(out, Location{File: fs.File, Offset: off, Length: l})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// IncReaders counts a read lease on the file.
func (fs *FileState) IncReaders() { fs.readers++ }

// DecReaders releases a read lease.
func (fs *FileState) DecReaders() error {
	if fs.readers == 0 {
		return fmt.Errorf("store: reader count underflow on file %s", fs.File)
	}
	fs.readers--
	return nil
}

// Readers returns the in-flight read count.
func (fs *FileState) Readers() int { return fs.readers }

// BeginGC transitions Stale -> UnderGC. Fails while readers hold leases.
func (fs *FileState) BeginGC() error {
	if fs.Status != StatusStale {
		return fmt.Errorf("%w: %s is %s", ErrBadStatus, fs.File, fs.Status)
	}
	if fs.readers > 0 {
		return fmt.Errorf("%w: %s has %d", ErrReadersActive, fs.File, fs.readers)
	}
	fs.Status = StatusUnderGC
	return nil
}

// FinishGC installs the compacted layout. moved maps each surviving
// record's old offset to its new (offset, length); every surviving old
// offset also enters the move map so requests issued against the old
// layout can still be translated until the cache acknowledges the new
// locations (ClearMoved).
func (fs *FileState) FinishGC(moved map[uint64]Location, newSize uint64) error {
	if fs.Status != StatusUnderGC {
		return fmt.Errorf("%w: %s is %s", ErrBadStatus, fs.File, fs.Status)
	}
	fs.entries = make(map[uint64]uint64, len(moved))
	fs.moveMap = make(map[uint64]uint64, len(moved))
	for old, loc := range moved {
		fs.entries[loc.Offset] = loc.Length
		fs.moveMap[old] = loc.Offset
	}
	fs.garbage = make(map[uint64]uint64)
	fs.Size = newSize
	fs.Status = StatusStale
	return nil
}

// Resolve translates an offset recorded before the last compaction. The
// boolean reports whether the offset is still addressable at all.
func (fs *FileState) Resolve(offset uint64) (uint64, bool) {
	if _, ok := fs.entries[offset]; ok {
		return offset, true
	}
	if fs.moveMap != nil {
		if moved, ok := fs.moveMap[offset]; ok {
			return moved, true
		}
	}
	return 0, false
}

// LookupEntry resolves an offset, possibly recorded before the last
// compaction, to the record's current full location.
func (fs *FileState) LookupEntry(offset uint64) (Location, bool) {
	off, ok := fs.Resolve(offset)
	if !ok {
		return Location{}, false
	}
	length, ok := fs.entries[off]
	if !ok {
		return Location{}, false
	}
	return Location{File: fs.File, Offset: off, Length: length}, true
}

// ClearMoved drops a move-map entry once its cache shard has acknowledged
// the new location. Entries never acknowledged stay translatable.
func (fs *FileState) ClearMoved(oldOffset uint64) {
	delete(fs.moveMap, oldOffset)
}

// MovePending returns the number of unacknowledged move-map entries.
func (fs *FileState) MovePending() int { return len(fs.moveMap) }

// Collectible reports whether the file can be deleted: no current
// records, no readers and not mid-compaction.
func (fs *FileState) Collectible() bool {
	return len(fs.entries) == 0 && fs.readers == 0 &&
		fs.Status == StatusStale && len(fs.moveMap) == 0
}

// FileSet is the collection of FileStates owned by one file-worker.
type FileSet struct {
	states map[FileNum]*FileState
}

// NewFileSet creates an empty set.
func NewFileSet() *FileSet {
	return &FileSet{states: make(map[FileNum]*FileState)}
}

// Get returns the state for file, or nil.
func (s *FileSet) Get(file FileNum) *FileState { return s.states[file] }

// GetOrCreate returns the state for file, creating it Stale when absent.
// Initialization replays entries in arbitrary file order, so a file may be
// referenced before its own survey message arrives.
func (s *FileSet) GetOrCreate(file FileNum) *FileState {
	fs, ok := s.states[file]
	if !ok {
		fs = NewFileState(file, StatusStale)
		s.states[file] = fs
	}
	return fs
}

// Put installs a state, replacing any existing one.
func (s *FileSet) Put(fs *FileState) { s.states[fs.File] = fs }

// Remove deletes the state for file.
func (s *FileSet) Remove(file FileNum) { delete(s.states, file) }

// Len returns the number of tracked files.
func (s *FileSet) Len() int { return len(s.states) }

// Each visits every state; stop by returning false.
func (s *FileSet) Each(fn func(*FileState) bool) {
	for _, fs := range s.states {
		if !fn(fs) {
			return
		}
	}
}
