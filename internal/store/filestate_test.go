package store

import (
	"errors"
	"testing"
)

func TestGarbageAccounting(t *testing.T) {
	fs := NewFileState(1, StatusLive)
	fs.AddEntry(0, 100)
	fs.AddEntry(100, 50)
	fs.AddEntry(150, 50)

	if fs.GarbageRatio() != 0 {
		t.Fatalf("fresh file has no garbage")
	}
	fs.MarkGarbage(0, 100)
	if fs.EntryCount() != 2 {
		t.Fatalf("entry count = %d", fs.EntryCount())
	}
	if fs.GarbageBytes() != 100 {
		t.Fatalf("garbage bytes = %d", fs.GarbageBytes())
	}
	if got := fs.GarbageRatio(); got != 0.5 {
		t.Fatalf("garbage ratio = %g", got)
	}
}

func TestReaderCountUnderflow(t *testing.T) {
	fs := NewFileState(1, StatusStale)
	fs.IncReaders()
	if err := fs.DecReaders(); err != nil {
		t.Fatalf("dec: %v", err)
	}
	if err := fs.DecReaders(); err == nil {
		t.Fatalf("underflow must error")
	}
}

func TestBeginGCGuards(t *testing.T) {
	fs := NewFileState(1, StatusLive)
	if err := fs.BeginGC(); !errors.Is(err, ErrBadStatus) {
		t.Fatalf("live file must not compact: %v", err)
	}

	fs.Status = StatusStale
	fs.IncReaders()
	if err := fs.BeginGC(); !errors.Is(err, ErrReadersActive) {
		t.Fatalf("active readers must block compaction: %v", err)
	}
	fs.DecReaders()
	if err := fs.BeginGC(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if fs.Status != StatusUnderGC {
		t.Fatalf("status = %v", fs.Status)
	}
}

func TestFinishGCAndMoveMap(t *testing.T) {
	fs := NewFileState(1, StatusStale)
	fs.AddEntry(0, 100)
	fs.AddEntry(100, 50)
	fs.AddEntry(150, 50)
	fs.MarkGarbage(0, 100)

	if err := fs.BeginGC(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	moved := map[uint64]Location{
		100: {File: 1, Offset: 0, Length: 50},
		150: {File: 1, Offset: 50, Length: 50},
	}
	if err := fs.FinishGC(moved, 100); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if fs.Status != StatusStale {
		t.Fatalf("status after gc = %v", fs.Status)
	}
	if fs.Size != 100 || fs.GarbageBytes() != 0 {
		t.Fatalf("size=%d garbage=%d", fs.Size, fs.GarbageBytes())
	}

	// Old offsets translate through the move map until acknowledged.
	if got, ok := fs.Resolve(150); !ok || got != 50 {
		t.Fatalf("resolve old offset: %d %v", got, ok)
	}
	// The collected offset is gone entirely.
	if _, ok := fs.Resolve(7); ok {
		t.Fatalf("unknown offset should not resolve")
	}

	fs.ClearMoved(100)
	fs.ClearMoved(150)
	if fs.MovePending() != 0 {
		t.Fatalf("move map should be drained")
	}
	// New offsets resolve directly.
	if got, ok := fs.Resolve(0); !ok || got != 0 {
		t.Fatalf("resolve new offset: %d %v", got, ok)
	}
}

func TestCollectible(t *testing.T) {
	fs := NewFileState(1, StatusStale)
	fs.AddEntry(0, 10)
	if fs.Collectible() {
		t.Fatalf("file with entries is not collectible")
	}
	fs.MarkGarbage(0, 10)
	if !fs.Collectible() {
		t.Fatalf("empty stale file should be collectible")
	}
	fs.IncReaders()
	if fs.Collectible() {
		t.Fatalf("file with readers is not collectible")
	}
}

func TestFileSetGetOrCreate(t *testing.T) {
	s := NewFileSet()
	a := s.GetOrCreate(5)
	if a.Status != StatusStale {
		t.Fatalf("implicit state should be stale")
	}
	if s.GetOrCreate(5) != a {
		t.Fatalf("GetOrCreate must be idempotent")
	}
	s.Remove(5)
	if s.Get(5) != nil {
		t.Fatalf("removed state still present")
	}
}
