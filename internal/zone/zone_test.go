package zone

import (
	"bytes"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rzbill/strata/internal/record"
	"github.com/rzbill/strata/internal/store"
)

func TestFileNaming(t *testing.T) {
	if got := DataFileName(42); got != "D00000042.sd" {
		t.Fatalf("data name = %q", got)
	}
	if got := IndexFileName(42); got != "X00000042.sx" {
		t.Fatalf("index name = %q", got)
	}
	num, ok := ParseDataFileName("D00000042.sd")
	if !ok || num != 42 {
		t.Fatalf("parse: %d %v", num, ok)
	}
	// File numbers past the eight-digit pad keep their full width.
	wide := store.FileNum(1) << 40
	if got := DataFileName(wide); got != "D1099511627776.sd" {
		t.Fatalf("wide data name = %q", got)
	}
	num, ok = ParseDataFileName("D1099511627776.sd")
	if !ok || num != wide {
		t.Fatalf("wide parse: %d %v", num, ok)
	}
	for _, bad := range []string{"X00000042.sx", "D42.sd", "D00000042.sx", "MANIFEST"} {
		if _, ok := ParseDataFileName(bad); ok {
			t.Fatalf("parsed %q", bad)
		}
	}
}

func TestAppendAndReadBack(t *testing.T) {
	dir := t.TempDir()
	lf, err := OpenLive(dir, 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	locA, err := lf.Append([]byte("a"), []byte("1"), 0)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	locB, err := lf.Append([]byte("b"), []byte("2"), 0)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if locB.Offset != locA.Length {
		t.Fatalf("offsets not contiguous: %+v %+v", locA, locB)
	}
	if err := lf.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rec, err := ReadRecord(dir, locA)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(rec.Key) != "a" || string(rec.Value) != "1" {
		t.Fatalf("read back: %q=%q", rec.Key, rec.Value)
	}
}

func TestOpenLiveAdoptsExisting(t *testing.T) {
	dir := t.TempDir()
	lf, _ := OpenLive(dir, 1)
	loc, _ := lf.Append([]byte("k"), []byte("v"), 0)
	lf.Close()

	again, err := OpenLive(dir, 1)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	if again.Size() != loc.Offset+loc.Length {
		t.Fatalf("adopted size = %d", again.Size())
	}
	loc2, err := again.Append([]byte("k2"), []byte("v2"), 0)
	if err != nil {
		t.Fatalf("append after adopt: %v", err)
	}
	if loc2.Offset != loc.Offset+loc.Length {
		t.Fatalf("append offset after adopt: %+v", loc2)
	}
}

func TestSurveyAndChooseLive(t *testing.T) {
	dir := t.TempDir()
	for _, num := range []store.FileNum{3, 1} {
		lf, _ := OpenLive(dir, num)
		lf.Append([]byte("k"), bytes.Repeat([]byte("x"), 100), 0)
		lf.Close()
	}
	os.WriteFile(DataPath(dir, 2), nil, 0o644) // empty data file, no index
	os.Remove(IndexPath(dir, 2))

	files, err := Survey(dir)
	if err != nil {
		t.Fatalf("survey: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("file count = %d", len(files))
	}
	if files[0].Num != 1 || files[1].Num != 2 || files[2].Num != 3 {
		t.Fatalf("order: %+v", files)
	}
	if !files[0].HasIndex || files[1].HasIndex {
		t.Fatalf("index detection: %+v", files)
	}

	// Newest underfull file is adopted.
	live, next := ChooseLive(files, 1<<20)
	if live != 3 || next != 4 {
		t.Fatalf("adopt: live=%d next=%d", live, next)
	}
	// Newest file at or past the threshold forces a fresh file.
	live, next = ChooseLive(files, 1)
	if live != 4 || next != 5 {
		t.Fatalf("fresh: live=%d next=%d", live, next)
	}
	// Empty zone starts at 1.
	live, next = ChooseLive(nil, 1<<20)
	if live != 1 || next != 2 {
		t.Fatalf("empty: live=%d next=%d", live, next)
	}
}

func TestRewriteCommit(t *testing.T) {
	dir := t.TempDir()
	lf, _ := OpenLive(dir, 1)
	lf.Append([]byte("stale"), []byte("old"), 0)
	keep, _ := lf.Append([]byte("keep"), []byte("live"), 0)
	lf.Close()

	rw, err := BeginRewrite(dir, 1)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	rec, err := ReadRecord(dir, keep)
	if err != nil {
		t.Fatalf("read survivor: %v", err)
	}
	newLoc, err := rw.Append(rec.Key, rec.Value, rec.Flags)
	if err != nil {
		t.Fatalf("rewrite append: %v", err)
	}
	if err := rw.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := ReadRecord(dir, newLoc)
	if err != nil {
		t.Fatalf("read after swap: %v", err)
	}
	if string(got.Key) != "keep" || string(got.Value) != "live" {
		t.Fatalf("survivor mismatch: %q=%q", got.Key, got.Value)
	}
	// The stale record is physically gone.
	info, _ := os.Stat(DataPath(dir, 1))
	if uint64(info.Size()) != newLoc.Length {
		t.Fatalf("compacted size = %d, want %d", info.Size(), newLoc.Length)
	}
	// Reading the old layout's record fails its checksum or bounds.
	if _, err := ReadRecord(dir, keep); err == nil {
		t.Fatalf("old-layout read should fail after compaction")
	}
}

func TestRewriteAbort(t *testing.T) {
	dir := t.TempDir()
	lf, _ := OpenLive(dir, 1)
	loc, _ := lf.Append([]byte("k"), []byte("v"), 0)
	lf.Close()

	rw, _ := BeginRewrite(dir, 1)
	rw.Append([]byte("x"), []byte("y"), 0)
	rw.Abort()

	if _, err := os.Stat(DataPath(dir, 1) + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("tmp file not cleaned up")
	}
	if _, err := ReadRecord(dir, loc); err != nil {
		t.Fatalf("original intact after abort: %v", err)
	}
}

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := Manifest{Zone: 2, TopologyVersion: "abc123", CreatedAt: time.Now().UTC().Truncate(time.Second)}
	if err := WriteManifest(dir, m); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadManifest(dir)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Zone != 2 || got.TopologyVersion != "abc123" || !got.CreatedAt.Equal(m.CreatedAt) {
		t.Fatalf("round trip: %+v", got)
	}

	if _, err := ReadManifest(t.TempDir()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing manifest: %v", err)
	}
}

func TestTornIndexRegenerableFromData(t *testing.T) {
	dir := t.TempDir()
	lf, _ := OpenLive(dir, 1)
	lf.Append([]byte("a"), []byte("1"), 0)
	lf.Append([]byte("b"), []byte("2"), record.FlagTombstone)
	lf.Close()

	// Corrupt the index tail; the data file remains the source of truth.
	idx, _ := os.OpenFile(IndexPath(dir, 1), os.O_WRONLY|os.O_APPEND, 0o644)
	idx.Write([]byte{0x01, 0x02})
	idx.Close()

	files, err := Survey(dir)
	if err != nil || len(files) != 1 || !files[0].HasIndex {
		t.Fatalf("survey: %v %+v", err, files)
	}
}
