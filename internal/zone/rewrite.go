package zone

import (
	"fmt"
	"os"

	"github.com/rzbill/strata/internal/record"
	"github.com/rzbill/strata/internal/store"
)

// Rewrite builds a compacted replacement for one data/index file pair.
// Records are appended to temporary files which atomically replace the
// originals on Commit, so a crash mid-compaction leaves the old pair
// intact.
type Rewrite struct {
	dir  string
	num  store.FileNum
	data *os.File
	idx  *os.File
	size uint64
}

// BeginRewrite creates the temporary pair for num in dir.
func BeginRewrite(dir string, num store.FileNum) (*Rewrite, error) {
	data, err := os.OpenFile(DataPath(dir, num)+".tmp", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("zone: rewrite data: %w", err)
	}
	idx, err := os.OpenFile(IndexPath(dir, num)+".tmp", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		data.Close()
		os.Remove(DataPath(dir, num) + ".tmp")
		return nil, fmt.Errorf("zone: rewrite index: %w", err)
	}
	return &Rewrite{dir: dir, num: num, data: data, idx: idx}, nil
}

// Append writes one surviving record to the replacement pair and returns
// its new location.
func (r *Rewrite) Append(key, value []byte, flags byte) (store.Location, error) {
	enc := record.EncodeData(key, value, flags)
	offset := r.size
	if _, err := r.data.Write(enc); err != nil {
		return store.Location{}, fmt.Errorf("zone: rewrite append: %w", err)
	}
	r.size += uint64(len(enc))

	idxEnc := record.EncodeIndex(record.IndexEntry{
		Key:    key,
		Offset: offset,
		Length: uint64(len(enc)),
		Flags:  flags,
	})
	if _, err := r.idx.Write(idxEnc); err != nil {
		return store.Location{}, fmt.Errorf("zone: rewrite index append: %w", err)
	}
	return store.Location{File: r.num, Offset: offset, Length: uint64(len(enc))}, nil
}

// Size returns the bytes written to the replacement data file so far.
func (r *Rewrite) Size() uint64 { return r.size }

// Commit syncs the replacement pair and renames it over the originals.
func (r *Rewrite) Commit() error {
	if err := r.data.Sync(); err != nil {
		r.Abort()
		return fmt.Errorf("zone: rewrite sync: %w", err)
	}
	if err := r.data.Close(); err != nil {
		return fmt.Errorf("zone: rewrite close: %w", err)
	}
	if err := r.idx.Close(); err != nil {
		return fmt.Errorf("zone: rewrite close index: %w", err)
	}
	if err := os.Rename(DataPath(r.dir, r.num)+".tmp", DataPath(r.dir, r.num)); err != nil {
		return fmt.Errorf("zone: rewrite swap data: %w", err)
	}
	if err := os.Rename(IndexPath(r.dir, r.num)+".tmp", IndexPath(r.dir, r.num)); err != nil {
		return fmt.Errorf("zone: rewrite swap index: %w", err)
	}
	return nil
}

// Abort discards the temporary pair.
func (r *Rewrite) Abort() {
	r.data.Close()
	r.idx.Close()
	os.Remove(DataPath(r.dir, r.num) + ".tmp")
	os.Remove(IndexPath(r.dir, r.num) + ".tmp")
}
