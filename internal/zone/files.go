package zone

import (
	"fmt"
	"os"

	"github.com/rzbill/strata/internal/record"
	"github.com/rzbill/strata/internal/store"
)

// LiveFile is the append end of one zone's current data/index file pair.
// Owned exclusively by a single writer-worker.
type LiveFile struct {
	Num  store.FileNum
	data *os.File
	idx  *os.File
	size uint64
}

// OpenLive opens (creating if needed) num's data and index files in dir
// for appending. An existing underfull file is adopted as-is.
func OpenLive(dir string, num store.FileNum) (*LiveFile, error) {
	data, err := os.OpenFile(DataPath(dir, num), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("zone: open data file: %w", err)
	}
	info, err := data.Stat()
	if err != nil {
		data.Close()
		return nil, fmt.Errorf("zone: stat data file: %w", err)
	}
	idx, err := os.OpenFile(IndexPath(dir, num), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		data.Close()
		return nil, fmt.Errorf("zone: open index file: %w", err)
	}
	return &LiveFile{Num: num, data: data, idx: idx, size: uint64(info.Size())}, nil
}

// Append writes one record to the data file and its entry to the index
// file, returning the record's location. The data write is the durability
// point; an index-tail torn by a crash is regenerated from the data file.
func (f *LiveFile) Append(key, value []byte, flags byte) (store.Location, error) {
	enc := record.EncodeData(key, value, flags)
	offset := f.size
	if _, err := f.data.Write(enc); err != nil {
		return store.Location{}, fmt.Errorf("zone: append data: %w", err)
	}
	f.size += uint64(len(enc))

	idxEnc := record.EncodeIndex(record.IndexEntry{
		Key:    key,
		Offset: offset,
		Length: uint64(len(enc)),
		Flags:  flags,
	})
	if _, err := f.idx.Write(idxEnc); err != nil {
		return store.Location{}, fmt.Errorf("zone: append index: %w", err)
	}
	return store.Location{File: f.Num, Offset: offset, Length: uint64(len(enc))}, nil
}

// Size returns the data file's current byte size.
func (f *LiveFile) Size() uint64 { return f.size }

// Sync flushes the data file to stable storage.
func (f *LiveFile) Sync() error { return f.data.Sync() }

// Close syncs and closes both files.
func (f *LiveFile) Close() error {
	serr := f.data.Sync()
	derr := f.data.Close()
	ierr := f.idx.Close()
	if serr != nil {
		return serr
	}
	if derr != nil {
		return derr
	}
	return ierr
}

// ReadRecord reads and decodes the record at loc from dir.
func ReadRecord(dir string, loc store.Location) (record.DataRecord, error) {
	f, err := os.Open(DataPath(dir, loc.File))
	if err != nil {
		return record.DataRecord{}, fmt.Errorf("zone: open for read: %w", err)
	}
	defer f.Close()

	buf := make([]byte, loc.Length)
	if _, err := f.ReadAt(buf, int64(loc.Offset)); err != nil {
		return record.DataRecord{}, fmt.Errorf("zone: read at %d: %w", loc.Offset, err)
	}
	rec, err := record.DecodeData(buf)
	if err != nil {
		return record.DataRecord{}, fmt.Errorf("zone: decode %s@%d: %w", loc.File, loc.Offset, err)
	}
	return rec, nil
}

// RebuildIndex replaces num's index file with entries regenerated from a
// data-file scan.
func RebuildIndex(dir string, num store.FileNum, entries []record.IndexEntry) error {
	tmp := IndexPath(dir, num) + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("zone: rebuild index: %w", err)
	}
	for _, e := range entries {
		if _, err := f.Write(record.EncodeIndex(e)); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("zone: rebuild index write: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("zone: rebuild index close: %w", err)
	}
	if err := os.Rename(tmp, IndexPath(dir, num)); err != nil {
		return fmt.Errorf("zone: rebuild index swap: %w", err)
	}
	return nil
}

// TruncateData cuts a torn tail off num's data file.
func TruncateData(dir string, num store.FileNum, size int64) error {
	return os.Truncate(DataPath(dir, num), size)
}

// RemovePair deletes num's data and index files.
func RemovePair(dir string, num store.FileNum) error {
	if err := os.Remove(DataPath(dir, num)); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(IndexPath(dir, num)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
