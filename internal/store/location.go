// Package store holds the engine's owned data structures: the per-shard
// key cache and the per-file bookkeeping state. Nothing here locks; each
// instance is owned exclusively by a single worker.
package store

import "fmt"

// FileNum identifies one data/index file pair within a zone.
type FileNum uint64

// String renders the canonical file-number form used in file names,
// zero-padded to at least eight digits.
func (f FileNum) String() string { return fmt.Sprintf("%08d", uint64(f)) }

// Location pinpoints one record inside a zone's files.
type Location struct {
	File   FileNum
	Offset uint64
	Length uint64
}

// IsZero reports whether the location is unset.
func (l Location) IsZero() bool { return l == Location{} }

// After reports whether l was appended after other, comparing file number
// first and offset second. Used during initialization replay, where entries
// may arrive out of order across files.
func (l Location) After(other Location) bool {
	if l.File != other.File {
		return l.File > other.File
	}
	return l.Offset > other.Offset
}
