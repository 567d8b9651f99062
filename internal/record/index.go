package record

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
)

// IndexEntry mirrors one data record: where it lives in the data file.
type IndexEntry struct {
	Key    []byte
	Offset uint64
	Length uint64
	Flags  byte
}

// Tombstone reports whether the indexed record is a deletion marker.
func (e IndexEntry) Tombstone() bool { return e.Flags&FlagTombstone != 0 }

// EncodeIndex renders an index entry.
func EncodeIndex(e IndexEntry) []byte {
	out := make([]byte, 0, 10+len(e.Key)+8+8+1+4)
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], uint64(len(e.Key)))
	out = append(out, tmp[:n]...)
	out = append(out, e.Key...)
	var fixed [17]byte
	binary.BigEndian.PutUint64(fixed[0:8], e.Offset)
	binary.BigEndian.PutUint64(fixed[8:16], e.Length)
	fixed[16] = e.Flags
	out = append(out, fixed[:]...)

	crc := crc32.Update(0, castagnoli, out)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc)
	return append(out, crcb[:]...)
}

// ReadIndex reads the next index entry from r. io.EOF marks a clean end of
// file; ErrTorn a partial or corrupt tail.
func ReadIndex(r *bufio.Reader) (IndexEntry, int64, error) {
	var raw []byte

	klen, err := readUvarint(r, &raw)
	if err != nil {
		if err == io.EOF && len(raw) == 0 {
			return IndexEntry{}, 0, io.EOF
		}
		return IndexEntry{}, 0, ErrTorn
	}
	if klen > maxKeyLen {
		return IndexEntry{}, 0, ErrTorn
	}
	rest := make([]byte, int(klen)+17+4)
	if _, err := io.ReadFull(r, rest); err != nil {
		return IndexEntry{}, 0, ErrTorn
	}
	raw = append(raw, rest...)

	body := raw[:len(raw)-4]
	expect := binary.BigEndian.Uint32(raw[len(raw)-4:])
	if crc32.Update(0, castagnoli, body) != expect {
		return IndexEntry{}, 0, ErrTorn
	}
	off := len(raw) - len(rest)
	fixed := raw[off+int(klen) : len(raw)-4]
	entry := IndexEntry{
		Key:    append([]byte(nil), raw[off:off+int(klen)]...),
		Offset: binary.BigEndian.Uint64(fixed[0:8]),
		Length: binary.BigEndian.Uint64(fixed[8:16]),
		Flags:  fixed[16],
	}
	return entry, int64(len(raw)), nil
}
