// Package record implements the on-disk codecs for zone data files and
// their companion index files.
//
// Data record: varint klen | varint vlen | flags(1) | key | value | crc32c.
// Index entry: varint klen | key | offset(8) | length(8) | flags(1) | crc32c.
//
// The CRC covers every preceding byte of the record, so a torn trailing
// write is detected as either a short read or a checksum mismatch.
package record

import (
	"bufio"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ErrTorn marks a partial or corrupt record at the tail of a file.
var ErrTorn = errors.New("record: torn or corrupt record")

// Flags bits.
const (
	// FlagTombstone marks a deletion record; its value is empty.
	FlagTombstone byte = 1 << 0
)

// Caps reject garbage lengths before any allocation is attempted.
const (
	maxKeyLen   = 64 << 10
	maxValueLen = 1 << 30
)

// DataRecord is one decoded data-file record.
type DataRecord struct {
	Key   []byte
	Value []byte
	Flags byte
}

// Tombstone reports whether the record is a deletion marker.
func (r DataRecord) Tombstone() bool { return r.Flags&FlagTombstone != 0 }

// EncodeData renders a data record.
func EncodeData(key, value []byte, flags byte) []byte {
	out := make([]byte, 0, 10+10+1+len(key)+len(value)+4)
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], uint64(len(key)))
	out = append(out, tmp[:n]...)
	n = binary.PutUvarint(tmp[:], uint64(len(value)))
	out = append(out, tmp[:n]...)
	out = append(out, flags)
	out = append(out, key...)
	out = append(out, value...)

	crc := crc32.Update(0, castagnoli, out)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc)
	return append(out, crcb[:]...)
}

// DataSize returns the encoded size of a data record without encoding it.
func DataSize(klen, vlen int) int64 {
	return int64(uvarintLen(uint64(klen)) + uvarintLen(uint64(vlen)) + 1 + klen + vlen + 4)
}

// DecodeData decodes one data record from the start of b, which must hold
// exactly the record (as read back via a stored FileLocation).
func DecodeData(b []byte) (DataRecord, error) {
	if len(b) < 2+1+4 {
		return DataRecord{}, ErrTorn
	}
	klen, n := binary.Uvarint(b)
	if n <= 0 || klen > maxKeyLen {
		return DataRecord{}, ErrTorn
	}
	vlen, m := binary.Uvarint(b[n:])
	if m <= 0 || vlen > maxValueLen {
		return DataRecord{}, ErrTorn
	}
	total := n + m + 1 + int(klen) + int(vlen) + 4
	if len(b) < total {
		return DataRecord{}, ErrTorn
	}
	body := b[:total-4]
	expect := binary.BigEndian.Uint32(b[total-4 : total])
	if crc32.Update(0, castagnoli, body) != expect {
		return DataRecord{}, ErrTorn
	}
	flags := b[n+m]
	key := b[n+m+1 : n+m+1+int(klen)]
	value := b[n+m+1+int(klen) : total-4]
	return DataRecord{
		Key:   append([]byte(nil), key...),
		Value: append([]byte(nil), value...),
		Flags: flags,
	}, nil
}

// ReadData reads the next data record from r, returning the record and its
// encoded size. io.EOF marks a clean end of file; ErrTorn a partial or
// corrupt tail.
func ReadData(r *bufio.Reader) (DataRecord, int64, error) {
	var raw []byte

	klen, err := readUvarint(r, &raw)
	if err != nil {
		if err == io.EOF && len(raw) == 0 {
			return DataRecord{}, 0, io.EOF
		}
		return DataRecord{}, 0, ErrTorn
	}
	vlen, err := readUvarint(r, &raw)
	if err != nil || klen > maxKeyLen || vlen > maxValueLen {
		return DataRecord{}, 0, ErrTorn
	}
	rest := make([]byte, 1+int(klen)+int(vlen)+4)
	if _, err := io.ReadFull(r, rest); err != nil {
		return DataRecord{}, 0, ErrTorn
	}
	raw = append(raw, rest...)

	body := raw[:len(raw)-4]
	expect := binary.BigEndian.Uint32(raw[len(raw)-4:])
	if crc32.Update(0, castagnoli, body) != expect {
		return DataRecord{}, 0, ErrTorn
	}
	off := len(raw) - len(rest)
	rec := DataRecord{
		Flags: raw[off],
		Key:   append([]byte(nil), raw[off+1:off+1+int(klen)]...),
		Value: append([]byte(nil), raw[off+1+int(klen):len(raw)-4]...),
	}
	return rec, int64(len(raw)), nil
}

func readUvarint(r *bufio.Reader, raw *[]byte) (uint64, error) {
	var x uint64
	var s uint
	for i := 0; i < binary.MaxVarintLen64; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		*raw = append(*raw, b)
		if b < 0x80 {
			return x | uint64(b)<<s, nil
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
	return 0, ErrTorn
}

func uvarintLen(x uint64) int {
	n := 1
	for x >= 0x80 {
		x >>= 7
		n++
	}
	return n
}
