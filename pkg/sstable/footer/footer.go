// Package footer implements the SST file footer (spec §4.5): the fixed
// trailer that lets a reader locate the index block and validate the
// file's bounds before trusting anything else in it.
package footer

import (
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/latticedb/lattice/pkg/codec"
	"github.com/latticedb/lattice/pkg/comparator"
	"github.com/latticedb/lattice/pkg/kv"
)

// TrailerSize is the width of the two fixed fields every footer ends with:
// footer_size(u32) and crc32(u32). A reader locates the footer by reading
// exactly these last 8 bytes of the file first.
const TrailerSize = 8

var (
	// ErrCorrupt is returned when a footer cannot be parsed at all.
	ErrCorrupt = errors.New("footer: corrupt")
	// ErrChecksumMismatch is returned when a footer's CRC does not match.
	ErrChecksumMismatch = errors.New("footer: checksum mismatch")
	// ErrInvalidStructure is returned by Validate when a footer's fields are
	// internally consistent but do not fit the file they came from.
	ErrInvalidStructure = errors.New("footer: invalid structure")
)

// Footer is the SST file's trailer (spec §4.5):
//
//	min_entry || max_entry || fixed_u64(data_block_end) ||
//	fixed_u32(data_block_count) || fixed_u32(footer_size) || fixed_u32(crc32)
//
// footer_size covers the whole trailer, including itself and the crc32
// field, so a reader can locate the footer's start as file_size - footer_size
// after reading only the trailer's fixed last 8 bytes.
type Footer struct {
	MinEntry       kv.Entry
	MaxEntry       kv.Entry
	DataBlockEnd   uint64
	DataBlockCount uint32
}

// Encode serializes f to its on-disk form.
func (f *Footer) Encode() []byte {
	var buf []byte
	buf = f.MinEntry.Encode(buf)
	buf = f.MaxEntry.Encode(buf)
	buf = codec.PutFixed64(buf, f.DataBlockEnd)
	buf = codec.PutFixed32(buf, f.DataBlockCount)

	footerSize := uint32(len(buf) + TrailerSize)
	buf = codec.PutFixed32(buf, footerSize)

	crc := crc32.ChecksumIEEE(buf)
	buf = codec.PutFixed32(buf, crc)
	return buf
}

// DecodeTrailer reads just the fixed-width footer_size/crc32 suffix from a
// file's last 8 bytes, letting the caller compute where the full footer
// begins (file_size - footer_size) before reading the rest.
func DecodeTrailer(last8 []byte) (footerSize uint32, crc uint32, err error) {
	if len(last8) < TrailerSize {
		return 0, 0, fmt.Errorf("%w: trailer shorter than %d bytes", ErrCorrupt, TrailerSize)
	}
	footerSize, rest, err := codec.GetFixed32(last8[len(last8)-TrailerSize:])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	crc, _, err = codec.GetFixed32(rest)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return footerSize, crc, nil
}

// Decode parses a complete footer from raw, which must be exactly the
// footer_size bytes at the tail of the file (as identified via
// DecodeTrailer). Decode verifies the CRC before trusting any field.
func Decode(raw []byte) (*Footer, error) {
	if len(raw) < TrailerSize+1 {
		return nil, fmt.Errorf("%w: footer too short", ErrCorrupt)
	}

	storedSize, storedCRC, err := DecodeTrailer(raw)
	if err != nil {
		return nil, err
	}
	if int(storedSize) != len(raw) {
		return nil, fmt.Errorf("%w: footer_size field %d does not match trailer slice length %d", ErrCorrupt, storedSize, len(raw))
	}

	gotCRC := crc32.ChecksumIEEE(raw[:len(raw)-4])
	if gotCRC != storedCRC {
		return nil, ErrChecksumMismatch
	}

	rest := raw[:len(raw)-TrailerSize]
	minEntry, rest, err := kv.Decode(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: min_entry: %v", ErrCorrupt, err)
	}
	maxEntry, rest, err := kv.Decode(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: max_entry: %v", ErrCorrupt, err)
	}
	dataBlockEnd, rest, err := codec.GetFixed64(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: data_block_end: %v", ErrCorrupt, err)
	}
	dataBlockCount, _, err := codec.GetFixed32(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: data_block_count: %v", ErrCorrupt, err)
	}

	return &Footer{
		MinEntry:       minEntry.Clone(),
		MaxEntry:       maxEntry.Clone(),
		DataBlockEnd:   dataBlockEnd,
		DataBlockCount: dataBlockCount,
	}, nil
}

// Validate rejects a structurally-parseable but semantically impossible
// footer before the reader trusts it to drive further file I/O: a
// malicious or corrupted file could otherwise point the reader at offsets
// outside the file.
func Validate(f *Footer, fileSize int64, cmp comparator.Comparator) error {
	if f.DataBlockCount == 0 {
		return fmt.Errorf("%w: data_block_count is zero", ErrInvalidStructure)
	}
	if f.DataBlockEnd == 0 {
		return fmt.Errorf("%w: data_block_end is zero", ErrInvalidStructure)
	}
	if fileSize < TrailerSize {
		return fmt.Errorf("%w: file size %d smaller than trailer", ErrInvalidStructure, fileSize)
	}
	if f.DataBlockEnd > uint64(fileSize) {
		return fmt.Errorf("%w: data_block_end %d beyond file size %d", ErrInvalidStructure, f.DataBlockEnd, fileSize)
	}
	if f.MinEntry.Compare(f.MaxEntry, cmp) > 0 {
		return fmt.Errorf("%w: min_entry sorts after max_entry", ErrInvalidStructure)
	}
	return nil
}
