// Package codec implements the little-endian fixed and varint primitives
// the rest of the storage engine builds its wire formats on top of.
package codec

import (
	"encoding/binary"
	"errors"
)

var (
	// ErrBufferTooShort is returned when a decode call does not have enough
	// bytes left to satisfy the field it is reading.
	ErrBufferTooShort = errors.New("codec: buffer too short")
	// ErrVarintOverflow is returned when a varint would not fit in the
	// target integer width.
	ErrVarintOverflow = errors.New("codec: varint overflow")
)

// PutFixed32 appends a little-endian uint32 to dst.
func PutFixed32(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

// PutFixed64 appends a little-endian uint64 to dst.
func PutFixed64(dst []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}

// GetFixed32 reads a little-endian uint32 from the front of src.
func GetFixed32(src []byte) (uint32, []byte, error) {
	if len(src) < 4 {
		return 0, src, ErrBufferTooShort
	}
	return binary.LittleEndian.Uint32(src), src[4:], nil
}

// GetFixed64 reads a little-endian uint64 from the front of src.
func GetFixed64(src []byte) (uint64, []byte, error) {
	if len(src) < 8 {
		return 0, src, ErrBufferTooShort
	}
	return binary.LittleEndian.Uint64(src), src[8:], nil
}

// PutUvarint appends v to dst using base-128 little-endian varint encoding,
// high bit set meaning "more bytes follow".
func PutUvarint(dst []byte, v uint64) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	return append(dst, buf[:n]...)
}

// maxVarintBytes bounds how many bytes a varint of the given width may
// occupy: 5 for 32-bit values, 10 for 64-bit values (spec §4.1).
func maxVarintBytes(bits int) int {
	if bits <= 32 {
		return 5
	}
	return 10
}

// getUvarint decodes a varint-encoded uint64 from the front of src,
// enforcing the 10-byte cap (5 for 32-bit callers) and rejecting overflow
// in the final byte.
func getUvarint(src []byte, maxBytes int) (uint64, []byte, error) {
	width := uint(64)
	if maxBytes == maxVarintBytes(32) {
		width = 32
	}
	var x uint64
	var s uint
	for i := 0; i < len(src) && i < maxBytes; i++ {
		b := src[i]
		if b < 0x80 {
			if i == maxBytes-1 && uint64(b)>>(width-s) != 0 {
				// The final byte may only contribute the bits still left in
				// the target width (1 for 64-bit, 4 for 32-bit); anything
				// else is corrupt.
				return 0, src, ErrVarintOverflow
			}
			x |= uint64(b) << s
			return x, src[i+1:], nil
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
	if len(src) < maxBytes {
		return 0, src, ErrBufferTooShort
	}
	return 0, src, ErrVarintOverflow
}

// GetUvarint64 decodes a varint capped at 10 bytes (u64 range).
func GetUvarint64(src []byte) (uint64, []byte, error) {
	return getUvarint(src, maxVarintBytes(64))
}

// GetUvarint32 decodes a varint capped at 5 bytes (u32 range) and rejects
// values that would not fit in a uint32.
func GetUvarint32(src []byte) (uint32, []byte, error) {
	v, rest, err := getUvarint(src, maxVarintBytes(32))
	if err != nil {
		return 0, src, err
	}
	if v > 0xFFFFFFFF {
		return 0, src, ErrVarintOverflow
	}
	return uint32(v), rest, nil
}

// PutBytes appends a varint-u32 length prefix followed by the raw bytes.
func PutBytes(dst []byte, b []byte) []byte {
	dst = PutUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}

// GetBytes decodes a length-prefixed byte string, returning a slice that
// aliases src (callers must clone if they retain it beyond src's lifetime).
func GetBytes(src []byte) ([]byte, []byte, error) {
	n, rest, err := GetUvarint32(src)
	if err != nil {
		return nil, src, err
	}
	if uint64(len(rest)) < uint64(n) {
		return nil, src, ErrBufferTooShort
	}
	return rest[:n], rest[n:], nil
}
