// Package kv defines the engine's logical record type and the external
// plug-in surfaces (key/value codec, compressor, filter) that spec §1 and
// §9 treat as collaborators rather than core engine concerns.
package kv

import (
	"errors"

	"github.com/latticedb/lattice/pkg/codec"
	"github.com/latticedb/lattice/pkg/comparator"
)

// Tag values for the encoded entry (spec §4.2).
const (
	tagValue     = 1
	tagTombstone = 2
)

var (
	// ErrCorruptEntry is returned when an entry's tag byte is neither
	// tagValue nor tagTombstone, or the buffer is truncated mid-field.
	ErrCorruptEntry = errors.New("kv: corrupt entry")
)

// Entry is the engine's logical record: a user key, the sequence number it
// was committed at, and an optional value. A nil Value with Tombstone set
// marks a deletion (spec §3).
type Entry struct {
	Key       []byte
	Seq       uint64
	Value     []byte
	Tombstone bool
}

// NewValue builds a put entry.
func NewValue(key []byte, seq uint64, value []byte) Entry {
	return Entry{Key: key, Seq: seq, Value: value}
}

// NewTombstone builds a delete entry.
func NewTombstone(key []byte, seq uint64) Entry {
	return Entry{Key: key, Seq: seq, Tombstone: true}
}

// Size estimates the entry's in-memory footprint, summed by the memtable's
// skip list into its ApproximateSize.
func (e Entry) Size() int64 {
	return int64(len(e.Key) + len(e.Value) + 16)
}

// Encode appends the entry's wire representation to dst:
// varint(key_len) || key || varint(seq) || tag || [varint(value_len) || value]
// (spec §4.2).
func (e Entry) Encode(dst []byte) []byte {
	dst = codec.PutBytes(dst, e.Key)
	dst = codec.PutUvarint(dst, e.Seq)
	if e.Tombstone {
		dst = append(dst, tagTombstone)
		return dst
	}
	dst = append(dst, tagValue)
	dst = codec.PutBytes(dst, e.Value)
	return dst
}

// Decode parses an entry from the front of src, returning the entry and the
// unconsumed remainder. The returned entry's Key/Value alias src.
func Decode(src []byte) (Entry, []byte, error) {
	key, rest, err := codec.GetBytes(src)
	if err != nil {
		return Entry{}, src, ErrCorruptEntry
	}
	seq, rest, err := codec.GetUvarint64(rest)
	if err != nil {
		return Entry{}, src, ErrCorruptEntry
	}
	if len(rest) < 1 {
		return Entry{}, src, ErrCorruptEntry
	}
	tag := rest[0]
	rest = rest[1:]
	switch tag {
	case tagTombstone:
		return Entry{Key: key, Seq: seq, Tombstone: true}, rest, nil
	case tagValue:
		value, rest2, err := codec.GetBytes(rest)
		if err != nil {
			return Entry{}, src, ErrCorruptEntry
		}
		return Entry{Key: key, Seq: seq, Value: value}, rest2, nil
	default:
		return Entry{}, src, ErrCorruptEntry
	}
}

// Less reports whether e sorts strictly before other under cmp: ascending
// by Key, then ascending by Seq (a newer entry for the same key compares
// greater, spec §3).
func (e Entry) Less(other Entry, cmp comparator.Comparator) bool {
	if c := cmp.Compare(e.Key, other.Key); c != 0 {
		return c < 0
	}
	return e.Seq < other.Seq
}

// Compare orders e against other the same way Less does, returning a
// tri-state result for use in binary search and sort.
func (e Entry) Compare(other Entry, cmp comparator.Comparator) int {
	if c := cmp.Compare(e.Key, other.Key); c != 0 {
		return c
	}
	switch {
	case e.Seq < other.Seq:
		return -1
	case e.Seq > other.Seq:
		return 1
	default:
		return 0
	}
}

// Clone deep-copies Key and Value so the entry no longer aliases any
// decode buffer.
func (e Entry) Clone() Entry {
	out := Entry{Seq: e.Seq, Tombstone: e.Tombstone}
	if e.Key != nil {
		out.Key = append([]byte(nil), e.Key...)
	}
	if e.Value != nil {
		out.Value = append([]byte(nil), e.Value...)
	}
	return out
}
