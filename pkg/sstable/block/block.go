// Package block implements the data block format data blocks and index
// blocks share: restart-interval prefix-compressed entries, an optional
// per-block filter, optional compression, and a CRC32 trailer (spec §4.4).
package block

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/latticedb/lattice/pkg/codec"
	"github.com/latticedb/lattice/pkg/comparator"
	"github.com/latticedb/lattice/pkg/kv"
)

// DefaultRestartInterval is how many entries separate each restart point
// when the engine does not override it (spec §6 default).
const DefaultRestartInterval = 16

// maxKeyLength bounds a reconstructed key's length defensively; no real key
// in this engine approaches 64KiB.
const maxKeyLength = 64 * 1024

const (
	compressionNone byte = 0
	compressionUsed byte = 1
)

var (
	// ErrCorruptBlock is returned when a block's trailer, restart table, or
	// entry stream cannot be parsed.
	ErrCorruptBlock = errors.New("block: corrupt block")
	// ErrChecksumMismatch is returned when a block's CRC does not match its
	// stored payload.
	ErrChecksumMismatch = errors.New("block: checksum mismatch")
)

// Builder accumulates entries for a single block in sorted order.
type Builder struct {
	cmp             comparator.Comparator
	restartInterval int
	compressor      kv.Compressor
	filter          kv.FilterBuilder

	buf         []byte
	restarts    []uint32
	lastKey     []byte
	numEntries  int
}

// NewBuilder returns a Builder. compressor and filter may be nil.
func NewBuilder(cmp comparator.Comparator, restartInterval int, compressor kv.Compressor, filter kv.FilterBuilder) *Builder {
	if restartInterval <= 0 {
		restartInterval = DefaultRestartInterval
	}
	return &Builder{cmp: cmp, restartInterval: restartInterval, compressor: compressor, filter: filter}
}

// Add appends e to the block. Entries must be added in ascending (key, seq)
// order; callers (the table writer) are responsible for that ordering.
func (b *Builder) Add(e kv.Entry) {
	shared := 0
	if b.numEntries%b.restartInterval == 0 {
		b.restarts = append(b.restarts, uint32(len(b.buf)))
	} else {
		shared = commonPrefixLen(b.lastKey, e.Key)
	}
	unshared := e.Key[shared:]

	b.buf = codec.PutUvarint(b.buf, uint64(shared))
	b.buf = codec.PutUvarint(b.buf, uint64(len(unshared)))
	b.buf = append(b.buf, unshared...)
	b.buf = codec.PutUvarint(b.buf, e.Seq)
	if e.Tombstone {
		b.buf = append(b.buf, tagTombstone)
	} else {
		b.buf = append(b.buf, tagValue)
		b.buf = codec.PutBytes(b.buf, e.Value)
	}

	b.lastKey = append(b.lastKey[:0], e.Key...)
	b.numEntries++
	if b.filter != nil {
		b.filter.Add(e.Key)
	}
}

const (
	tagValue     = 1
	tagTombstone = 2
)

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// NumEntries reports how many entries have been added.
func (b *Builder) NumEntries() int { return b.numEntries }

// EstimatedSize estimates the finished block's encoded size, used by the
// table writer to decide when to roll over to a new block.
func (b *Builder) EstimatedSize() int {
	return len(b.buf) + 4*len(b.restarts) + 4 + 5
}

// Empty reports whether any entries have been added.
func (b *Builder) Empty() bool { return b.numEntries == 0 }

// Finish seals the block: entries, restart table, optional filter, optional
// compression, and a CRC32 trailer. The Builder must not be reused after
// Finish; call Reset first.
func (b *Builder) Finish() ([]byte, error) {
	var filterBytes []byte
	if b.filter != nil {
		filterBytes = b.filter.Encode()
	}

	// Lengths are stored as suffixes, each directly after the data it
	// measures, so a reader can walk the trailer back-to-front without
	// needing to know any field's size in advance: num_restarts (the true
	// last field) has a fixed width, which fixes the offset of
	// len(filterBytes), which in turn fixes the offset of filterBytes itself.
	payload := append([]byte(nil), b.buf...)
	payload = append(payload, filterBytes...)
	payload = codec.PutFixed32(payload, uint32(len(filterBytes)))
	for _, r := range b.restarts {
		payload = codec.PutFixed32(payload, r)
	}
	payload = codec.PutFixed32(payload, uint32(len(b.restarts)))

	compressionType := compressionNone
	body := payload
	if b.compressor != nil {
		compressed := b.compressor.Compress(nil, payload)
		if len(compressed) < len(payload) {
			body = compressed
			compressionType = compressionUsed
		}
	}

	out := make([]byte, 0, len(body)+5)
	out = append(out, body...)
	out = append(out, compressionType)
	crc := crc32.ChecksumIEEE(out)
	out = codec.PutFixed32(out, crc)
	return out, nil
}

// Reset clears the builder for reuse with the next block.
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
	b.restarts = b.restarts[:0]
	b.lastKey = b.lastKey[:0]
	b.numEntries = 0
	if b.filter != nil {
		// FilterBuilders are single-use in every implementation this engine
		// ships (spec §9); the table writer allocates a fresh one per block.
		b.filter = nil
	}
}

// Block is a decoded, ready-to-iterate block.
type Block struct {
	cmp      comparator.Comparator
	data     []byte // entries payload only, restarts/filter stripped
	restarts []uint32
	filter   kv.Filter
}

// Open decodes raw (as produced by Builder.Finish), verifying its CRC
// trailer and decompressing if needed.
func Open(raw []byte, cmp comparator.Comparator, compressor kv.Compressor, filterFactory kv.FilterFactory) (*Block, error) {
	if len(raw) < 5 {
		return nil, fmt.Errorf("block: %w: too short", ErrCorruptBlock)
	}
	n := len(raw)
	wantCRC := uint32(raw[n-4]) | uint32(raw[n-3])<<8 | uint32(raw[n-2])<<16 | uint32(raw[n-1])<<24
	gotCRC := crc32.ChecksumIEEE(raw[:n-4])
	if gotCRC != wantCRC {
		return nil, ErrChecksumMismatch
	}
	compressionType := raw[n-5]
	body := raw[:n-5]

	switch compressionType {
	case compressionNone:
		// body already holds the raw payload.
	case compressionUsed:
		if compressor == nil {
			return nil, fmt.Errorf("block: %w: compressed block but no compressor configured", ErrCorruptBlock)
		}
		decoded, err := compressor.Uncompress(nil, body)
		if err != nil {
			return nil, fmt.Errorf("block: decompress: %w", err)
		}
		body = decoded
	default:
		return nil, fmt.Errorf("block: %w: unknown compression type %d", ErrCorruptBlock, compressionType)
	}

	if len(body) < 8 {
		return nil, fmt.Errorf("block: %w: too short after decompression", ErrCorruptBlock)
	}

	n = len(body)
	numRestarts, _, err := codec.GetFixed32(body[n-4:])
	if err != nil {
		return nil, fmt.Errorf("block: %w: %v", ErrCorruptBlock, err)
	}
	n -= 4
	restartBytes := 4 * int(numRestarts)
	if restartBytes > n {
		return nil, fmt.Errorf("block: %w: restart table beyond block", ErrCorruptBlock)
	}
	restartsStart := n - restartBytes
	restarts := make([]uint32, numRestarts)
	for i := 0; i < int(numRestarts); i++ {
		v, _, err := codec.GetFixed32(body[restartsStart+4*i:])
		if err != nil {
			return nil, fmt.Errorf("block: %w: %v", ErrCorruptBlock, err)
		}
		restarts[i] = v
	}
	n = restartsStart

	if n < 4 {
		return nil, fmt.Errorf("block: %w: missing filter length", ErrCorruptBlock)
	}
	filterLen, _, err := codec.GetFixed32(body[n-4:])
	if err != nil {
		return nil, fmt.Errorf("block: %w: %v", ErrCorruptBlock, err)
	}
	n -= 4
	if uint64(filterLen) > uint64(n) {
		return nil, fmt.Errorf("block: %w: filter length %d beyond block", ErrCorruptBlock, filterLen)
	}
	filterStart := n - int(filterLen)
	filterBytes := body[filterStart:n]

	blk := &Block{cmp: cmp, data: body[:filterStart], restarts: restarts}
	if len(filterBytes) > 0 && filterFactory != nil {
		f, err := filterFactory.Decode(filterBytes)
		if err != nil {
			return nil, fmt.Errorf("block: decode filter: %w", err)
		}
		blk.filter = f
	}
	return blk, nil
}

// MayContain reports whether key could be present, consulting the block's
// filter if one was stored; blocks without a filter always answer true.
func (b *Block) MayContain(key []byte) bool {
	if b.filter == nil {
		return true
	}
	return b.filter.MayContain(key)
}

// validateDeltaEncoding defends against a corrupted or hostile block
// claiming a shared/unshared split that would read out of bounds or
// reconstruct an unreasonably large key.
func validateDeltaEncoding(shared, unshared uint32, currentKey, data []byte) error {
	if uint64(shared) > uint64(len(currentKey)) {
		return fmt.Errorf("%w: shared length %d exceeds current key length %d", ErrCorruptBlock, shared, len(currentKey))
	}
	if uint64(unshared) > uint64(len(data)) {
		return fmt.Errorf("%w: unshared length %d exceeds available data %d", ErrCorruptBlock, unshared, len(data))
	}
	if uint64(shared)+uint64(unshared) > maxKeyLength {
		return fmt.Errorf("%w: reconstructed key length %d exceeds %d byte limit", ErrCorruptBlock, uint64(shared)+uint64(unshared), maxKeyLength)
	}
	return nil
}

// Iterator walks a Block's entries in ascending order, reconstructing keys
// from their restart-relative delta encoding as it goes.
type Iterator struct {
	block   *Block
	pos     int // byte offset into block.data of the current entry, or len(data) if exhausted
	key     []byte
	entry   kv.Entry
	valid   bool
	err     error
}

// NewIterator returns an iterator positioned before the first entry.
func (b *Block) NewIterator() *Iterator {
	return &Iterator{block: b}
}

// Err returns the first error encountered during iteration, if any.
func (it *Iterator) Err() error { return it.err }

func (it *Iterator) parseAt(offset int) (next int, ok bool) {
	data := it.block.data
	if offset >= len(data) {
		return offset, false
	}
	shared, rest, err := codec.GetUvarint32(data[offset:])
	if err != nil {
		it.err = fmt.Errorf("block: %w: %v", ErrCorruptBlock, err)
		return offset, false
	}
	unshared, rest, err := codec.GetUvarint32(rest)
	if err != nil {
		it.err = fmt.Errorf("block: %w: %v", ErrCorruptBlock, err)
		return offset, false
	}
	if err := validateDeltaEncoding(shared, unshared, it.key, rest); err != nil {
		it.err = err
		return offset, false
	}
	unsharedBytes := rest[:unshared]
	rest = rest[unshared:]

	key := make([]byte, 0, int(shared)+int(unshared))
	key = append(key, it.key[:shared]...)
	key = append(key, unsharedBytes...)

	seq, rest, err := codec.GetUvarint64(rest)
	if err != nil {
		it.err = fmt.Errorf("block: %w: %v", ErrCorruptBlock, err)
		return offset, false
	}
	if len(rest) < 1 {
		it.err = fmt.Errorf("block: %w: missing tag byte", ErrCorruptBlock)
		return offset, false
	}
	tag := rest[0]
	rest = rest[1:]

	var e kv.Entry
	switch tag {
	case tagTombstone:
		e = kv.Entry{Key: key, Seq: seq, Tombstone: true}
	case tagValue:
		value, rest2, err := codec.GetBytes(rest)
		if err != nil {
			it.err = fmt.Errorf("block: %w: %v", ErrCorruptBlock, err)
			return offset, false
		}
		e = kv.Entry{Key: key, Seq: seq, Value: value}
		rest = rest2
	default:
		it.err = fmt.Errorf("block: %w: unknown tag %d", ErrCorruptBlock, tag)
		return offset, false
	}

	it.key = key
	it.entry = e
	return len(data) - len(rest), true
}

// SeekToFirst positions the iterator at the block's first entry.
func (it *Iterator) SeekToFirst() {
	it.key = nil
	next, ok := it.parseAt(0)
	it.pos = next
	it.valid = ok
}

// Seek positions the iterator at the first entry whose key is >= target,
// using the restart table to narrow the linear scan.
func (it *Iterator) Seek(target []byte) {
	restarts := it.block.restarts
	lo, hi := 0, len(restarts)-1
	best := 0
	for lo <= hi {
		mid := (lo + hi) / 2
		off := int(restarts[mid])
		key, ok := it.peekKeyAt(off)
		if !ok {
			it.valid = false
			return
		}
		// Strictly less: entries equal to target may begin before a restart
		// whose key equals target.
		if bytes.Compare(key, target) < 0 {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}

	it.key = nil
	next, ok := it.parseAt(int(restarts[best]))
	it.pos = next
	it.valid = ok
	for it.valid && it.block.cmp.Compare(it.key, target) < 0 {
		it.Next()
	}
}

// peekKeyAt decodes just the key of the entry at a restart point, where
// shared is always 0 by construction.
func (it *Iterator) peekKeyAt(offset int) ([]byte, bool) {
	data := it.block.data
	if offset >= len(data) {
		return nil, false
	}
	shared, rest, err := codec.GetUvarint32(data[offset:])
	if err != nil || shared != 0 {
		return nil, false
	}
	unshared, rest, err := codec.GetUvarint32(rest)
	if err != nil || uint64(unshared) > uint64(len(rest)) {
		return nil, false
	}
	return rest[:unshared], true
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.valid }

// Key returns the current entry's key.
func (it *Iterator) Key() []byte { return it.entry.Key }

// Entry returns the current entry.
func (it *Iterator) Entry() kv.Entry { return it.entry }

// Next advances to the next entry.
func (it *Iterator) Next() {
	if !it.valid {
		return
	}
	next, ok := it.parseAt(it.pos)
	it.pos = next
	it.valid = ok
}
