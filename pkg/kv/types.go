package kv

// Compressor is the pluggable block-payload compression capability (spec
// §6, §9). Compress/Uncompress operate on a single data block's payload.
type Compressor interface {
	Name() string
	Compress(dst, src []byte) []byte
	Uncompress(dst, src []byte) ([]byte, error)
}

// Filter is a single block's encoded filter (e.g. a Bloom filter), built by
// a FilterFactory and consulted before a block's restart points are binary
// searched (spec §4.4).
type Filter interface {
	// MayContain reports whether key might be present; false is a
	// definitive negative.
	MayContain(key []byte) bool
	// Encode returns the filter's on-disk representation.
	Encode() []byte
}

// FilterFactory builds Filters for blocks being written, and decodes them
// back when a block is read.
type FilterFactory interface {
	Name() string
	// NewFilter returns a builder seeded for roughly n keys.
	NewFilter(n int) FilterBuilder
	// Decode parses a previously encoded filter.
	Decode(data []byte) (Filter, error)
}

// FilterBuilder accumulates keys for one block's filter before it is sealed.
type FilterBuilder interface {
	Add(key []byte)
	Filter
}

// KeyCodec and ValueCodec let an embedder use typed keys/values instead of
// raw bytes; the engine itself only ever sees the encoded form (spec §9).
type KeyCodec[K any] interface {
	EncodeKey(K) []byte
	DecodeKey([]byte) (K, error)
}

type ValueCodec[V any] interface {
	EncodeValue(V) []byte
	DecodeValue([]byte) (V, error)
}
