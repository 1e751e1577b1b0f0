// Package filter provides the default per-block Filter/FilterFactory (spec
// §4.4, §9): a Bloom filter seeded with xxhash, sized for the block's key
// count so a reader can skip a block's restart-point search on a
// definitive negative.
package filter

import (
	"fmt"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cespare/xxhash/v2"

	"github.com/latticedb/lattice/pkg/kv"
)

// BloomFactory builds and decodes Bloom filters at a fixed target false
// positive rate.
type BloomFactory struct {
	falsePositiveRate float64
}

// NewBloomFactory returns a factory whose filters target the given false
// positive rate (spec default: 0.01, i.e. 1%).
func NewBloomFactory(falsePositiveRate float64) *BloomFactory {
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	return &BloomFactory{falsePositiveRate: falsePositiveRate}
}

// Name identifies the filter kind for diagnostics and config echoing.
func (f *BloomFactory) Name() string { return "bloom" }

// NewFilter returns a builder sized for roughly n keys.
func (f *BloomFactory) NewFilter(n int) kv.FilterBuilder {
	if n < 1 {
		n = 1
	}
	return &bloomFilter{bf: bloom.NewWithEstimates(uint(n), f.falsePositiveRate)}
}

// Decode parses a previously encoded Bloom filter.
func (f *BloomFactory) Decode(data []byte) (kv.Filter, error) {
	bf := &bloom.BloomFilter{}
	if err := bf.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("filter: decode bloom filter: %w", err)
	}
	return &bloomFilter{bf: bf}, nil
}

type bloomFilter struct {
	bf *bloom.BloomFilter
}

// Add hashes key via xxhash and records it in the filter.
func (b *bloomFilter) Add(key []byte) {
	b.bf.Add(hashKey(key))
}

// MayContain reports whether key might be present; false is definitive.
func (b *bloomFilter) MayContain(key []byte) bool {
	return b.bf.Test(hashKey(key))
}

// Encode returns the filter's on-disk representation.
func (b *bloomFilter) Encode() []byte {
	data, err := b.bf.MarshalBinary()
	if err != nil {
		// bloom.BloomFilter's MarshalBinary only fails on write errors from
		// a bytes.Buffer, which never occur.
		panic(fmt.Sprintf("filter: marshal bloom filter: %v", err))
	}
	return data
}

func hashKey(key []byte) []byte {
	sum := xxhash.Sum64(key)
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[i] = byte(sum >> (8 * i))
	}
	return out
}
