// Package compress provides the default block-payload Compressor (spec §6,
// §9), backed by Snappy: fast, streaming-friendly compression well suited
// to the small (single-block) payloads this engine compresses.
package compress

import (
	"fmt"

	"github.com/golang/snappy"
)

// Snappy implements kv.Compressor using github.com/golang/snappy.
type Snappy struct{}

// Name identifies the compressor for diagnostics and config echoing.
func (Snappy) Name() string { return "snappy" }

// Compress returns src compressed, appended to dst.
func (Snappy) Compress(dst, src []byte) []byte {
	return snappy.Encode(dst, src)
}

// Uncompress decompresses src, appending the result to dst.
func (Snappy) Uncompress(dst, src []byte) ([]byte, error) {
	out, err := snappy.Decode(dst, src)
	if err != nil {
		return nil, fmt.Errorf("compress: snappy decode: %w", err)
	}
	return out, nil
}
