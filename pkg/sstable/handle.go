package sstable

import (
	"fmt"

	"github.com/latticedb/lattice/pkg/codec"
)

// blockHandle locates one data block within the SST file.
type blockHandle struct {
	offset uint64
	size   uint32
}

func encodeHandle(dst []byte, h blockHandle) []byte {
	dst = codec.PutFixed64(dst, h.offset)
	dst = codec.PutFixed32(dst, h.size)
	return dst
}

func decodeHandle(src []byte) (blockHandle, error) {
	offset, rest, err := codec.GetFixed64(src)
	if err != nil {
		return blockHandle{}, fmt.Errorf("sstable: decode block handle: %w", err)
	}
	size, _, err := codec.GetFixed32(rest)
	if err != nil {
		return blockHandle{}, fmt.Errorf("sstable: decode block handle: %w", err)
	}
	return blockHandle{offset: offset, size: size}, nil
}
