package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// FileName returns the on-disk name for WAL file sequence seq
// (spec §6: "wal/NNNNNN.wal").
func FileName(seq uint64) string {
	return fmt.Sprintf("%06d.wal", seq)
}

// ParseSeq extracts the file sequence from a WAL file name, as produced by
// FileName.
func ParseSeq(name string) (uint64, bool) {
	name = filepath.Base(name)
	if !strings.HasSuffix(name, ".wal") {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSuffix(name, ".wal"), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ListSeqs returns the file sequences of every WAL file under dir, sorted
// ascending (oldest first).
func ListSeqs(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("wal: read dir %s: %w", dir, err)
	}
	var seqs []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if seq, ok := ParseSeq(e.Name()); ok {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}
