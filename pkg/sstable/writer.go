// Package sstable implements the immutable, sorted SST file format: data
// blocks, a sparse index block, and a footer (spec §4.4-§4.6).
package sstable

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/latticedb/lattice/pkg/comparator"
	"github.com/latticedb/lattice/pkg/kv"
	"github.com/latticedb/lattice/pkg/sstable/block"
	"github.com/latticedb/lattice/pkg/sstable/footer"
)

// Options configures a Writer's block layout and plug-ins.
type Options struct {
	Comparator      comparator.Comparator
	BlockSize       int
	RestartInterval int
	Compressor      kv.Compressor
	FilterFactory   kv.FilterFactory
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Comparator == nil {
		out.Comparator = comparator.Default
	}
	if out.BlockSize <= 0 {
		out.BlockSize = 4096
	}
	if out.RestartInterval <= 0 {
		out.RestartInterval = block.DefaultRestartInterval
	}
	return out
}

// Writer builds one SST file. Entries must be Add'ed in ascending (key,
// seq) order (spec §4.5); the writer does not sort.
type Writer struct {
	opts Options

	path    string
	tmpPath string
	file    *os.File
	bw      *bufio.Writer

	cur            *block.Builder
	curLastKey     []byte
	indexBuilder   *block.Builder
	offset         uint64
	dataBlockCount uint32

	haveFirst  bool
	firstKey   kv.Entry
	lastKey    kv.Entry
	entryCount int

	finished bool
}

// NewWriter creates a new SST file at path (via a sibling .tmp file, made
// visible only once Finish succeeds).
func NewWriter(path string, opts Options) (*Writer, error) {
	opts = opts.withDefaults()
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("sstable: create %s: %w", tmpPath, err)
	}
	w := &Writer{
		opts:         opts,
		path:         path,
		tmpPath:      tmpPath,
		file:         f,
		bw:           bufio.NewWriterSize(f, 64*1024),
		indexBuilder: block.NewBuilder(opts.Comparator, opts.RestartInterval, nil, nil),
	}
	w.newDataBlock()
	return w, nil
}

func (w *Writer) newDataBlock() {
	var fb kv.FilterBuilder
	if w.opts.FilterFactory != nil {
		fb = w.opts.FilterFactory.NewFilter(w.opts.BlockSize / 32)
	}
	w.cur = block.NewBuilder(w.opts.Comparator, w.opts.RestartInterval, w.opts.Compressor, fb)
	w.curLastKey = nil
}

// Add appends e to the table.
func (w *Writer) Add(e kv.Entry) error {
	if w.finished {
		return fmt.Errorf("sstable: Add called after Finish")
	}
	if !w.haveFirst {
		w.firstKey = e.Clone()
		w.haveFirst = true
	}
	w.lastKey = e.Clone()
	w.entryCount++

	w.cur.Add(e)
	w.curLastKey = append(w.curLastKey[:0], e.Key...)

	if w.cur.EstimatedSize() >= w.opts.BlockSize {
		return w.flushDataBlock()
	}
	return nil
}

func (w *Writer) flushDataBlock() error {
	if w.cur.Empty() {
		return nil
	}
	raw, err := w.cur.Finish()
	if err != nil {
		return fmt.Errorf("sstable: finish data block: %w", err)
	}
	if _, err := w.bw.Write(raw); err != nil {
		return fmt.Errorf("sstable: write data block: %w", err)
	}

	handle := blockHandle{offset: w.offset, size: uint32(len(raw))}
	var hv []byte
	hv = encodeHandle(hv, handle)
	w.indexBuilder.Add(kv.Entry{Key: append([]byte(nil), w.curLastKey...), Value: hv})

	w.offset += uint64(len(raw))
	w.dataBlockCount++
	w.newDataBlock()
	return nil
}

// Finish flushes any pending block, writes the index block and footer, and
// atomically publishes the file at its final path.
func (w *Writer) Finish() error {
	if w.finished {
		return fmt.Errorf("sstable: Finish called twice")
	}
	if err := w.flushDataBlock(); err != nil {
		w.abort()
		return err
	}
	if w.dataBlockCount == 0 {
		w.abort()
		return fmt.Errorf("sstable: refusing to write an empty table")
	}

	dataBlockEnd := w.offset
	indexRaw, err := w.indexBuilder.Finish()
	if err != nil {
		w.abort()
		return fmt.Errorf("sstable: finish index block: %w", err)
	}
	if _, err := w.bw.Write(indexRaw); err != nil {
		w.abort()
		return fmt.Errorf("sstable: write index block: %w", err)
	}

	ft := &footer.Footer{
		MinEntry:       w.firstKey,
		MaxEntry:       w.lastKey,
		DataBlockEnd:   dataBlockEnd,
		DataBlockCount: w.dataBlockCount,
	}
	footerBytes := ft.Encode()
	if _, err := w.bw.Write(footerBytes); err != nil {
		w.abort()
		return fmt.Errorf("sstable: write footer: %w", err)
	}

	if err := w.bw.Flush(); err != nil {
		w.abort()
		return fmt.Errorf("sstable: flush: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		w.abort()
		return fmt.Errorf("sstable: fsync: %w", err)
	}
	if err := w.file.Close(); err != nil {
		w.abort()
		return fmt.Errorf("sstable: close: %w", err)
	}
	if err := os.Rename(w.tmpPath, w.path); err != nil {
		w.abort()
		return fmt.Errorf("sstable: rename %s -> %s: %w", w.tmpPath, w.path, err)
	}
	if dir, err := os.Open(filepath.Dir(w.path)); err == nil {
		dir.Sync()
		dir.Close()
	}

	w.finished = true
	return nil
}

// Abandon discards the in-progress file, removing its temporary path.
func (w *Writer) Abandon() error {
	if w.finished {
		return nil
	}
	return w.abort()
}

func (w *Writer) abort() error {
	w.file.Close()
	return os.Remove(w.tmpPath)
}

// NumEntries reports how many entries have been added so far.
func (w *Writer) NumEntries() int { return w.entryCount }

// Size estimates the output file's current on-disk size: bytes already
// flushed as data blocks plus the in-progress block's estimated size. Used
// by the merger's step loop to decide when to rotate to a new output file
// (spec §4.7 step 2).
func (w *Writer) Size() int64 {
	return int64(w.offset) + int64(w.cur.EstimatedSize())
}
