package sstable

import (
	"fmt"
	"os"

	"github.com/latticedb/lattice/pkg/kv"
	"github.com/latticedb/lattice/pkg/sstable/block"
	"github.com/latticedb/lattice/pkg/sstable/footer"
)

// Reader is a read-only, already-validated view of an SST file.
type Reader struct {
	opts     Options
	path     string
	file     *os.File
	fileSize int64
	footer   *footer.Footer
	index    *block.Block
}

// OpenReader opens path, validates its footer, and loads its index block.
// Data blocks are read lazily on each Get/iterator step.
func OpenReader(path string, opts Options) (*Reader, error) {
	opts = opts.withDefaults()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: stat %s: %w", path, err)
	}
	fileSize := st.Size()

	if fileSize < footer.TrailerSize {
		f.Close()
		return nil, fmt.Errorf("sstable: %s: file too small to contain a footer", path)
	}
	last8 := make([]byte, footer.TrailerSize)
	if _, err := f.ReadAt(last8, fileSize-footer.TrailerSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: read trailer: %w", err)
	}
	footerSize, _, err := footer.DecodeTrailer(last8)
	if err != nil {
		f.Close()
		return nil, err
	}
	footerStart := fileSize - int64(footerSize)
	if footerStart < 0 {
		f.Close()
		return nil, fmt.Errorf("sstable: %s: footer_size %d exceeds file size %d", path, footerSize, fileSize)
	}

	footerBytes := make([]byte, footerSize)
	if _, err := f.ReadAt(footerBytes, footerStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: read footer: %w", err)
	}
	ft, err := footer.Decode(footerBytes)
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := footer.Validate(ft, fileSize, opts.Comparator); err != nil {
		f.Close()
		return nil, err
	}

	indexLen := footerStart - int64(ft.DataBlockEnd)
	if indexLen <= 0 {
		f.Close()
		return nil, fmt.Errorf("sstable: %s: empty or negative index block length", path)
	}
	indexRaw := make([]byte, indexLen)
	if _, err := f.ReadAt(indexRaw, int64(ft.DataBlockEnd)); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: read index block: %w", err)
	}
	indexBlock, err := block.Open(indexRaw, opts.Comparator, nil, nil)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: open index block: %w", err)
	}

	return &Reader{opts: opts, path: path, file: f, fileSize: fileSize, footer: ft, index: indexBlock}, nil
}

// Close releases the underlying file descriptor.
func (r *Reader) Close() error { return r.file.Close() }

// Path returns the file path this reader was opened from.
func (r *Reader) Path() string { return r.path }

// MinEntry and MaxEntry are the table's first and last entries, usable by
// the manifest/compaction layer to test range overlap without opening
// blocks (spec §4.5, §4.7).
func (r *Reader) MinEntry() kv.Entry { return r.footer.MinEntry }
func (r *Reader) MaxEntry() kv.Entry { return r.footer.MaxEntry }

func (r *Reader) readBlock(h blockHandle) (*block.Block, error) {
	raw := make([]byte, h.size)
	if _, err := r.file.ReadAt(raw, int64(h.offset)); err != nil {
		return nil, fmt.Errorf("sstable: read data block at %d: %w", h.offset, err)
	}
	return block.Open(raw, r.opts.Comparator, r.opts.Compressor, r.opts.FilterFactory)
}

// Get returns the entry with the greatest seq <= seqGuard among those
// matching key, or (Entry{}, false, nil) if none do.
func (r *Reader) Get(key []byte, seqGuard uint64) (kv.Entry, bool, error) {
	cmp := r.opts.Comparator
	if cmp.Compare(key, r.footer.MinEntry.Key) < 0 || cmp.Compare(key, r.footer.MaxEntry.Key) > 0 {
		return kv.Entry{}, false, nil
	}

	idxIt := r.index.NewIterator()
	idxIt.Seek(key)
	var best kv.Entry
	found := false
	// Versions of one key may continue into the following data blocks.
	for idxIt.Valid() {
		handle, err := decodeHandle(idxIt.Entry().Value)
		if err != nil {
			return kv.Entry{}, false, err
		}

		blk, err := r.readBlock(handle)
		if err != nil {
			return kv.Entry{}, false, err
		}
		if !blk.MayContain(key) {
			break
		}

		it := blk.NewIterator()
		it.Seek(key)
		for it.Valid() && cmp.Compare(it.Key(), key) == 0 {
			e := it.Entry()
			if e.Seq <= seqGuard && (!found || e.Seq > best.Seq) {
				best = e
				found = true
			}
			it.Next()
		}
		if err := it.Err(); err != nil {
			return kv.Entry{}, false, err
		}
		if it.Valid() {
			break
		}
		idxIt.Next()
	}
	return best, found, nil
}
