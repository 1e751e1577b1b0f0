package sstable

import (
	"github.com/latticedb/lattice/pkg/kv"
	"github.com/latticedb/lattice/pkg/sstable/block"
)

// Iterator walks every entry in a table in ascending order, chaining
// across data blocks as each is exhausted (spec §4.6).
type Iterator struct {
	r       *Reader
	idxIt   *block.Iterator
	curIt   *block.Iterator
	valid   bool
	err     error
}

// NewIterator returns a full-table iterator positioned before the first
// entry.
func (r *Reader) NewIterator() *Iterator {
	return &Iterator{r: r, idxIt: r.index.NewIterator()}
}

func (it *Iterator) loadBlockAtIndex() bool {
	if !it.idxIt.Valid() {
		it.curIt = nil
		return false
	}
	handle, err := decodeHandle(it.idxIt.Entry().Value)
	if err != nil {
		it.err = err
		return false
	}
	blk, err := it.r.readBlock(handle)
	if err != nil {
		it.err = err
		return false
	}
	it.curIt = blk.NewIterator()
	return true
}

// advanceToValid skips empty/corrupt blocks (which should not occur in
// practice but are defended against) until curIt is positioned on an
// entry or every block has been exhausted.
func (it *Iterator) advanceToValid(seekKey []byte, isSeek bool) {
	for {
		if it.curIt != nil {
			if isSeek {
				it.curIt.Seek(seekKey)
			} else {
				it.curIt.SeekToFirst()
			}
			if err := it.curIt.Err(); err != nil {
				it.err = err
				it.valid = false
				return
			}
			if it.curIt.Valid() {
				it.valid = true
				return
			}
		}
		it.idxIt.Next()
		if !it.loadBlockAtIndex() {
			it.valid = false
			return
		}
		isSeek = false // only the first block after a Seek needs the seek key
	}
}

// SeekToFirst positions the iterator at the table's first entry.
func (it *Iterator) SeekToFirst() {
	it.idxIt.SeekToFirst()
	if !it.loadBlockAtIndex() {
		it.valid = false
		return
	}
	it.advanceToValid(nil, false)
}

// Seek positions the iterator at the first entry whose key is >= target.
func (it *Iterator) Seek(target []byte) {
	it.idxIt.Seek(target)
	if !it.loadBlockAtIndex() {
		it.valid = false
		return
	}
	it.advanceToValid(target, true)
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.valid }

// Err returns the first error encountered, if any.
func (it *Iterator) Err() error { return it.err }

// Key returns the current entry's key.
func (it *Iterator) Key() []byte { return it.curIt.Key() }

// Entry returns the current entry.
func (it *Iterator) Entry() kv.Entry { return it.curIt.Entry() }

// Next advances to the next entry, crossing into the next data block when
// the current one is exhausted.
func (it *Iterator) Next() {
	if !it.valid {
		return
	}
	it.curIt.Next()
	if err := it.curIt.Err(); err != nil {
		it.err = err
		it.valid = false
		return
	}
	if it.curIt.Valid() {
		return
	}
	it.idxIt.Next()
	if !it.loadBlockAtIndex() {
		it.valid = false
		return
	}
	it.advanceToValid(nil, false)
}
