package memtable

import (
	"errors"
	"sync"

	"github.com/latticedb/lattice/pkg/batch"
	"github.com/latticedb/lattice/pkg/comparator"
	"github.com/latticedb/lattice/pkg/kv"
)

// ErrImmutableBusy is returned by Freeze when the immutable slot is already
// occupied by a table awaiting minor compaction (spec §4.8 precondition).
var ErrImmutableBusy = errors.New("memtable: immutable table not yet drained")

// Table is a single ordered set of entries. The mutable table accepts
// writes; an immutable table is read-only until its Dump is drained.
type Table struct {
	cmp       comparator.Comparator
	list      *skipList
	immutable bool
	mu        sync.RWMutex
}

// NewTable creates an empty, mutable table.
func NewTable(cmp comparator.Comparator) *Table {
	return &Table{cmp: cmp, list: newSkipList(cmp)}
}

// Put inserts a value entry at seq. No-op on an immutable table.
func (t *Table) Put(key, value []byte, seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.immutable {
		return
	}
	t.list.Insert(kv.NewValue(key, seq, value).Clone())
}

// Delete inserts a tombstone entry at seq. No-op on an immutable table.
func (t *Table) Delete(key []byte, seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.immutable {
		return
	}
	t.list.Insert(kv.NewTombstone(key, seq).Clone())
}

// get returns the entry with the greatest Seq <= seqGuard among those
// matching key, or (Entry{}, false) if none do. Same-key versions in a
// single table are few in practice, so this scans the key's run directly
// rather than maintaining a second reverse-ordered index (spec §4.8).
func (t *Table) get(key []byte, seqGuard uint64) (kv.Entry, bool) {
	it := t.list.NewIterator()
	it.Seek(key)
	var best kv.Entry
	found := false
	for it.Valid() && t.cmp.Compare(it.Key(), key) == 0 {
		e := it.Entry()
		if e.Seq <= seqGuard && (!found || e.Seq > best.Seq) {
			best = e
			found = true
		}
		it.Next()
	}
	return best, found
}

// Get returns (value, true) if key is present and not a tombstone,
// (nil, true) if key is present as a tombstone, or (nil, false) if absent.
func (t *Table) Get(key []byte, seqGuard uint64) ([]byte, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.get(key, seqGuard)
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// Contains reports whether key has any version visible under seqGuard.
func (t *Table) Contains(key []byte, seqGuard uint64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.get(key, seqGuard)
	return ok
}

// ApproximateSize returns the table's accumulated entry size.
func (t *Table) ApproximateSize() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.list.ApproximateSize()
}

// setImmutable marks the table read-only.
func (t *Table) setImmutable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.immutable = true
}

// NewIterator returns an ascending-order iterator over every entry in the
// table (used by Dump, which needs every version, not a point lookup).
func (t *Table) NewIterator() *Iterator {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.list.NewIterator()
}

// sstWriter is the subset of sstable.Writer's surface Dump needs; kept as
// a local interface so this package does not import sstable.
type sstWriter interface {
	Add(e kv.Entry) error
}

// MemTable is the pair (mut_table, immut_table) from spec §3/§4.8.
type MemTable struct {
	cmp   comparator.Comparator
	mu    sync.Mutex
	mut   *Table
	immut *Table
}

// New creates an empty MemTable with no immutable table.
func New(cmp comparator.Comparator) *MemTable {
	return &MemTable{cmp: cmp, mut: NewTable(cmp)}
}

// Update applies every entry already stamped with its batch's sequence
// numbers to the mutable table.
func (m *MemTable) Update(entries []kv.Entry) {
	m.mu.Lock()
	mut := m.mut
	m.mu.Unlock()
	for _, e := range entries {
		if e.Tombstone {
			mut.Delete(e.Key, e.Seq)
		} else {
			mut.Put(e.Key, e.Value, e.Seq)
		}
	}
}

// UpdateBatch is a convenience wrapper for batch.Batch callers.
func (m *MemTable) UpdateBatch(b *batch.Batch, startSeq uint64) {
	m.Update(b.Entries(startSeq))
}

// Get looks in mut_table first, then immut_table, for the entry with the
// largest seq <= seqGuard (spec §3).
func (m *MemTable) Get(key []byte, seqGuard uint64) ([]byte, bool) {
	m.mu.Lock()
	mut, immut := m.mut, m.immut
	m.mu.Unlock()

	if v, ok := mut.Get(key, seqGuard); ok {
		return v, true
	}
	if immut != nil {
		if v, ok := immut.Get(key, seqGuard); ok {
			return v, true
		}
	}
	return nil, false
}

// Freeze moves mut_table into immut_table and installs a fresh mutable
// table. The precondition (immut_table empty) is checked here and reported
// as ErrImmutableBusy; MemTable itself never blocks. The engine waits on its
// own condition variable (DB.waitForImmutableDrained) and retries.
func (m *MemTable) Freeze() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.immut != nil {
		return ErrImmutableBusy
	}
	m.mut.setImmutable()
	m.immut = m.mut
	m.mut = NewTable(m.cmp)
	return nil
}

// Immutable returns the current immutable table, or nil if none.
func (m *MemTable) Immutable() *Table {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.immut
}

// Mutable returns the current mutable table.
func (m *MemTable) Mutable() *Table {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mut
}

// ApproximateMutableSize reports the live write target's size. The engine
// does not consult it: it rotates the WAL and freezes on the WAL offset.
func (m *MemTable) ApproximateMutableSize() int64 {
	return m.Mutable().ApproximateSize()
}

// Dump iterates immut_table in sorted order, writes every entry to w, and
// releases immut_table on success (spec §4.8).
func (m *MemTable) Dump(w sstWriter) error {
	m.mu.Lock()
	immut := m.immut
	m.mu.Unlock()
	if immut == nil {
		return nil
	}

	it := immut.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		if err := w.Add(it.Entry()); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.immut = nil
	m.mu.Unlock()
	return nil
}
