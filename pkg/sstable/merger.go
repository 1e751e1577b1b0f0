package sstable

import (
	"container/heap"
	"time"

	"github.com/latticedb/lattice/pkg/comparator"
	"github.com/latticedb/lattice/pkg/kv"
)

// MergeSource is anything a Merger can pull an ascending (key, seq) stream
// of entries from; *Iterator satisfies it.
type MergeSource interface {
	Valid() bool
	Entry() kv.Entry
	Next()
	Err() error
}

type heapItem struct {
	entry kv.Entry
	src   MergeSource
}

type entryHeap struct {
	items []heapItem
	cmp   comparator.Comparator
}

func (h *entryHeap) Len() int { return len(h.items) }
func (h *entryHeap) Less(i, j int) bool {
	return h.items[i].entry.Less(h.items[j].entry, h.cmp)
}
func (h *entryHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *entryHeap) Push(x any)    { h.items = append(h.items, x.(heapItem)) }
func (h *entryHeap) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	h.items = old[:n-1]
	return it
}

// Merger performs a k-way merge of already-sorted sources, collapsing
// superseded versions of the same key the way major compaction requires
// (spec §4.7):
//
//   - among entries sharing a key, only the newest entry with seq <=
//     versionGuard is kept, representing the value any older snapshot
//     would see; entries with seq > versionGuard are all passed through
//     unchanged, since some in-flight snapshot may depend on each of them.
//   - a tombstone that becomes the sole surviving entry for its key is
//     dropped entirely only when dropObsoleteTombstones is set (i.e. this
//     merge's output is the bottom-most level containing that key, so
//     there is nothing left for the tombstone to shadow).
type Merger struct {
	cmp                    comparator.Comparator
	h                      *entryHeap
	versionGuard           uint64
	dropObsoleteTombstones bool

	pending []kv.Entry
	pos     int
	err     error
}

// NewMerger builds a Merger over sources, which must each already yield
// entries in ascending (key, seq) order.
func NewMerger(cmp comparator.Comparator, versionGuard uint64, dropObsoleteTombstones bool, sources []MergeSource) *Merger {
	h := &entryHeap{cmp: cmp}
	for _, s := range sources {
		if s.Valid() {
			h.items = append(h.items, heapItem{entry: s.Entry(), src: s})
		}
	}
	heap.Init(h)
	m := &Merger{cmp: cmp, h: h, versionGuard: versionGuard, dropObsoleteTombstones: dropObsoleteTombstones}
	m.fillGroup()
	return m
}

// Err returns the first error encountered reading from any source.
func (m *Merger) Err() error { return m.err }

// Valid reports whether the merger is positioned at an entry.
func (m *Merger) Valid() bool { return m.pos < len(m.pending) }

// Entry returns the current merged entry.
func (m *Merger) Entry() kv.Entry { return m.pending[m.pos] }

// Next advances to the next merged entry, collapsing the next key group
// once the current one is exhausted.
func (m *Merger) Next() {
	m.pos++
	if m.pos >= len(m.pending) {
		m.fillGroup()
	}
}

// fillGroup pops every heap entry that shares the smallest key, applies the
// version-guard collapse rule, and stages the survivors in m.pending.
func (m *Merger) fillGroup() {
	m.pending = m.pending[:0]
	m.pos = 0

	if m.h.Len() == 0 {
		return
	}

	var group []kv.Entry
	var groupKey []byte
	for m.h.Len() > 0 {
		top := m.h.items[0]
		if groupKey != nil && m.cmp.Compare(top.entry.Key, groupKey) != 0 {
			break
		}
		heap.Pop(m.h)
		group = append(group, top.entry)
		groupKey = top.entry.Key

		top.src.Next()
		if err := top.src.Err(); err != nil {
			m.err = err
			return
		}
		if top.src.Valid() {
			heap.Push(m.h, heapItem{entry: top.src.Entry(), src: top.src})
		}
	}

	m.pending = collapseVersions(group, m.versionGuard, m.dropObsoleteTombstones)
}

// StepResult is the outcome of one Merger.Step call (spec §4.7).
type StepResult int

const (
	// StepFull means w reached sizeLimit; the caller must finalize w,
	// rotate to a fresh output file, and call Step again to resume.
	StepFull StepResult = iota
	// StepTimeout means the deadline passed before every source was
	// exhausted; the caller should re-check its own close/cancel signal
	// before calling Step again to resume with the same w.
	StepTimeout
	// StepFinish means every source is exhausted; w holds the final output
	// entries and the caller should finalize it.
	StepFinish
)

// Step writes merged entries into w until one of spec §4.7's three
// iteration outcomes is reached: w's size has reached sizeLimit (StepFull,
// skipped entirely if sizeLimit <= 0), the deadline has passed (StepTimeout,
// skipped if deadline is the zero Time), or every source is exhausted
// (StepFinish). This is the cooperative-yield mechanism spec §5 describes
// ("the merger self-yields on a configurable millisecond budget so the
// background loop can check the close flag") — Step always returns control
// to the caller at least once per deadline, rather than draining every
// source in one unbounded call.
func (m *Merger) Step(w *Writer, sizeLimit int64, deadline time.Time) (StepResult, error) {
	for {
		if !m.Valid() {
			return StepFinish, nil
		}
		if sizeLimit > 0 && w.Size() >= sizeLimit {
			return StepFull, nil
		}
		if err := w.Add(m.Entry()); err != nil {
			return StepFinish, err
		}
		m.Next()
		if err := m.Err(); err != nil {
			return StepFinish, err
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return StepTimeout, nil
		}
	}
}

// collapseVersions applies the version-guard rule to one key's ascending
// (by seq) run of entries.
func collapseVersions(group []kv.Entry, versionGuard uint64, dropObsoleteTombstones bool) []kv.Entry {
	var bestBelowGuard *kv.Entry
	var above []kv.Entry
	for i := range group {
		e := group[i]
		if e.Seq <= versionGuard {
			bestBelowGuard = &group[i]
		} else {
			above = append(above, e)
		}
	}

	var out []kv.Entry
	if bestBelowGuard != nil {
		keep := !(dropObsoleteTombstones && bestBelowGuard.Tombstone && len(above) == 0)
		if keep {
			out = append(out, *bestBelowGuard)
		}
	}
	out = append(out, above...)
	return out
}
