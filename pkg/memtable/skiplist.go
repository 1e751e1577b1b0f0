// Package memtable implements the in-memory ordered set of entries the
// write path lands on before it reaches an SST (spec §3, §4.8): a skip
// list keyed on the full (key, seq) order, split into a mutable table
// and at most one immutable table awaiting minor compaction.
package memtable

import (
	"math/rand"

	"github.com/latticedb/lattice/pkg/comparator"
	"github.com/latticedb/lattice/pkg/kv"
)

const (
	maxHeight   = 12
	branching   = 4 // p = 1/4 per extra level
)

type node struct {
	entry kv.Entry
	next  []*node
}

// skipList is an ordered set of kv.Entry, ordered ascending by (key, seq)
// under cmp (spec §3: "ascending by user_key ... then ascending by seq").
type skipList struct {
	cmp    comparator.Comparator
	head   *node
	height int
	size   int64
	rnd    *rand.Rand
}

func newSkipList(cmp comparator.Comparator) *skipList {
	return &skipList{
		cmp:    cmp,
		head:   &node{next: make([]*node, maxHeight)},
		height: 1,
		rnd:    rand.New(rand.NewSource(0xC0FFEE)),
	}
}

func (s *skipList) randomHeight() int {
	h := 1
	for h < maxHeight && s.rnd.Intn(branching) == 0 {
		h++
	}
	return h
}

// findGreaterOrEqual walks down from the head, returning the first node
// whose entry is >= target, and (if prev != nil) recording the
// predecessor at each level.
func (s *skipList) findGreaterOrEqual(target kv.Entry, prev []*node) *node {
	x := s.head
	level := s.height - 1
	for {
		next := x.next[level]
		if next != nil && next.entry.Compare(target, s.cmp) < 0 {
			x = next
			continue
		}
		if prev != nil {
			prev[level] = x
		}
		if level == 0 {
			return next
		}
		level--
	}
}

// Insert adds e to the skip list. Duplicate (key, seq) pairs are not
// expected in practice (sequence numbers are unique per commit) but are
// tolerated as distinct nodes if they occur.
func (s *skipList) Insert(e kv.Entry) {
	var prev [maxHeight]*node
	s.findGreaterOrEqual(e, prev[:])

	height := s.randomHeight()
	if height > s.height {
		for i := s.height; i < height; i++ {
			prev[i] = s.head
		}
		s.height = height
	}

	n := &node{entry: e, next: make([]*node, height)}
	for i := 0; i < height; i++ {
		n.next[i] = prev[i].next[i]
		prev[i].next[i] = n
	}
	s.size += e.Size()
}

// ApproximateSize returns the cumulative Size() of every inserted entry.
func (s *skipList) ApproximateSize() int64 { return s.size }

// Iterator walks the skip list in ascending order, optionally bounded by a
// snapshot sequence number (entries with Seq > snapshot are skipped).
type Iterator struct {
	list     *skipList
	cur      *node
	snapshot uint64 // 0 means "no snapshot bound" only when hasSnapshot is false
	hasSnap  bool
}

func (s *skipList) NewIterator() *Iterator {
	return &Iterator{list: s}
}

func (s *skipList) NewIteratorWithSnapshot(seq uint64) *Iterator {
	return &Iterator{list: s, snapshot: seq, hasSnap: true}
}

func (it *Iterator) visible(n *node) bool {
	return n != nil && (!it.hasSnap || n.entry.Seq <= it.snapshot)
}

func (it *Iterator) advancePastInvisible() {
	for it.cur != nil && !it.visible(it.cur) {
		it.cur = it.advanceRaw(it.cur)
	}
}

func (it *Iterator) advanceRaw(n *node) *node {
	return n.next[0]
}

// SeekToFirst positions the iterator at the first visible entry.
func (it *Iterator) SeekToFirst() {
	it.cur = it.list.head.next[0]
	it.advancePastInvisible()
}

// Seek positions the iterator at the first visible entry whose key is >=
// the given key.
func (it *Iterator) Seek(key []byte) {
	target := kv.Entry{Key: key, Seq: 0}
	it.cur = it.list.findGreaterOrEqual(target, nil)
	it.advancePastInvisible()
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.cur != nil }

// Key returns the current entry's key.
func (it *Iterator) Key() []byte { return it.cur.entry.Key }

// Value returns the current entry's value (nil for a tombstone).
func (it *Iterator) Value() []byte { return it.cur.entry.Value }

// Entry returns a copy of the current entry.
func (it *Iterator) Entry() kv.Entry { return it.cur.entry }

// IsTombstone reports whether the current entry is a deletion marker.
func (it *Iterator) IsTombstone() bool { return it.cur.entry.Tombstone }

// Next advances to the next visible entry.
func (it *Iterator) Next() {
	if it.cur == nil {
		return
	}
	it.cur = it.advanceRaw(it.cur)
	it.advancePastInvisible()
}
