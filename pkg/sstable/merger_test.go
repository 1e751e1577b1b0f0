package sstable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latticedb/lattice/pkg/comparator"
	"github.com/latticedb/lattice/pkg/kv"
)

type sliceSource struct {
	entries []kv.Entry
	pos     int
}

func newSliceSource(entries ...kv.Entry) *sliceSource { return &sliceSource{entries: entries} }

func (s *sliceSource) Valid() bool    { return s.pos < len(s.entries) }
func (s *sliceSource) Entry() kv.Entry { return s.entries[s.pos] }
func (s *sliceSource) Next()          { s.pos++ }
func (s *sliceSource) Err() error     { return nil }

func drain(m *Merger) []kv.Entry {
	var out []kv.Entry
	for m.Valid() {
		out = append(out, m.Entry())
		m.Next()
	}
	return out
}

func TestMergerInterleavesDistinctKeys(t *testing.T) {
	a := newSliceSource(kv.NewValue([]byte("a"), 1, []byte("1")), kv.NewValue([]byte("c"), 1, []byte("3")))
	b := newSliceSource(kv.NewValue([]byte("b"), 1, []byte("2")))

	m := NewMerger(comparator.Default, 100, false, []MergeSource{a, b})
	got := drain(m)
	require.NoError(t, m.Err())
	require.Len(t, got, 3)
	require.Equal(t, []byte("a"), got[0].Key)
	require.Equal(t, []byte("b"), got[1].Key)
	require.Equal(t, []byte("c"), got[2].Key)
}

func TestMergerCollapsesOlderVersionsBelowGuard(t *testing.T) {
	src := newSliceSource(
		kv.NewValue([]byte("a"), 1, []byte("v1")),
		kv.NewValue([]byte("a"), 2, []byte("v2")),
		kv.NewValue([]byte("a"), 3, []byte("v3")),
	)
	m := NewMerger(comparator.Default, 2, false, []MergeSource{src})
	got := drain(m)
	require.NoError(t, m.Err())
	// seq 1 is shadowed by seq 2 (both <= guard); seq 3 is above the guard
	// and must survive untouched for any in-flight snapshot depending on it.
	require.Len(t, got, 2)
	require.Equal(t, uint64(2), got[0].Seq)
	require.Equal(t, uint64(3), got[1].Seq)
}

func TestMergerRetainsTombstoneByDefault(t *testing.T) {
	src := newSliceSource(kv.NewTombstone([]byte("a"), 1))
	m := NewMerger(comparator.Default, 10, false, []MergeSource{src})
	got := drain(m)
	require.Len(t, got, 1)
	require.True(t, got[0].Tombstone)
}

func TestMergerDropsObsoleteTombstoneAtBottomLevel(t *testing.T) {
	src := newSliceSource(kv.NewTombstone([]byte("a"), 1))
	m := NewMerger(comparator.Default, 10, true, []MergeSource{src})
	got := drain(m)
	require.Len(t, got, 0)
}

func TestMergerKeepsTombstoneWithNewerVersionAboveGuard(t *testing.T) {
	src := newSliceSource(
		kv.NewTombstone([]byte("a"), 1),
		kv.NewValue([]byte("a"), 5, []byte("resurrected")),
	)
	m := NewMerger(comparator.Default, 2, true, []MergeSource{src})
	got := drain(m)
	require.Len(t, got, 2)
	require.True(t, got[0].Tombstone)
	require.Equal(t, uint64(5), got[1].Seq)
}
