package memtable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latticedb/lattice/pkg/comparator"
	"github.com/latticedb/lattice/pkg/kv"
)

func TestTablePutGetDelete(t *testing.T) {
	tbl := NewTable(comparator.Default)
	tbl.Put([]byte("a"), []byte("1"), 1)
	tbl.Put([]byte("a"), []byte("2"), 2)

	v, ok := tbl.Get([]byte("a"), 1)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)

	v, ok = tbl.Get([]byte("a"), 2)
	require.True(t, ok)
	require.Equal(t, []byte("2"), v)

	tbl.Delete([]byte("a"), 3)
	v, ok = tbl.Get([]byte("a"), 3)
	require.True(t, ok)
	require.Nil(t, v)

	_, ok = tbl.Get([]byte("missing"), 3)
	require.False(t, ok)
}

func TestTableImmutableRejectsWrites(t *testing.T) {
	tbl := NewTable(comparator.Default)
	tbl.Put([]byte("a"), []byte("1"), 1)
	tbl.setImmutable()
	tbl.Put([]byte("a"), []byte("2"), 2)

	v, ok := tbl.Get([]byte("a"), 2)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
}

func TestMemTableUpdateAndGet(t *testing.T) {
	m := New(comparator.Default)
	m.Update([]kv.Entry{
		kv.NewValue([]byte("a"), 1, []byte("1")),
		kv.NewValue([]byte("b"), 2, []byte("2")),
	})

	v, ok := m.Get([]byte("a"), 10)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)

	_, ok = m.Get([]byte("z"), 10)
	require.False(t, ok)
}

func TestMemTableFreezeAndGetFallsThrough(t *testing.T) {
	m := New(comparator.Default)
	m.Update([]kv.Entry{kv.NewValue([]byte("a"), 1, []byte("1"))})

	require.NoError(t, m.Freeze())
	require.NotNil(t, m.Immutable())

	m.Update([]kv.Entry{kv.NewValue([]byte("b"), 2, []byte("2"))})

	v, ok := m.Get([]byte("a"), 10)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)

	v, ok = m.Get([]byte("b"), 10)
	require.True(t, ok)
	require.Equal(t, []byte("2"), v)
}

func TestMemTableFreezeBusyRejected(t *testing.T) {
	m := New(comparator.Default)
	m.Update([]kv.Entry{kv.NewValue([]byte("a"), 1, []byte("1"))})
	require.NoError(t, m.Freeze())
	require.ErrorIs(t, m.Freeze(), ErrImmutableBusy)
}

type fakeWriter struct {
	entries []kv.Entry
}

func (f *fakeWriter) Add(e kv.Entry) error {
	f.entries = append(f.entries, e)
	return nil
}

func TestMemTableDumpDrainsImmutable(t *testing.T) {
	m := New(comparator.Default)
	m.Update([]kv.Entry{
		kv.NewValue([]byte("b"), 1, []byte("2")),
		kv.NewValue([]byte("a"), 2, []byte("1")),
	})
	require.NoError(t, m.Freeze())

	w := &fakeWriter{}
	require.NoError(t, m.Dump(w))

	require.Len(t, w.entries, 2)
	require.Equal(t, []byte("a"), w.entries[0].Key)
	require.Equal(t, []byte("b"), w.entries[1].Key)

	require.Nil(t, m.Immutable())
	require.NoError(t, m.Freeze())
}
