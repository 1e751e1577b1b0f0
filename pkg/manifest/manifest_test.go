package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latticedb/lattice/pkg/comparator"
	"github.com/latticedb/lattice/pkg/kv"
	"github.com/latticedb/lattice/pkg/sstable"
)

type testLayout struct {
	root string
}

func newTestLayout(t *testing.T) *testLayout {
	t.Helper()
	root := t.TempDir()
	for _, d := range []string{"manifest", "wal", "sst/1", "sst/2", "sst/tmp"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0755))
	}
	return &testLayout{root: root}
}

func (l *testLayout) Root() string       { return l.root }
func (l *testLayout) LockFile() string   { return filepath.Join(l.root, "lock") }
func (l *testLayout) Current() string    { return filepath.Join(l.root, "CURRENT") }
func (l *testLayout) CurrentTmp() string { return filepath.Join(l.root, "CURRENT.tmp") }
func (l *testLayout) ManifestDir() string { return filepath.Join(l.root, "manifest") }
func (l *testLayout) ManifestFile(seq uint64) string {
	return filepath.Join(l.root, "manifest", fmt.Sprintf("%06d.manifest", seq))
}
func (l *testLayout) WALFile(seq uint64) string {
	return filepath.Join(l.root, "wal", fmt.Sprintf("%06d.wal", seq))
}
func (l *testLayout) SSTFile(level int, seq uint64) string {
	return filepath.Join(l.root, "sst", fmt.Sprintf("%d", level), fmt.Sprintf("%06d.sst", seq))
}

func writeSimpleSST(t *testing.T, path string, keys ...string) {
	t.Helper()
	w, err := sstable.NewWriter(path, sstable.Options{})
	require.NoError(t, err)
	for i, k := range keys {
		require.NoError(t, w.Add(kv.NewValue([]byte(k), uint64(i+1), []byte("v"))))
	}
	require.NoError(t, w.Finish())
}

func TestAllocSeqMonotonic(t *testing.T) {
	layout := newTestLayout(t)
	m := New(layout, comparator.Default, sstable.Options{})

	w1 := m.AllocWAL()
	s1 := m.AllocSST(1)
	w2 := m.AllocWAL()
	require.Less(t, w1, s1)
	require.Less(t, s1, w2)
}

func TestDumpLoadRoundTrip(t *testing.T) {
	layout := newTestLayout(t)
	m := New(layout, comparator.Default, sstable.Options{})

	walSeq := m.AllocWAL()
	require.NoError(t, m.Dump())

	sstSeq := m.AllocSST(1)
	path := layout.SSTFile(1, sstSeq)
	writeSimpleSST(t, path, "a", "z")
	m.SetSstMeta(1, sstSeq, SstMeta{
		FileSize: 100,
		MinEntry: kv.NewValue([]byte("a"), 1, []byte("1")),
		MaxEntry: kv.NewValue([]byte("z"), 2, []byte("2")),
	})
	require.NoError(t, m.Dump())

	loaded, err := Load(layout, comparator.Default, sstable.Options{})
	require.NoError(t, err)
	require.Equal(t, []uint64{walSeq}, loaded.Wals())
	level1 := loaded.Level(1)
	require.Len(t, level1, 1)
	require.Equal(t, sstSeq, level1[0].Seq)
}

func TestShouldMergeExpandsOverlapClosure(t *testing.T) {
	layout := newTestLayout(t)
	m := New(layout, comparator.Default, sstable.Options{})

	m.SetSstMeta(1, 1, SstMeta{MinEntry: entryAt("a"), MaxEntry: entryAt("c")})
	m.SetSstMeta(1, 2, SstMeta{MinEntry: entryAt("d"), MaxEntry: entryAt("f")})
	m.SetSstMeta(2, 3, SstMeta{MinEntry: entryAt("b"), MaxEntry: entryAt("e")})

	candidates, ok := m.ShouldMerge(1, 1)
	require.True(t, ok)
	// seed (a,c) overlaps level-2 (b,e), which in turn overlaps level-1 (d,f):
	// the closure must pull in all three.
	require.Len(t, candidates, 3)
}

func TestCompactionTriggerOnCount(t *testing.T) {
	layout := newTestLayout(t)
	m := New(layout, comparator.Default, sstable.Options{})
	for i := uint64(1); i <= 7; i++ {
		m.SetSstMeta(1, i, SstMeta{MinEntry: entryAt("a"), MaxEntry: entryAt("b"), FileSize: 1})
	}
	level, _, ok := m.CompactionTrigger(1024, 6)
	require.True(t, ok)
	require.Equal(t, 1, level)
}

func entryAt(k string) kv.Entry { return kv.NewValue([]byte(k), 1, []byte("v")) }
