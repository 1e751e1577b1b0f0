package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/latticedb/lattice/pkg/config"
	"github.com/latticedb/lattice/pkg/lattice"
)

func testConfig(t *testing.T, walSizeLimit int64) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Dir:             filepath.Join(dir, "db"),
		CreateIfMissing: true,
		WALSizeLimit:    walSizeLimit,
		BlockSize:       512,
	}
}

func TestPutGetDeleteRoundTrip(t *testing.T) {
	db, err := Open(testConfig(t, 64*1024))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	require.NoError(t, db.Put([]byte("b"), []byte("2")))
	require.NoError(t, db.Delete([]byte("a")))

	_, ok, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, ok)

	v, ok, err := db.Get([]byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("2"), v)
}

// TestTombstoneSurvivesFlushAndReopen grounds the deleted
// pkg/engine/storage/tombstone_flush_test.go's narration against the new
// engine.DB API: put, delete, force a flush via a tiny WAL limit, then
// reopen and confirm the tombstone is still honored.
func TestTombstoneSurvivesFlushAndReopen(t *testing.T) {
	cfg := testConfig(t, 256)
	db, err := Open(cfg)
	require.NoError(t, err)

	require.NoError(t, db.Put([]byte("k"), []byte("v1")))
	require.NoError(t, db.Delete([]byte("k")))
	// Push enough additional writes through to exceed the tiny WAL limit
	// and force at least one minor compaction while the loop is running.
	for i := 0; i < 50; i++ {
		require.NoError(t, db.Put([]byte(fmt.Sprintf("filler-%03d", i)), []byte("x")))
	}

	_, ok, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, db.Close())

	reopened, err := Open(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	_, ok, err = reopened.Get([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
}

// TestWALRotationAndReopen grounds the deleted
// pkg/engine/storage/wal_rotation_stress_test.go's rotation pattern with a
// single writer: many keys written under a small WAL limit (forcing multiple
// rotations/minor compactions), then verified after a clean reopen.
func TestWALRotationAndReopen(t *testing.T) {
	cfg := testConfig(t, 2*1024)
	db, err := Open(cfg)
	require.NoError(t, err)

	const n = 500
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("%08d", i))
		val := []byte(fmt.Sprintf("v%d", i))
		require.NoError(t, db.Put(key, val))
	}
	require.NoError(t, db.Close())

	reopened, err := Open(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("%08d", i))
		want := []byte(fmt.Sprintf("v%d", i))
		got, ok, err := reopened.Get(key)
		require.NoError(t, err)
		require.True(t, ok, "key %s missing after reopen", key)
		require.Equal(t, want, got)
	}
}

// TestConcurrentWriters grounds spec §8 scenario S4 at reduced scale: two
// goroutines each put 2000 distinct keys concurrently; after join, all keys
// are readable.
func TestConcurrentWriters(t *testing.T) {
	db, err := Open(testConfig(t, 256*1024))
	require.NoError(t, err)
	defer db.Close()

	const perWriter = 2000
	var wg sync.WaitGroup
	var failures atomic.Int64
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func(writer int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				key := []byte(fmt.Sprintf("w%d-%06d", writer, i))
				if err := db.Put(key, []byte("v")); err != nil {
					failures.Add(1)
				}
			}
		}(w)
	}
	wg.Wait()
	require.Zero(t, failures.Load())

	for w := 0; w < 2; w++ {
		for i := 0; i < perWriter; i++ {
			key := []byte(fmt.Sprintf("w%d-%06d", w, i))
			_, ok, err := db.Get(key)
			require.NoError(t, err)
			require.True(t, ok)
		}
	}
}

func TestLockExclusion(t *testing.T) {
	cfg := testConfig(t, 64*1024)
	db, err := Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	_, err = Open(cfg)
	require.Error(t, err)
}

// TestTruncatedActiveWALFailsOpen grounds spec §8 scenario S5: truncating
// the active WAL by one byte mid-record must make the next Open fail with a
// WAL corruption error rather than silently replaying a short prefix.
func TestTruncatedActiveWALFailsOpen(t *testing.T) {
	cfg := testConfig(t, 64*1024)
	db, err := Open(cfg)
	require.NoError(t, err)

	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	require.NoError(t, db.Put([]byte("b"), []byte("2")))
	walPath := db.layout.WALFile(db.activeSeq)
	require.NoError(t, db.Close())

	st, err := os.Stat(walPath)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(walPath, st.Size()-1))

	_, err = Open(cfg)
	require.Error(t, err)
	var corrupt *lattice.CorruptionError
	require.True(t, errors.As(err, &corrupt), "expected a corruption error, got %v", err)
	require.Equal(t, lattice.OwnerWAL, corrupt.Owner)
}

// TestMajorCompactionMergesAcrossLevels grounds spec §8 scenario S3: enough
// writes/flushes to push several SSTs into level 1 and trigger a major
// compaction into level 2, then confirms every key is still readable with
// its latest value afterward.
func TestMajorCompactionMergesAcrossLevels(t *testing.T) {
	cfg := testConfig(t, 1024)
	cfg.CompactionTrigger = 2
	db, err := Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	const rounds = 6
	const perRound = 40
	for r := 0; r < rounds; r++ {
		for i := 0; i < perRound; i++ {
			key := []byte(fmt.Sprintf("k-%04d", i))
			val := []byte(fmt.Sprintf("round%d", r))
			require.NoError(t, db.Put(key, val))
		}
	}

	require.Eventually(t, func() bool {
		return len(db.mf.Level(2)) > 0
	}, 5*time.Second, 10*time.Millisecond, "expected a major compaction into level 2")

	for i := 0; i < perRound; i++ {
		key := []byte(fmt.Sprintf("k-%04d", i))
		v, ok, err := db.Get(key)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte(fmt.Sprintf("round%d", rounds-1)), v)
	}
}

func TestPutUpdateAndDeleteInterleavedAcrossFlush(t *testing.T) {
	cfg := testConfig(t, 256)
	db, err := Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	key := []byte("k")
	require.NoError(t, db.Put(key, []byte("v1")))
	require.NoError(t, db.Put(key, []byte("v2")))
	require.NoError(t, db.Delete(key))

	for i := 0; i < 50; i++ {
		require.NoError(t, db.Put([]byte(fmt.Sprintf("pad-%03d", i)), []byte("x")))
	}

	require.NoError(t, db.Put(key, []byte("v3")))

	v, ok, err := db.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v3"), v)
}
