package engine

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/latticedb/lattice/pkg/batch"
	"github.com/latticedb/lattice/pkg/common/log"
	"github.com/latticedb/lattice/pkg/comparator"
	"github.com/latticedb/lattice/pkg/config"
	"github.com/latticedb/lattice/pkg/lattice"
	"github.com/latticedb/lattice/pkg/manifest"
	"github.com/latticedb/lattice/pkg/memtable"
	"github.com/latticedb/lattice/pkg/sstable"
	"github.com/latticedb/lattice/pkg/stats"
	"github.com/latticedb/lattice/pkg/wal"
)

// backgroundIdleWait bounds how long the background loop blocks waiting for
// a signal before re-checking for work (spec §5: "background wait for 'has
// immutable' with 1-second timeout").
const backgroundIdleWait = time.Second

// DB is the embedded engine orchestrator: the write path, background
// compaction loop, and open/create/recover sequence (spec §4.11).
type DB struct {
	cfg    config.Config
	layout *Layout
	cmp    comparator.Comparator
	opts   sstable.Options
	stats  stats.Collector

	lock *flock.Flock

	mf *manifest.Manifest
	mt *memtable.MemTable
	wq *writeQueue

	walMu     sync.Mutex
	activeWAL *wal.Writer
	activeSeq uint64
	immutWAL  *wal.Writer
	immutSeq  uint64

	nextSeq uint64

	bgWake  chan struct{}
	closeCh chan struct{}
	bgDone  chan struct{}
	bgErr   error

	drainMu   sync.Mutex
	drainCond *sync.Cond
	closing   bool
}

// Open opens an existing database at cfg.Dir, or creates one if missing and
// cfg.CreateIfMissing is set (spec §4.11).
func Open(cfg config.Config) (*DB, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	layout := NewLayout(cfg)
	cmp := comparator.Default
	opts := sstable.Options{
		Comparator:      cmp,
		BlockSize:       cfg.BlockSize,
		RestartInterval: cfg.RestartInterval,
		Compressor:      cfg.Compressor,
		FilterFactory:   cfg.FilterFactory,
	}
	collector := cfg.StatsOrNop()

	fresh := false
	if _, err := os.Stat(layout.Root()); os.IsNotExist(err) {
		if !cfg.CreateIfMissing {
			return nil, fmt.Errorf("lattice: database %s does not exist: %w", layout.Root(), lattice.ErrPath)
		}
		if err := createLayout(layout); err != nil {
			return nil, err
		}
		fresh = true
	}

	lk := flock.New(layout.LockFile())
	locked, err := lk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lattice: acquire lock: %w", err)
	}
	if !locked {
		return nil, lattice.ErrLockHeld
	}

	db := &DB{
		cfg: cfg, layout: layout, cmp: cmp, opts: opts, stats: collector, lock: lk,
		bgWake:  make(chan struct{}, 1),
		closeCh: make(chan struct{}),
		bgDone:  make(chan struct{}),
	}
	db.drainCond = sync.NewCond(&db.drainMu)
	db.wq = newWriteQueue(collector)

	if fresh {
		if err := db.initFresh(); err != nil {
			lk.Unlock()
			return nil, err
		}
	} else {
		if err := db.recover(); err != nil {
			lk.Unlock()
			return nil, err
		}
	}

	go db.backgroundLoop()
	return db, nil
}

func createLayout(l *Layout) error {
	for _, d := range l.Dirs() {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("lattice: create dir %s: %w", d, err)
		}
	}
	return nil
}

func (db *DB) initFresh() error {
	db.mf = manifest.New(db.layout, db.cmp, db.opts)
	seq := db.mf.AllocWAL()
	w, err := wal.Create(db.layout.WALFile(seq), db.cfg.WALSyncMode, db.cfg.WALSyncBytes)
	if err != nil {
		return err
	}
	db.activeWAL = w
	db.activeSeq = seq
	db.mt = memtable.New(db.cmp)
	db.nextSeq = 1
	return db.mf.Dump()
}

func (db *DB) recover() error {
	mf, err := manifest.Load(db.layout, db.cmp, db.opts)
	if err != nil {
		return err
	}
	db.mf = mf
	db.mt = memtable.New(db.cmp)

	seqs := mf.Wals()
	if len(seqs) == 0 {
		return fmt.Errorf("lattice: manifest has no live WAL: %w", lattice.ErrManifest)
	}
	var maxSeq uint64
	for _, seq := range seqs {
		path := db.layout.WALFile(seq)
		r, err := wal.OpenReader(path)
		if err != nil {
			return lattice.NewCorruption(lattice.OwnerWAL, err)
		}
		for {
			entries, rerr := r.ReadBatch()
			if rerr == nil {
				db.mt.Update(entries)
				for _, e := range entries {
					if e.Seq > maxSeq {
						maxSeq = e.Seq
					}
				}
				continue
			}
			r.Close()
			if rerr == io.EOF {
				break
			}
			return lattice.NewCorruption(lattice.OwnerWAL, rerr)
		}
	}

	db.nextSeq = maxSeq + 1
	mutableSeq := seqs[len(seqs)-1]
	w, err := wal.OpenForAppend(db.layout.WALFile(mutableSeq), db.cfg.WALSyncMode, db.cfg.WALSyncBytes)
	if err != nil {
		return err
	}
	db.activeWAL = w
	db.activeSeq = mutableSeq
	log.Info("recovered database at %s: next_seq=%d", db.layout.Root(), db.nextSeq)
	return nil
}

// Put writes key=value at a freshly assigned sequence (spec §6 embedding
// surface).
func (db *DB) Put(key, value []byte) error {
	b := batch.New()
	b.Put(key, value)
	return db.Write(b)
}

// Delete tombstones key at a freshly assigned sequence.
func (db *DB) Delete(key []byte) error {
	b := batch.New()
	b.Delete(key)
	return db.Write(b)
}

// Get returns the value visible for key under the latest committed
// sequence, or (nil, false) if absent or tombstoned. The memtable reports a
// tombstone as a nil value, and it stores an empty value as nil too, so an
// empty value still in the memtable also reads as absent.
func (db *DB) Get(key []byte) ([]byte, bool, error) {
	start := time.Now()
	defer func() { db.stats.ObserveLatency(stats.OpGet, time.Since(start)) }()

	seqGuard := db.currentSeqGuard()
	if v, ok := db.mt.Get(key, seqGuard); ok {
		db.stats.IncrOps(stats.OpGet, 1)
		if v == nil {
			return nil, false, nil
		}
		return v, true, nil
	}

	for lvl := 1; lvl <= config.LevelMax; lvl++ {
		// Newest table first: level-1 tables overlap, and a higher file seq
		// holds newer writes.
		metas := db.mf.Level(lvl)
		for i := len(metas) - 1; i >= 0; i-- {
			meta := metas[i]
			if db.cmp.Compare(key, meta.MinEntry.Key) < 0 || db.cmp.Compare(key, meta.MaxEntry.Key) > 0 {
				continue
			}
			r, err := db.mf.Reader(lvl, meta.Seq)
			if err != nil {
				db.stats.IncrErrors(stats.OpGet, 1)
				return nil, false, lattice.NewCorruption(lattice.OwnerSST, err)
			}
			e, ok, err := r.Get(key, seqGuard)
			if err != nil {
				db.stats.IncrErrors(stats.OpGet, 1)
				return nil, false, lattice.NewCorruption(lattice.OwnerSST, err)
			}
			if ok {
				db.stats.IncrOps(stats.OpGet, 1)
				if e.Tombstone {
					return nil, false, nil
				}
				return e.Value, true, nil
			}
		}
	}
	db.stats.IncrOps(stats.OpGet, 1)
	return nil, false, nil
}

func (db *DB) currentSeqGuard() uint64 {
	db.walMu.Lock()
	defer db.walMu.Unlock()
	return db.nextSeq
}

// Write commits batch b as one group (spec §4.9, §4.11): empty batches are
// a no-op; otherwise b is enqueued into the write queue, grouped with any
// concurrently-submitted batches, stamped with contiguous sequences,
// applied to the memtable, and appended to the WAL. If the WAL then exceeds
// its size limit, a new WAL is allocated and the memtable frozen for minor
// compaction.
func (db *DB) Write(b *batch.Batch) error {
	if b.IsEmpty() {
		return nil
	}
	start := time.Now()
	err := db.wq.submit(b, db.commitGroup)
	db.stats.ObserveLatency(stats.OpWriteBatch, time.Since(start))
	if err != nil {
		db.stats.IncrErrors(stats.OpWriteBatch, 1)
	}
	return err
}

// commitGroup is called by the write queue leader with the combined batch
// for the whole group; see writeQueue.submit for the ordering guarantees.
func (db *DB) commitGroup(combined *batch.Batch) error {
	db.walMu.Lock()
	startSeq := db.nextSeq
	n := uint64(combined.Count())
	db.nextSeq += n
	entries := combined.Entries(startSeq)

	db.mt.Update(entries)
	// Append already fsyncs per cfg.WALSyncMode (wal.SyncNone/SyncBatch/
	// SyncImmediate); no separate Sync call here, or SyncNone/SyncBatch
	// would be forced to SyncImmediate regardless of configuration.
	offset, err := db.activeWAL.Append(entries)
	if err != nil {
		db.walMu.Unlock()
		return fmt.Errorf("lattice: wal append: %w", err)
	}
	needRotate := offset > db.cfg.WALSizeLimit
	db.walMu.Unlock()

	if needRotate {
		if err := db.rotateAndFreeze(); err != nil {
			return err
		}
	}
	return nil
}

// rotateAndFreeze allocates a new WAL, freezes the current memtable into
// the immutable slot (waiting for any prior immutable to drain first), and
// persists the manifest (spec §4.11).
func (db *DB) rotateAndFreeze() error {
	for {
		err := db.mt.Freeze()
		if err == nil {
			break
		}
		if err != memtable.ErrImmutableBusy {
			return err
		}
		db.waitForImmutableDrained()
	}

	db.walMu.Lock()
	newSeq := db.mf.AllocWAL()
	newWAL, err := wal.Create(db.layout.WALFile(newSeq), db.cfg.WALSyncMode, db.cfg.WALSyncBytes)
	if err != nil {
		db.walMu.Unlock()
		return err
	}
	db.immutWAL = db.activeWAL
	db.immutSeq = db.activeSeq
	db.activeWAL = newWAL
	db.activeSeq = newSeq
	db.walMu.Unlock()

	if err := db.mf.Dump(); err != nil {
		return err
	}
	db.wakeBackground()
	return nil
}

func (db *DB) waitForImmutableDrained() {
	db.drainMu.Lock()
	for db.mt.Immutable() != nil && !db.closing {
		db.drainCond.Wait()
	}
	db.drainMu.Unlock()
}

func (db *DB) signalDrained() {
	db.drainMu.Lock()
	db.drainCond.Broadcast()
	db.drainMu.Unlock()
}

func (db *DB) wakeBackground() {
	select {
	case db.bgWake <- struct{}{}:
	default:
	}
}

// Close requests the background loop to stop, joins it, and releases the
// file lock (spec §4.11 Close, §5 "drop signals the worker; worker exits;
// drop joins").
func (db *DB) Close() error {
	select {
	case <-db.closeCh:
		return nil
	default:
	}
	close(db.closeCh)

	db.drainMu.Lock()
	db.closing = true
	db.drainCond.Broadcast()
	db.drainMu.Unlock()

	<-db.bgDone

	db.walMu.Lock()
	if db.activeWAL != nil {
		_ = db.activeWAL.Close()
	}
	if db.immutWAL != nil {
		_ = db.immutWAL.Close()
	}
	db.walMu.Unlock()

	db.mf.Close()
	return db.lock.Unlock()
}

// Stats returns a snapshot of engine counters for the CLI / diagnostics.
func (db *DB) Stats() map[string]float64 {
	return db.stats.Snapshot()
}

// BackgroundErr returns the error that stopped the background loop, if any
// (spec §7: "the background thread propagates errors by terminating").
func (db *DB) BackgroundErr() error { return db.bgErr }
