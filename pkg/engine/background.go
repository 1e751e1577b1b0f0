package engine

import (
	"fmt"
	"os"
	"time"

	"github.com/latticedb/lattice/pkg/common/log"
	"github.com/latticedb/lattice/pkg/config"
	"github.com/latticedb/lattice/pkg/lattice"
	"github.com/latticedb/lattice/pkg/manifest"
	"github.com/latticedb/lattice/pkg/sstable"
	"github.com/latticedb/lattice/pkg/stats"
)

// backgroundLoop is the engine's single background worker (spec §4.11,
// §5): while not closing, run minor compaction if an immutable memtable is
// waiting, else run a major compaction to completion if one is due, else
// block (bounded) for a signal.
func (db *DB) backgroundLoop() {
	defer close(db.bgDone)
	for {
		select {
		case <-db.closeCh:
			return
		default:
		}

		if db.mt.Immutable() != nil {
			if err := db.runMinorCompaction(); err != nil {
				db.bgErr = err
				log.Error("minor compaction failed: %v", err)
				return
			}
			continue
		}

		if level, seedSeq, ok := db.mf.CompactionTrigger(db.cfg.WALSizeLimit, db.cfg.CompactionTrigger); ok {
			if err := db.runMajorCompaction(level, seedSeq); err != nil {
				db.bgErr = err
				log.Error("major compaction failed at level %d: %v", level, err)
				return
			}
			continue
		}

		select {
		case <-db.closeCh:
			return
		case <-db.bgWake:
		case <-time.After(backgroundIdleWait):
		}
	}
}

// runMinorCompaction dumps the immutable memtable to a staging file,
// renames it into level 1, registers it with the manifest, persists, and
// removes the drained WAL (spec §4.11).
func (db *DB) runMinorCompaction() error {
	tmpPath := db.layout.MinorTmpFile()
	w, err := sstable.NewWriter(tmpPath, db.opts)
	if err != nil {
		return err
	}
	if err := db.mt.Dump(w); err != nil {
		w.Abandon()
		return err
	}
	if w.NumEntries() == 0 {
		w.Abandon()
		db.signalDrained()
		return nil
	}
	if err := w.Finish(); err != nil {
		return err
	}

	seq := db.mf.AllocSST(1)
	finalPath := db.layout.SSTFile(1, seq)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("lattice: rename minor sst: %w", err)
	}

	meta, err := readSstMeta(finalPath, db.opts, 1, seq)
	if err != nil {
		return err
	}
	db.mf.SetSstMeta(1, seq, meta)

	drainedSeq, hadWAL := db.mf.RemoveWAL()
	if err := db.mf.Dump(); err != nil {
		return err
	}

	db.walMu.Lock()
	if hadWAL && db.immutWAL != nil && db.immutSeq == drainedSeq {
		_ = db.immutWAL.Close()
		db.immutWAL = nil
	}
	db.walMu.Unlock()
	if hadWAL {
		_ = os.Remove(db.layout.WALFile(drainedSeq))
	}

	db.stats.IncrOps(stats.OpFlush, 1)
	db.signalDrained()
	return nil
}

func readSstMeta(path string, opts sstable.Options, level int, seq uint64) (manifest.SstMeta, error) {
	r, err := sstable.OpenReader(path, opts)
	if err != nil {
		return manifest.SstMeta{}, lattice.NewCorruption(lattice.OwnerSST, err)
	}
	defer r.Close()
	st, err := os.Stat(path)
	if err != nil {
		return manifest.SstMeta{}, fmt.Errorf("lattice: stat %s: %w", path, err)
	}
	return manifest.SstMeta{
		Level:    level,
		Seq:      seq,
		FileSize: st.Size(),
		MinEntry: r.MinEntry(),
		MaxEntry: r.MaxEntry(),
	}, nil
}

// deadlineAfter returns the time ms milliseconds from now, or the zero Time
// (meaning "no deadline") if ms <= 0. Grounded on the Rust original's
// time.rs deadline helper; feeds the merger's step loop's time_limit budget
// (spec §4.7 step 5).
func deadlineAfter(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(ms) * time.Millisecond)
}

// runMajorCompaction expands the seed SST into its overlap-closure
// candidate set and k-way merges every input table into new level+1 tables,
// stepping the merger in size_limit/time_limit-bounded increments so the
// background loop can observe a close request mid-merge (spec §4.7, §5).
// On Full the current output is finalized and a fresh one started; on
// Timeout the close flag is checked before resuming; on Finish the last
// output is finalized and the whole result set is published via the
// manifest in one atomic step (spec §4.11). The merge's version_guard is
// the engine's current next_seq (every in-flight write is necessarily
// above it, so nothing committed concurrently with this compaction can be
// collapsed away), and dropObsoleteTombstones is set only when level+1 is
// the bottom live level.
func (db *DB) runMajorCompaction(level int, seedSeq uint64) error {
	candidates, ok := db.mf.ShouldMerge(level, seedSeq)
	if !ok {
		return nil
	}

	sources := make([]sstable.MergeSource, 0, len(candidates))
	readers := make([]*sstable.Reader, 0, len(candidates))
	for _, c := range candidates {
		r, err := sstable.OpenReader(db.layout.SSTFile(c.Level, c.Seq), db.opts)
		if err != nil {
			return lattice.NewCorruption(lattice.OwnerSST, err)
		}
		readers = append(readers, r)
		it := r.NewIterator()
		it.SeekToFirst()
		sources = append(sources, it)
	}
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()

	outputLevel := level + 1
	dropTombstones := outputLevel == config.LevelMax
	versionGuard := db.currentSeqGuard()
	merger := sstable.NewMerger(db.cmp, versionGuard, dropTombstones, sources)

	var written []manifest.SstMeta
	cleanupWritten := func() {
		for _, meta := range written {
			_ = os.Remove(db.layout.SSTFile(meta.Level, meta.Seq))
		}
	}

	outSeq := db.mf.AllocSST(outputLevel)
	tmpPath := db.layout.MajorTmpFile(outSeq)
	w, err := sstable.NewWriter(tmpPath, db.opts)
	if err != nil {
		return err
	}

	finalizeCurrent := func() error {
		if w.NumEntries() == 0 {
			w.Abandon()
			return nil
		}
		if err := w.Finish(); err != nil {
			return err
		}
		finalPath := db.layout.SSTFile(outputLevel, outSeq)
		if err := os.Rename(tmpPath, finalPath); err != nil {
			return fmt.Errorf("lattice: rename major sst: %w", err)
		}
		meta, err := readSstMeta(finalPath, db.opts, outputLevel, outSeq)
		if err != nil {
			return err
		}
		written = append(written, meta)
		return nil
	}

stepLoop:
	for {
		select {
		case <-db.closeCh:
			// Nothing has been published to the manifest yet, so discarding
			// the in-progress output (plus anything already rotated out in
			// an earlier Full step) is safe: those files are unreferenced,
			// same as anything left under sst/tmp after a crash (spec §5).
			w.Abandon()
			cleanupWritten()
			return nil
		default:
		}

		result, stepErr := merger.Step(w, db.cfg.CompactionSizeLimit, deadlineAfter(db.cfg.CompactionTimeLimitMS))
		if stepErr != nil {
			w.Abandon()
			cleanupWritten()
			return lattice.NewCorruption(lattice.OwnerSST, stepErr)
		}

		switch result {
		case sstable.StepFull:
			if err := finalizeCurrent(); err != nil {
				cleanupWritten()
				return err
			}
			outSeq = db.mf.AllocSST(outputLevel)
			tmpPath = db.layout.MajorTmpFile(outSeq)
			w, err = sstable.NewWriter(tmpPath, db.opts)
			if err != nil {
				cleanupWritten()
				return err
			}
		case sstable.StepTimeout:
			continue stepLoop
		case sstable.StepFinish:
			if err := finalizeCurrent(); err != nil {
				cleanupWritten()
				return err
			}
			break stepLoop
		}
	}

	for _, c := range candidates {
		db.mf.RemoveSST(c.Level, c.Seq)
	}
	for _, meta := range written {
		db.mf.SetSstMeta(meta.Level, meta.Seq, meta)
	}
	if err := db.mf.Dump(); err != nil {
		return err
	}
	for _, c := range candidates {
		_ = os.Remove(db.layout.SSTFile(c.Level, c.Seq))
	}

	db.stats.IncrOps(stats.OpCompaction, 1)
	return nil
}
