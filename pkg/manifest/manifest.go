// Package manifest tracks the live set of WAL and per-level SST files and
// publishes changes to that set atomically via the CURRENT pointer
// (spec §4.10).
package manifest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/latticedb/lattice/pkg/comparator"
	"github.com/latticedb/lattice/pkg/config"
	"github.com/latticedb/lattice/pkg/kv"
	"github.com/latticedb/lattice/pkg/lattice"
	"github.com/latticedb/lattice/pkg/sstable"
)

// SstMeta mirrors spec §3's per-SST metadata computed at open time. The
// index_block_start/end fields named in spec §3 are specific to a
// fixed-slot index block layout this implementation does not use (see
// DESIGN.md); FileSize lets the manifest describe a table's size without
// reopening it. DataBlockCount is not filled in by Load or by the engine and
// stays zero.
type SstMeta struct {
	Level          int
	Seq            uint64
	FileSize       int64
	DataBlockCount uint32
	MinEntry       kv.Entry
	MaxEntry       kv.Entry
}

// Overlaps reports whether m's [MinEntry, MaxEntry] range intersects
// [lo, hi] under cmp: true unless m lies strictly before lo or strictly
// after hi.
func (m SstMeta) Overlaps(lo, hi kv.Entry, cmp comparator.Comparator) bool {
	if m.MaxEntry.Compare(lo, cmp) < 0 {
		return false
	}
	if hi.Compare(m.MinEntry, cmp) < 0 {
		return false
	}
	return true
}

// Layout is the subset of engine.Layout the manifest needs, kept as a
// narrow interface so pkg/manifest does not import pkg/engine.
type Layout interface {
	Root() string
	LockFile() string
	Current() string
	CurrentTmp() string
	ManifestDir() string
	ManifestFile(seq uint64) string
	WALFile(seq uint64) string
	SSTFile(level int, seq uint64) string
}

// Manifest is the in-memory live file-set tracker (spec §4.10). Each method
// holds mu only for its own duration and does not call Dump itself, so a
// change is not persisted under the same lock hold; it becomes durable when
// the caller later calls Dump.
type Manifest struct {
	mu sync.Mutex

	layout Layout
	cmp    comparator.Comparator
	opts   sstable.Options

	nextFileSeq uint64
	wals        map[uint64]struct{}
	levels      [config.LevelMax + 1]map[uint64]SstMeta

	// readers caches open SST readers by (level, seq), avoiding a reopen
	// on every Get/merge step (ported from the Rust original's
	// src/sst/cache.rs; cleared on RemoveSST).
	readers map[cacheKey]*sstable.Reader
}

type cacheKey struct {
	level int
	seq   uint64
}

// New builds an empty Manifest. Callers must call Dump once after seeding
// it (e.g. after AllocWAL for a brand-new database).
func New(layout Layout, cmp comparator.Comparator, opts sstable.Options) *Manifest {
	m := &Manifest{
		layout:  layout,
		cmp:     cmp,
		opts:    opts,
		wals:    make(map[uint64]struct{}),
		readers: make(map[cacheKey]*sstable.Reader),
	}
	for lvl := range m.levels {
		m.levels[lvl] = make(map[uint64]SstMeta)
	}
	return m
}

// AllocWAL returns the next file_seq and registers it as a live WAL
// (spec I4: strictly increasing, drawn from one counter).
func (m *Manifest) AllocWAL() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextFileSeq++
	seq := m.nextFileSeq
	m.wals[seq] = struct{}{}
	return seq
}

// AllocSST returns the next file_seq for a new SST at level (not yet
// registered with metadata; call SetSstMeta once the file is written).
func (m *Manifest) AllocSST(level int) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextFileSeq++
	return m.nextFileSeq
}

// RemoveWAL removes the smallest-seq live WAL, i.e. the drained immutable
// one (spec §4.10).
func (m *Manifest) RemoveWAL() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.wals) == 0 {
		return 0, false
	}
	var min uint64
	first := true
	for seq := range m.wals {
		if first || seq < min {
			min = seq
			first = false
		}
	}
	delete(m.wals, min)
	return min, true
}

// Wals returns the live WAL seqs, ascending (largest = mutable).
func (m *Manifest) Wals() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint64, 0, len(m.wals))
	for seq := range m.wals {
		out = append(out, seq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SetSstMeta registers meta as the live table at level/seq.
func (m *Manifest) SetSstMeta(level int, seq uint64, meta SstMeta) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta.Level = level
	meta.Seq = seq
	m.levels[level][seq] = meta
}

// RemoveSST drops level/seq from the live set and evicts any cached reader
// for it.
func (m *Manifest) RemoveSST(level int, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.levels[level], seq)
	key := cacheKey{level, seq}
	if r, ok := m.readers[key]; ok {
		r.Close()
		delete(m.readers, key)
	}
}

// Level returns a sorted-by-seq snapshot of level's live metas.
func (m *Manifest) Level(level int) []SstMeta {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levelLocked(level)
}

func (m *Manifest) levelLocked(level int) []SstMeta {
	out := make([]SstMeta, 0, len(m.levels[level]))
	for _, meta := range m.levels[level] {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Reader returns a cached reader for level/seq, opening and caching it on
// first use.
func (m *Manifest) Reader(level int, seq uint64) (*sstable.Reader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := cacheKey{level, seq}
	if r, ok := m.readers[key]; ok {
		return r, nil
	}
	r, err := sstable.OpenReader(m.layout.SSTFile(level, seq), m.opts)
	if err != nil {
		return nil, err
	}
	m.readers[key] = r
	return r, nil
}

// MergeCandidate is one input table to a planned compaction.
type MergeCandidate struct {
	Level int
	Seq   uint64
	Meta  SstMeta
}

// ShouldMerge expands the seed SST at level into the overlap-closure
// candidate set spanning level and level+1 (spec §4.10): any SST in either
// level whose range intersects the running [lo, hi] bound is folded in;
// repeat to a fixed point. The bound update follows spec §9(a)'s resolved
// rule: lo = min(lo, sst.min), hi = max(hi, sst.max) on every inclusion.
func (m *Manifest) ShouldMerge(level int, seedSeq uint64) ([]MergeCandidate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if level < 1 || level >= config.LevelMax {
		return nil, false
	}
	seed, ok := m.levels[level][seedSeq]
	if !ok {
		return nil, false
	}
	lo, hi := seed.MinEntry, seed.MaxEntry

	included := map[cacheKey]bool{{level, seedSeq}: true}
	changed := true
	for changed {
		changed = false
		for _, lvl := range []int{level, level + 1} {
			if lvl > config.LevelMax {
				continue
			}
			for seq, meta := range m.levels[lvl] {
				key := cacheKey{lvl, seq}
				if included[key] {
					continue
				}
				if meta.Overlaps(lo, hi, m.cmp) {
					included[key] = true
					if meta.MinEntry.Less(lo, m.cmp) {
						lo = meta.MinEntry
					}
					if hi.Less(meta.MaxEntry, m.cmp) {
						hi = meta.MaxEntry
					}
					changed = true
				}
			}
		}
	}

	out := make([]MergeCandidate, 0, len(included))
	for key := range included {
		out = append(out, MergeCandidate{Level: key.level, Seq: key.seq, Meta: m.levels[key.level][key.seq]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].Seq < out[j].Seq
	})
	return out, true
}

// CompactionTrigger scans levels 1..LevelMax-1 and returns the first level
// whose SST count exceeds triggerCount or whose total size exceeds
// walSizeLimit * 5^level (spec §4.10; triggerCount defaults to 6 per
// config.Config.WithDefaults). Level LevelMax is never an output level and
// is never scanned as a source.
func (m *Manifest) CompactionTrigger(walSizeLimit int64, triggerCount int) (level int, seedSeq uint64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for lvl := 1; lvl < config.LevelMax; lvl++ {
		metas := m.levels[lvl]
		if len(metas) == 0 {
			continue
		}
		var total int64
		threshold := walSizeLimit
		for i := 0; i < lvl; i++ {
			threshold *= 5
		}
		var anySeq uint64
		first := true
		for seq, meta := range metas {
			total += meta.FileSize
			if first || seq < anySeq {
				anySeq = seq
				first = false
			}
		}
		if len(metas) > triggerCount || total > threshold {
			return lvl, anySeq, true
		}
	}
	return 0, 0, false
}

// Close releases every cached reader.
func (m *Manifest) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, r := range m.readers {
		r.Close()
		delete(m.readers, k)
	}
}

// --- persistence: text listing + CURRENT protocol (spec §4.10) ---

// Dump persists the current live set as a new manifest snapshot and
// atomically publishes it via CURRENT.
func (m *Manifest) Dump() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dumpLocked()
}

func (m *Manifest) dumpLocked() error {
	cur, err := readCurrent(m.layout.Current())
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if werr := writeCurrentAtomic(m.layout, 0); werr != nil {
			return werr
		}
		cur = 0
	}

	next := cur + 1
	if err := m.writeManifestFile(next); err != nil {
		return err
	}
	if err := writeCurrentAtomic(m.layout, next); err != nil {
		return err
	}
	if cur != 0 {
		_ = os.Remove(m.layout.ManifestFile(cur))
	}
	return nil
}

func (m *Manifest) writeManifestFile(seq uint64) error {
	path := m.layout.ManifestFile(seq)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("manifest: create %s: %w", tmp, err)
	}
	w := bufio.NewWriter(f)
	for _, wseq := range sortedKeys(m.wals) {
		fmt.Fprintf(w, "%06d.wal\n", wseq)
	}
	for lvl := 1; lvl <= config.LevelMax; lvl++ {
		for _, meta := range m.levelLocked(lvl) {
			fmt.Fprintf(w, "sst/%d/%06d.sst\n", lvl, meta.Seq)
		}
	}
	fmt.Fprintf(w, "next_file_seq %d\n", m.nextFileSeq)
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("manifest: flush %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("manifest: fsync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("manifest: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("manifest: rename %s: %w", tmp, err)
	}
	return syncDir(filepath.Dir(path))
}

func sortedKeys(m map[uint64]struct{}) []uint64 {
	out := make([]uint64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func readCurrent(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("manifest: parse CURRENT %s: %w", path, err)
	}
	return n, nil
}

// writeCurrentAtomic implements spec §4.10 step 4/§9's CURRENT protocol:
// fsync the new manifest (already done by the caller before this runs for
// the manifest-body case; here we fsync CURRENT.tmp itself) before
// renaming over CURRENT, then fsync the containing directory after rename.
func writeCurrentAtomic(layout Layout, seq uint64) error {
	tmp := layout.CurrentTmp()
	if err := os.WriteFile(tmp, []byte(fmt.Sprintf("%06d", seq)), 0644); err != nil {
		return fmt.Errorf("manifest: write %s: %w", tmp, err)
	}
	f, err := os.OpenFile(tmp, os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("manifest: reopen %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("manifest: fsync %s: %w", tmp, err)
	}
	f.Close()
	if err := os.Rename(tmp, layout.Current()); err != nil {
		return fmt.Errorf("manifest: publish CURRENT: %w", err)
	}
	return syncDir(filepath.Dir(layout.Current()))
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("manifest: open dir %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("manifest: fsync dir %s: %w", dir, err)
	}
	return nil
}

// Load reads CURRENT, opens the named manifest, and rehydrates the live
// WAL/SST sets, opening each SST's footer to recover its SstMeta
// (spec §4.10 Load).
func Load(layout Layout, cmp comparator.Comparator, opts sstable.Options) (*Manifest, error) {
	m := New(layout, cmp, opts)

	cur, err := readCurrent(layout.Current())
	if err != nil {
		return nil, fmt.Errorf("manifest: read CURRENT: %w", err)
	}
	path := layout.ManifestFile(cur)
	f, err := os.Open(path)
	if err != nil {
		return nil, lattice.NewCorruption(lattice.OwnerManifest, fmt.Errorf("open %s: %w", path, err))
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	var maxSeq uint64
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "next_file_seq ") {
			n, err := strconv.ParseUint(strings.TrimPrefix(line, "next_file_seq "), 10, 64)
			if err != nil {
				return nil, lattice.NewCorruption(lattice.OwnerManifest, err)
			}
			m.nextFileSeq = n
			continue
		}
		if strings.HasSuffix(line, ".wal") {
			seq, err := parseSeqSuffix(line, ".wal")
			if err != nil {
				return nil, lattice.NewCorruption(lattice.OwnerManifest, err)
			}
			m.wals[seq] = struct{}{}
			if seq > maxSeq {
				maxSeq = seq
			}
			continue
		}
		if strings.HasPrefix(line, "sst/") && strings.HasSuffix(line, ".sst") {
			level, seq, err := parseSstLine(line)
			if err != nil {
				return nil, lattice.NewCorruption(lattice.OwnerManifest, err)
			}
			meta, err := openSstMeta(layout, opts, level, seq)
			if err != nil {
				return nil, err
			}
			m.levels[level][seq] = meta
			if seq > maxSeq {
				maxSeq = seq
			}
			continue
		}
	}
	if err := sc.Err(); err != nil {
		return nil, lattice.NewCorruption(lattice.OwnerManifest, err)
	}
	if m.nextFileSeq < maxSeq {
		m.nextFileSeq = maxSeq
	}
	return m, nil
}

func parseSeqSuffix(name, suffix string) (uint64, error) {
	base := filepath.Base(name)
	return strconv.ParseUint(strings.TrimSuffix(base, suffix), 10, 64)
}

func parseSstLine(line string) (level int, seq uint64, err error) {
	// "sst/<level>/NNNNNN.sst"
	parts := strings.Split(line, "/")
	if len(parts) != 3 {
		return 0, 0, fmt.Errorf("manifest: malformed sst entry %q", line)
	}
	lvl, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("manifest: malformed sst level %q: %w", line, err)
	}
	seq, err = parseSeqSuffix(parts[2], ".sst")
	if err != nil {
		return 0, 0, fmt.Errorf("manifest: malformed sst seq %q: %w", line, err)
	}
	return lvl, seq, nil
}

func openSstMeta(layout Layout, opts sstable.Options, level int, seq uint64) (SstMeta, error) {
	path := layout.SSTFile(level, seq)
	r, err := sstable.OpenReader(path, opts)
	if err != nil {
		return SstMeta{}, lattice.NewCorruption(lattice.OwnerSST, fmt.Errorf("open %s: %w", path, err))
	}
	defer r.Close()
	st, err := os.Stat(path)
	if err != nil {
		return SstMeta{}, fmt.Errorf("manifest: stat %s: %w", path, err)
	}
	return SstMeta{
		Level:    level,
		Seq:      seq,
		FileSize: st.Size(),
		MinEntry: r.MinEntry(),
		MaxEntry: r.MaxEntry(),
	}, nil
}
