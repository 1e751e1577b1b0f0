// Package engine orchestrates the write path, background compaction loop,
// and open/create/recover sequence that ties memtable, WAL, SST, and
// manifest together into the embedded DB (spec §4.11).
package engine

import (
	"fmt"
	"path/filepath"

	"github.com/latticedb/lattice/pkg/config"
)

// Layout computes every on-disk path under a database root directory from a
// numeric file sequence, grounded on the Rust original's dedicated
// src/db/path.rs helper rather than scattering filepath.Join calls through
// the engine.
type Layout struct {
	root        string
	walDir      string
	sstDir      string
	manifestDir string
}

// NewLayout builds a Layout rooted at cfg.Dir, honoring cfg's WALDir/SSTDir/
// ManifestDir overrides when set (cfg is expected to have already run
// through Config.WithDefaults).
func NewLayout(cfg config.Config) *Layout {
	return &Layout{root: cfg.Dir, walDir: cfg.WALDir, sstDir: cfg.SSTDir, manifestDir: cfg.ManifestDir}
}

// Root returns the database's root directory.
func (l *Layout) Root() string { return l.root }

// LockFile is the advisory exclusive lock path (spec §6).
func (l *Layout) LockFile() string { return filepath.Join(l.root, "lock") }

// Current is the CURRENT pointer file's path.
func (l *Layout) Current() string { return filepath.Join(l.root, "CURRENT") }

// CurrentTmp is CURRENT's staging path during atomic publish.
func (l *Layout) CurrentTmp() string { return filepath.Join(l.root, "CURRENT.tmp") }

// ManifestDir is the directory holding manifest snapshots.
func (l *Layout) ManifestDir() string { return l.manifestDir }

// ManifestFile returns the path of manifest snapshot seq.
func (l *Layout) ManifestFile(seq uint64) string {
	return filepath.Join(l.ManifestDir(), fmt.Sprintf("%06d.manifest", seq))
}

// WALDir is the directory holding WAL files.
func (l *Layout) WALDir() string { return l.walDir }

// WALFile returns the path of WAL file seq.
func (l *Layout) WALFile(seq uint64) string {
	return filepath.Join(l.WALDir(), fmt.Sprintf("%06d.wal", seq))
}

// SSTDir is the root directory holding per-level SST subdirectories.
func (l *Layout) SSTDir() string { return l.sstDir }

// SSTLevelDir returns the directory holding level L's SST files.
func (l *Layout) SSTLevelDir(level int) string {
	return filepath.Join(l.SSTDir(), fmt.Sprintf("%d", level))
}

// SSTFile returns the path of the SST file at level/seq.
func (l *Layout) SSTFile(level int, seq uint64) string {
	return filepath.Join(l.SSTLevelDir(level), fmt.Sprintf("%06d.sst", seq))
}

// SSTTmpDir is the staging area for in-progress compaction output.
func (l *Layout) SSTTmpDir() string { return filepath.Join(l.SSTDir(), "tmp") }

// MinorTmpFile is the staging path for an in-progress minor compaction.
func (l *Layout) MinorTmpFile() string { return filepath.Join(l.SSTTmpDir(), "minor.sst") }

// MajorTmpFile returns the staging path for one output file of a major
// compaction step, numbered per concurrent output within that step.
func (l *Layout) MajorTmpFile(seq uint64) string {
	return filepath.Join(l.SSTTmpDir(), fmt.Sprintf("major_%06d.sst", seq))
}

// Dirs returns every directory that must exist for a fresh database, in
// creation order: root, manifest, sst, wal, sst/tmp, then sst/1..LevelMax.
func (l *Layout) Dirs() []string {
	dirs := []string{l.root, l.ManifestDir(), l.SSTDir(), l.WALDir(), l.SSTTmpDir()}
	for lvl := 1; lvl <= config.LevelMax; lvl++ {
		dirs = append(dirs, l.SSTLevelDir(lvl))
	}
	return dirs
}
