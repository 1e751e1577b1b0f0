// Package config centralizes the engine's tunables: on-disk layout paths,
// memtable/WAL sizing, durability mode, and the pluggable compressor/filter
// (spec §6, §9).
package config

import (
	"fmt"

	"github.com/latticedb/lattice/pkg/kv"
	"github.com/latticedb/lattice/pkg/stats"
	"github.com/latticedb/lattice/pkg/wal"
)

// CurrentManifestVersion is the value WithDefaults gives Config.Version. The
// manifest file itself records no format version.
const CurrentManifestVersion = 1

// LevelMax is the deepest level the engine compacts into (spec §9(c):
// levels are numbered 1..LevelMax inclusive; level 0 is unused).
const LevelMax = 7

// Config holds every tunable the engine needs to open or create a database.
type Config struct {
	// Version is the manifest format version this Config names. Open does
	// not compare it against anything on disk.
	Version int

	// Dir is the database's root directory (spec §6); WALDir/SSTDir/
	// ManifestDir default to subdirectories of it when unset.
	Dir         string
	WALDir      string
	SSTDir      string
	ManifestDir string

	// BlockSize bounds an SST data block's encoded size before it is
	// sealed; must be a multiple of 8 (spec §6 default: 4096).
	BlockSize int
	// RestartInterval is how many entries separate each block restart
	// point (spec §6 default: 16).
	RestartInterval int

	// MemTableSize is defaulted by WithDefaults but not read by the engine;
	// the memtable is frozen when the WAL passes WALSizeLimit instead.
	MemTableSize int64
	// MaxMemTables is defaulted by WithDefaults but not read by the engine;
	// the engine holds at most one immutable memtable and blocks writers
	// while it drains.
	MaxMemTables int

	// WALSizeLimit rotates the active WAL once it exceeds this many bytes
	// (spec §6 default: 2MiB).
	WALSizeLimit int64
	// WALSyncMode controls fsync aggressiveness on WAL append.
	WALSyncMode wal.SyncMode
	// WALSyncBytes is the threshold for wal.SyncBatch mode.
	WALSyncBytes int64

	// CreateIfMissing creates a new, empty database at Dir if one does not
	// already exist (spec §6 default: true).
	CreateIfMissing bool

	// CompactionTrigger is how many SSTs accumulated in a level before a
	// major compaction of that level is scheduled (spec §4.10 default: 6).
	CompactionTrigger int
	// CompactionSizeLimit bounds one output SST's size during major
	// compaction; the merger rotates to a fresh output file once it's
	// reached rather than writing an unbounded table (spec §4.7 size_limit).
	CompactionSizeLimit int64
	// CompactionTimeLimitMS bounds how long the merger writes into the
	// current output file before yielding back to the background loop so it
	// can observe a close request (spec §4.7 time_limit, spec §5 "the
	// merger self-yields on a configurable millisecond budget").
	CompactionTimeLimitMS int64

	// Compressor compresses SST block payloads; nil disables compression.
	Compressor kv.Compressor
	// FilterFactory builds per-block filters; nil disables filters.
	FilterFactory kv.FilterFactory

	// Stats collects engine counters/gauges; nil disables collection.
	Stats stats.Collector
}

// StatsOrNop returns cfg.Stats, or a no-op collector if unset.
func (c Config) StatsOrNop() stats.Collector {
	if c.Stats == nil {
		return stats.NopCollector{}
	}
	return c.Stats
}

// WithDefaults returns a copy of c with every unset field filled in per
// spec §6's documented defaults.
func (c Config) WithDefaults() Config {
	out := c
	if out.Version == 0 {
		out.Version = CurrentManifestVersion
	}
	if out.WALDir == "" && out.Dir != "" {
		out.WALDir = out.Dir + "/wal"
	}
	if out.SSTDir == "" && out.Dir != "" {
		out.SSTDir = out.Dir + "/sst"
	}
	if out.ManifestDir == "" && out.Dir != "" {
		out.ManifestDir = out.Dir + "/manifest"
	}
	if out.BlockSize <= 0 {
		out.BlockSize = 4096
	}
	if out.RestartInterval <= 0 {
		out.RestartInterval = 16
	}
	if out.MemTableSize <= 0 {
		out.MemTableSize = 4 * 1024 * 1024
	}
	if out.MaxMemTables <= 0 {
		out.MaxMemTables = 2
	}
	if out.WALSizeLimit <= 0 {
		out.WALSizeLimit = 2 * 1024 * 1024
	}
	if out.CompactionTrigger <= 0 {
		out.CompactionTrigger = 6
	}
	if out.CompactionSizeLimit <= 0 {
		out.CompactionSizeLimit = 16 * 1024 * 1024
	}
	if out.CompactionTimeLimitMS <= 0 {
		out.CompactionTimeLimitMS = 200
	}
	return out
}

// Validate checks invariants that WithDefaults cannot safely paper over.
func (c Config) Validate() error {
	if c.Dir == "" && (c.WALDir == "" || c.SSTDir == "" || c.ManifestDir == "") {
		return fmt.Errorf("config: Dir must be set, or all of WALDir/SSTDir/ManifestDir")
	}
	if c.BlockSize%8 != 0 {
		return fmt.Errorf("config: BlockSize %d must be a multiple of 8", c.BlockSize)
	}
	return nil
}
