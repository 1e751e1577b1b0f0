// Package lattice holds the engine-wide error taxonomy (spec §7) shared
// across pkg/manifest, pkg/engine, and pkg/sstable.
package lattice

import (
	"errors"
	"fmt"
)

// Sentinel errors for the kinds spec §7 names that don't already have a
// more specific home (WAL/SST corruption sentinels live in pkg/wal and
// pkg/sstable/block respectively).
var (
	ErrIO       = errors.New("lattice: io error")
	ErrEncode   = errors.New("lattice: encode error")
	ErrDecode   = errors.New("lattice: decode error")
	ErrPath     = errors.New("lattice: path error")
	ErrManifest = errors.New("lattice: manifest error")
	ErrLockHeld = errors.New("lattice: database is locked by another process")
	ErrClosed   = errors.New("lattice: database is closed")
)

// CorruptionOwner names which subsystem detected a Corruption error, per
// spec §7's Corruption(WAL|SST|Manifest) kind.
type CorruptionOwner string

const (
	OwnerWAL      CorruptionOwner = "wal"
	OwnerSST      CorruptionOwner = "sst"
	OwnerManifest CorruptionOwner = "manifest"
)

// CorruptionError wraps an underlying parse/checksum failure with which
// subsystem detected it, so callers can report "Corruption(SST)" the way
// spec §7 categorizes errors without losing the wrapped cause.
type CorruptionError struct {
	Owner CorruptionOwner
	Err   error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("lattice: corruption (%s): %v", e.Owner, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// NewCorruption builds a CorruptionError, the canonical way a subsystem
// reports spec §7's Corruption(owner) error kind.
func NewCorruption(owner CorruptionOwner, err error) error {
	return &CorruptionError{Owner: owner, Err: err}
}
