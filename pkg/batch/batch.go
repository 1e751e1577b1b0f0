// Package batch implements WriteBatch: an ordered sequence of put/delete
// operations committed atomically and stamped with contiguous sequence
// numbers at publish time (spec §3, §4.3).
package batch

import (
	"github.com/latticedb/lattice/pkg/kv"
)

// Op is one operation queued in a batch, pre-sequence-assignment.
type Op struct {
	Key       []byte
	Value     []byte
	Tombstone bool
}

// Batch is an ordered sequence of operations built up by a caller before a
// single call to Engine.Write.
type Batch struct {
	ops []Op
}

// New returns an empty batch.
func New() *Batch {
	return &Batch{}
}

// Put queues a key/value write.
func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, Op{Key: key, Value: value})
}

// Delete queues a tombstone for key.
func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, Op{Key: key, Tombstone: true})
}

// Count returns the number of queued operations.
func (b *Batch) Count() int { return len(b.ops) }

// IsEmpty reports whether the batch has no queued operations.
func (b *Batch) IsEmpty() bool { return len(b.ops) == 0 }

// Reset clears the batch for reuse.
func (b *Batch) Reset() { b.ops = b.ops[:0] }

// Ops exposes the queued operations in order; callers must not mutate the
// returned slice.
func (b *Batch) Ops() []Op { return b.ops }

// Entries stamps each queued operation with a contiguous sequence number
// starting at startSeq, in batch order, and returns the resulting entries
// (spec §4.9: "stamps entries with start..start+N-1 in order").
func (b *Batch) Entries(startSeq uint64) []kv.Entry {
	out := make([]kv.Entry, len(b.ops))
	seq := startSeq
	for i, op := range b.ops {
		if op.Tombstone {
			out[i] = kv.NewTombstone(op.Key, seq)
		} else {
			out[i] = kv.NewValue(op.Key, seq, op.Value)
		}
		seq++
	}
	return out
}

// Merge appends another batch's operations to b, used by the write queue's
// leader to fold every queued writer's batch into one combined batch
// (spec §4.9).
func (b *Batch) Merge(other *Batch) {
	b.ops = append(b.ops, other.ops...)
}
