package engine

import (
	"sync"
	"sync/atomic"

	"github.com/latticedb/lattice/pkg/batch"
	"github.com/latticedb/lattice/pkg/stats"
)

// writeQueue implements group-commit leader election (spec §4.9): each
// caller enqueues its batch and waits on a condition variable; the
// head-of-queue caller becomes leader, drains every queued batch into one
// combined batch, and commits it on behalf of the whole group. Adapted from
// the teacher's transaction Manager's mutex+atomic-counter+stats bookkeeping
// idiom (pkg/transaction/manager.go), repurposed here for write grouping
// instead of transaction lifecycle tracking.
type writeQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	queue []*queuedWrite

	leaderSeq atomic.Uint64 // next logical writer id, debug-only (see SPEC_FULL §SUPPLEMENTED FEATURES)

	leadersTotal atomic.Uint64
	batchesTotal atomic.Uint64

	stats stats.Collector
}

type queuedWrite struct {
	writerID uint64
	b        *batch.Batch
	done     bool
	err      error
}

func newWriteQueue(collector stats.Collector) *writeQueue {
	if collector == nil {
		collector = stats.NopCollector{}
	}
	wq := &writeQueue{stats: collector}
	wq.cond = sync.NewCond(&wq.mu)
	return wq
}

// commitFunc is called exactly once by whichever goroutine becomes leader,
// with the combined batch of every queued writer. It must not return until
// the batch is durably committed (WAL fsynced per the configured sync mode
// and memtable updated), matching spec §9(b)'s requirement that a
// non-leader never observes completion before the leader's commit actually
// finished.
type commitFunc func(combined *batch.Batch) error

// submit enqueues b, blocks until either this goroutine is elected leader
// (in which case it must call commitFunc itself and then broadcast) or
// another goroutine commits on its behalf, and returns any commit error.
//
// Per spec §9(b): a non-leader must clear its own queue slot before
// returning, and must not return before the leader's commit has completed.
// This implementation satisfies both by having the leader itself remove
// every drained entry from the queue and mark it done under the same lock
// it broadcasts from, so a waiter only ever observes "done" after its slot
// is already gone.
func (wq *writeQueue) submit(b *batch.Batch, commit commitFunc) error {
	wq.mu.Lock()
	qw := &queuedWrite{writerID: wq.leaderSeq.Add(1), b: b}
	wq.queue = append(wq.queue, qw)
	isLeader := len(wq.queue) == 1

	for !isLeader && !qw.done {
		wq.cond.Wait()
	}
	if !isLeader {
		wq.mu.Unlock()
		return qw.err
	}

	// Leader path: drain every currently queued batch (including our own)
	// into one combined batch while still holding the lock, so no writer
	// that arrives after this point is included in this group.
	group := wq.queue
	wq.queue = nil
	wq.mu.Unlock()

	combined := batch.New()
	for _, g := range group {
		combined.Merge(g.b)
	}

	err := commit(combined)

	wq.leadersTotal.Add(1)
	wq.batchesTotal.Add(uint64(len(group)))
	wq.stats.IncrOps(stats.OpWriteBatch, uint64(len(group)))

	wq.mu.Lock()
	for _, g := range group {
		g.err = err
		g.done = true
	}
	wq.cond.Broadcast()
	wq.mu.Unlock()

	return err
}

// Stats returns debug counters for the write queue (group-commit leader
// count and total batches grouped), mirroring the teacher's
// GetTransactionStats accessor shape.
func (wq *writeQueue) Stats() map[string]uint64 {
	return map[string]uint64{
		"leaders_total": wq.leadersTotal.Load(),
		"batches_total": wq.batchesTotal.Load(),
	}
}
