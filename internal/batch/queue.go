package batch

import (
	"sync"
)

// Queue holds sealed batches awaiting anchoring, in seal order.
// It is safe for concurrent use by the recorder side (pushing new
// batches) and the anchor side (draining successes).
type Queue struct {
	mu      sync.Mutex
	batches []*Batch
	ids     map[string]bool
}

// NewQueue creates an empty pending queue.
func NewQueue() *Queue {
	return &Queue{
		ids: make(map[string]bool),
	}
}

// Push appends a batch to the tail of the queue. Duplicate IDs are
// ignored so a restart replay cannot double-enqueue.
func (q *Queue) Push(b *Batch) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ids[b.BatchID] {
		return
	}
	q.batches = append(q.batches, b)
	q.ids[b.BatchID] = true
}

// Snapshot returns the queued batches in FIFO order. The slice is a
// copy; callers may iterate it while the queue keeps changing.
func (q *Queue) Snapshot() []*Batch {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Batch, len(q.batches))
	copy(out, q.batches)
	return out
}

// Remove drops the batch with the given ID, returning whether it was
// present. Called after the batch has been durably anchored.
func (q *Queue) Remove(batchID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.ids[batchID] {
		return false
	}
	delete(q.ids, batchID)
	for i, b := range q.batches {
		if b.BatchID == batchID {
			q.batches = append(q.batches[:i], q.batches[i+1:]...)
			break
		}
	}
	return true
}

// Len reports the number of batches waiting to be anchored.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.batches)
}
