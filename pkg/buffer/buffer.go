package buffer

import (
	"errors"
	"sync"
)

// OverflowPolicy is the rule applied when the total buffered record count
// exceeds the configured cap.
type OverflowPolicy string

const (
	// PolicyAutoFlush accepts the write and triggers an immediate flush.
	PolicyAutoFlush OverflowPolicy = "auto-flush"
	// PolicyDropOldest evicts the globally oldest record; never flushes.
	PolicyDropOldest OverflowPolicy = "drop-oldest"
	// PolicyError rejects the write with ErrCapacityExceeded.
	PolicyError OverflowPolicy = "error"
)

// ErrCapacityExceeded is returned by Enqueue under PolicyError when the
// write would push the total count past capacity. The record is not enqueued.
var ErrCapacityExceeded = errors.New("buffer capacity exceeded")

// Outcome reports what happened to an accepted write.
type Outcome int

const (
	// Accepted means the record was enqueued and nothing else is needed.
	Accepted Outcome = iota
	// AcceptedNeedsFlush means the record was enqueued and the buffer is
	// over capacity; the caller should initiate a flush cycle.
	AcceptedNeedsFlush
	// AcceptedDroppedOldest means the record was enqueued and the globally
	// oldest record was evicted to stay within capacity.
	AcceptedDroppedOldest
)

type entry struct {
	seq    uint64
	record []byte
}

// Batch is a bounded, ordered slice of one session's pending records.
type Batch struct {
	Session string
	Records [][]byte
}

// Buffer partitions serialized records into per-session ordered queues with
// a total cross-session size cap. Sessions are created on first write and
// never destroyed. All methods are safe for concurrent use; DrainBatches
// must only run inside a single flush cycle (the Coordinator enforces this).
type Buffer struct {
	mu       sync.Mutex
	sessions map[string][]entry
	order    []string
	total    int
	nextSeq  uint64
	capacity int
	policy   OverflowPolicy
}

// New creates a buffer with the given total capacity and overflow policy.
func New(capacity int, policy OverflowPolicy) *Buffer {
	if policy == "" {
		policy = PolicyAutoFlush
	}
	return &Buffer{
		sessions: make(map[string][]entry),
		capacity: capacity,
		policy:   policy,
	}
}

// Enqueue appends a serialized record to the session's queue. The returned
// Outcome tells the caller whether any follow-up action is needed; it is
// never ambiguous about whether the record was stored.
func (b *Buffer) Enqueue(session string, record []byte) (Outcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.policy == PolicyError && b.total+1 > b.capacity {
		return 0, ErrCapacityExceeded
	}

	if _, ok := b.sessions[session]; !ok {
		b.order = append(b.order, session)
	}
	b.nextSeq++
	b.sessions[session] = append(b.sessions[session], entry{seq: b.nextSeq, record: record})
	b.total++

	if b.total <= b.capacity {
		return Accepted, nil
	}

	if b.policy == PolicyDropOldest {
		for b.total > b.capacity {
			b.evictOldestLocked()
		}
		return AcceptedDroppedOldest, nil
	}

	return AcceptedNeedsFlush, nil
}

// evictOldestLocked removes the record with the smallest global sequence
// number across all sessions. Linear scan over session heads; capacity
// values are small relative to throughput, so this is acceptable.
func (b *Buffer) evictOldestLocked() {
	oldest := ""
	oldestSeq := uint64(0)
	found := false
	for _, session := range b.order {
		q := b.sessions[session]
		if len(q) == 0 {
			continue
		}
		if !found || q[0].seq < oldestSeq {
			oldest = session
			oldestSeq = q[0].seq
			found = true
		}
	}
	if !found {
		return
	}
	q := b.sessions[oldest]
	q[0].record = nil // release the evicted record's backing memory
	b.sessions[oldest] = q[1:]
	b.total--
}

// DrainBatches removes all pending records, returning them as ordered
// batches of at most batchSize records each. Batches are taken in strict
// prefix order per session and interleaved round-robin across sessions so
// no single session starves the rest.
func (b *Buffer) DrainBatches(batchSize int) []Batch {
	b.mu.Lock()
	defer b.mu.Unlock()

	if batchSize <= 0 {
		batchSize = 1
	}

	var batches []Batch
	for b.total > 0 {
		for _, session := range b.order {
			q := b.sessions[session]
			if len(q) == 0 {
				continue
			}
			n := min(batchSize, len(q))
			records := make([][]byte, n)
			for i := 0; i < n; i++ {
				records[i] = q[i].record
			}
			b.sessions[session] = q[n:]
			b.total -= n
			batches = append(batches, Batch{Session: session, Records: records})
		}
	}
	return batches
}

// Len returns the total number of pending records across all sessions.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}
