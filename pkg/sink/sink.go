package sink

import (
	"context"

	"github.com/relaykit/relay/pkg/events"
)

// Sink delivers events to an external medium
type Sink interface {
	// Write enqueues an event for delivery. It never blocks; the returned
	// WriteResult carries a backpressure handle only when the write pushed
	// the buffer over capacity under the auto-flush policy.
	Write(ctx context.Context, event events.Event) (WriteResult, error)

	// Flush drains everything pending to the transport, or drops per policy
	Flush(ctx context.Context) error

	// Close stops timers and hooks, runs one final guaranteed flush, and
	// freezes the sink against further writes. Safe to call more than once.
	Close(ctx context.Context) error

	// Name returns the sink identifier
	Name() string
}

// WriteResult reports the outcome of a Write. Backpressure is nil for every
// at-or-under-capacity write; when non-nil, it closes once the flush cycle
// triggered by this write has completed, so callers may optionally wait for
// capacity relief.
type WriteResult struct {
	Backpressure <-chan struct{}
}

// DropFunc receives the records of a batch that was permanently dropped,
// together with the triggering error or status. Delivery is best-effort and
// non-throwing; this callback is the only failure visibility callers get.
type DropFunc func(records [][]byte, cause error)
