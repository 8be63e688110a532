package sink

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaykit/relay/pkg/buffer"
	"github.com/relaykit/relay/pkg/events"
	log "github.com/sirupsen/logrus"
)

// bufferedCore is the write path shared by every buffered sink: serialize
// once at write time, enqueue under the overflow policy, funnel batch-size,
// capacity, timer and manual flushes through one single-flight coordinator,
// and freeze writes permanently on close.
type bufferedCore struct {
	name      string
	buf       *buffer.Buffer
	coord     *buffer.Coordinator
	batchSize int
	logger    *log.Logger

	stopTicker chan struct{}
	tickerDone chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newBufferedCore(name string, capacity, batchSize int, policy buffer.OverflowPolicy, interval time.Duration, pass func(ctx context.Context) error, logger *log.Logger) *bufferedCore {
	c := &bufferedCore{
		name:       name,
		buf:        buffer.New(capacity, policy),
		coord:      buffer.NewCoordinator(pass),
		batchSize:  batchSize,
		logger:     logger,
		stopTicker: make(chan struct{}),
		tickerDone: make(chan struct{}),
	}
	go c.tickLoop(interval)
	return c
}

func (c *bufferedCore) tickLoop(interval time.Duration) {
	defer close(c.tickerDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopTicker:
			return
		case <-ticker.C:
			if err := c.coord.Flush(context.Background()); err != nil {
				c.logger.Debugf("[%s] periodic flush error: %v", c.name, err)
			}
		}
	}
}

func (c *bufferedCore) write(event events.Event) (WriteResult, error) {
	if c.closed.Load() {
		return WriteResult{}, nil
	}

	data, err := events.Encode(event)
	if err != nil {
		return WriteResult{}, err
	}

	outcome, err := c.buf.Enqueue(event.SessionID(), data)
	if err != nil {
		return WriteResult{}, err
	}

	if outcome == buffer.AcceptedNeedsFlush {
		// Over capacity under auto-flush: start (or join) a cycle and hand
		// the caller its completion so it may wait for backpressure relief.
		return WriteResult{Backpressure: c.coord.FlushAsync(context.Background())}, nil
	}

	if outcome == buffer.AcceptedDroppedOldest {
		c.logger.Debugf("[%s] buffer full, evicted oldest record", c.name)
	}

	// A write landing while a cycle is in flight must not be stranded until
	// the next timer tick.
	c.coord.RequestPass()

	if c.buf.Len() >= c.batchSize {
		c.coord.FlushAsync(context.Background())
	}
	return WriteResult{}, nil
}

func (c *bufferedCore) flush(ctx context.Context) error {
	return c.coord.Flush(ctx)
}

// close freezes writes, disarms the periodic trigger, and runs one final
// guaranteed drain. Subsequent calls are no-ops that return the first
// drain's result.
func (c *bufferedCore) close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stopTicker)
		<-c.tickerDone
		c.closeErr = c.coord.Flush(ctx)
	})
	return c.closeErr
}
