package buffer

import (
	"context"
	"sync"
)

// cycle is one in-flight drain-and-deliver operation. Its done channel is
// closed once the cycle, including any extra requested passes, completes.
type cycle struct {
	done chan struct{}
	err  error
}

// Coordinator guarantees at most one flush cycle runs at a time for a sink
// instance. Concurrent Flush callers all resolve together when the running
// cycle finishes; writes arriving mid-cycle request another pass so no
// record is stranded until the next timer tick.
type Coordinator struct {
	mu    sync.Mutex
	cur   *cycle
	again bool
	pass  func(ctx context.Context) error
}

// NewCoordinator creates a coordinator around a single drain pass. The pass
// function drains the buffer and delivers every batch; it is never invoked
// concurrently with itself.
func NewCoordinator(pass func(ctx context.Context) error) *Coordinator {
	return &Coordinator{pass: pass}
}

// Flush runs a flush cycle, or joins the one already running. It returns
// once the cycle and all passes requested during it have completed.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.cur != nil {
		cy := c.cur
		c.again = true
		c.mu.Unlock()
		select {
		case <-cy.done:
			return cy.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	cy := &cycle{done: make(chan struct{})}
	c.cur = cy
	c.mu.Unlock()

	c.run(ctx, cy)
	return cy.err
}

// FlushAsync starts a flush cycle without waiting for it, or marks another
// pass on the running one. The returned channel closes when the cycle
// completes; over-capacity writers may wait on it for backpressure relief.
func (c *Coordinator) FlushAsync(ctx context.Context) <-chan struct{} {
	c.mu.Lock()
	if c.cur != nil {
		cy := c.cur
		c.again = true
		c.mu.Unlock()
		return cy.done
	}
	cy := &cycle{done: make(chan struct{})}
	c.cur = cy
	c.mu.Unlock()

	go c.run(ctx, cy)
	return cy.done
}

// RequestPass marks that a new pass is wanted if a cycle is in flight,
// guaranteeing a record written during delivery is picked up before the
// cycle releases. Returns whether a cycle was running.
func (c *Coordinator) RequestPass() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return false
	}
	c.again = true
	return true
}

func (c *Coordinator) run(ctx context.Context, cy *cycle) {
	for {
		err := c.pass(ctx)

		c.mu.Lock()
		if err == nil && c.again {
			c.again = false
			c.mu.Unlock()
			continue
		}
		c.again = false
		c.cur = nil
		cy.err = err
		close(cy.done)
		c.mu.Unlock()
		return
	}
}
