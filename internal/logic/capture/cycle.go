package capture

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Cycle is one capture, submission and render pass.
type Cycle struct {
	ID        string
	StartedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	outcome Outcome
	result  Result
}

func newCycle(parent context.Context) *Cycle {
	ctx, cancel := context.WithCancel(parent)
	return &Cycle{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Done is closed when the cycle has an outcome.
func (c *Cycle) Done() <-chan struct{} {
	return c.done
}

// Outcome returns how the cycle ended, or OutcomePending.
func (c *Cycle) Outcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// Result returns what the cycle rendered. It is empty for a superseded cycle.
func (c *Cycle) Result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Wait blocks until the cycle ends or ctx is done.
func (c *Cycle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-c.done:
		return c.Outcome(), nil
	case <-ctx.Done():
		return OutcomePending, ctx.Err()
	}
}

// supersede cancels the cycle's in-flight work. The session stops treating
// it as current, so its outcome is never rendered.
func (c *Cycle) supersede() {
	c.cancel()
}

func (c *Cycle) complete(o Outcome, r Result) {
	c.mu.Lock()
	if c.outcome != OutcomePending {
		c.mu.Unlock()
		return
	}
	c.outcome = o
	c.result = r
	c.mu.Unlock()
	c.cancel()
	close(c.done)
}
