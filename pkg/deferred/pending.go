package deferred

import (
	"context"
	"sync"
)

// Outcome is how a scheduled operation concluded.
type Outcome int

const (
	Waiting Outcome = iota
	Fired
	Cancelled
	Faulted
)

func (o Outcome) String() string {
	switch o {
	case Waiting:
		return "waiting"
	case Fired:
		return "fired"
	case Cancelled:
		return "cancelled"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Pending is the awaitable side of a scheduled operation.
// Ignoring it is fine; nothing blocks on a Pending nobody waits for.
type Pending struct {
	h    *Handle
	done chan struct{}

	once    sync.Once
	mu      sync.Mutex
	outcome Outcome
	err     error
}

func newPending(h *Handle) *Pending {
	return &Pending{h: h, done: make(chan struct{})}
}

func (p *Pending) Handle() *Handle { return p.h }

// Cancel is shorthand for Handle().Cancel().
func (p *Pending) Cancel() bool { return p.h.Cancel() }

// Done is closed once the operation fired, was cancelled or faulted.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the operation concludes or ctx is done.
// The error is the callback failure for Faulted outcomes, or ctx.Err().
func (p *Pending) Wait(ctx context.Context) (Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-p.done:
		return p.Outcome(), p.Err()
	case <-ctx.Done():
		return Waiting, ctx.Err()
	}
}

func (p *Pending) Outcome() Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outcome
}

func (p *Pending) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pending) finish(o Outcome, err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.outcome = o
		p.err = err
		p.mu.Unlock()
		close(p.done)
	})
}
