package deferred

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
)

// Kind identifies the discipline that created a handle.
type Kind int

const (
	KindDelay Kind = iota
	KindNamed
	KindDebounce
	KindThrottle
	KindEvery
)

func (k Kind) String() string {
	switch k {
	case KindDelay:
		return "delay"
	case KindNamed:
		return "named"
	case KindDebounce:
		return "debounce"
	case KindThrottle:
		return "throttle"
	case KindEvery:
		return "every"
	default:
		return "unknown"
	}
}

const (
	stateArmed int32 = iota
	stateRunning
	stateCancelled
	stateDone
)

// Handle is the cancellation token of one pending operation.
//
// The timer side claims the handle (armed -> running) right before invoking the
// callback; Cancel competes for the same transition (armed -> cancelled). Exactly
// one of them wins.
type Handle struct {
	id   string
	key  string
	kind Kind

	ctx    context.Context
	cancel context.CancelFunc

	state     atomic.Int32
	requested atomic.Bool
}

func newHandle(parent context.Context, kind Kind, key string) *Handle {
	ctx, cancel := context.WithCancel(parent)
	return &Handle{
		id:     uuid.NewString(),
		key:    key,
		kind:   kind,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (h *Handle) ID() string  { return h.id }
func (h *Handle) Key() string { return h.key }
func (h *Handle) Kind() Kind  { return h.kind }

// Context is cancelled when the handle is cancelled or its operation concludes.
// Async callbacks receive it as their cooperative-cancellation input.
func (h *Handle) Context() context.Context { return h.ctx }

// Done is shorthand for Context().Done().
func (h *Handle) Done() <-chan struct{} { return h.ctx.Done() }

// Cancel requests cancellation. It is idempotent and safe from any goroutine.
//
// It returns true when this call prevented the callback from running, false if
// the callback already started, finished, or an earlier Cancel won.
func (h *Handle) Cancel() bool {
	if h == nil {
		return false
	}
	h.requested.Store(true)
	prevented := h.state.CompareAndSwap(stateArmed, stateCancelled)
	h.cancel()
	return prevented
}

// IsCancelled reports whether Cancel was called. Never flips back to false.
func (h *Handle) IsCancelled() bool {
	if h == nil {
		return false
	}
	return h.requested.Load()
}

func (h *Handle) claim() bool { return h.state.CompareAndSwap(stateArmed, stateRunning) }

// rearm returns a recurring handle to armed after a tick, unless a Cancel
// arrived while the tick was running.
func (h *Handle) rearm() bool {
	if h.requested.Load() {
		return false
	}
	return h.state.CompareAndSwap(stateRunning, stateArmed)
}

// conclude marks the handle finished and releases its context.
func (h *Handle) conclude() {
	h.state.CompareAndSwap(stateRunning, stateDone)
	h.state.CompareAndSwap(stateArmed, stateCancelled)
	h.cancel()
}
