// Package loop provides a single-goroutine execution context.
//
// A Loop owns one goroutine that runs submitted functions in FIFO order.
// Code that owns shared state (a UI surface, a connection, a cache that is
// not safe for concurrent use) runs on the loop and everybody else marshals
// onto it with RunOn or Post. Loop implements deferred.Executor.
package loop

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	rtsup "deferkit/internal/runtime/supervisor"
	"deferkit/pkg/deferred"
	logx "deferkit/pkg/logx"
)

var (
	ErrAlreadyRunning = errors.New("loop: already running")
	// ErrNotRunning and ErrStopped wrap deferred.ErrNoContext so the scheduler
	// applies its missing-context policy.
	ErrNotRunning = fmt.Errorf("loop: not running: %w", deferred.ErrNoContext)
	ErrStopped    = fmt.Errorf("loop: stopped: %w", deferred.ErrNoContext)
)

const (
	stateIdle int32 = iota
	stateRunning
	stateStopped
)

type task struct {
	fn   func() error
	done chan error // nil for Post
}

type Loop struct {
	log logx.Logger

	mu    sync.Mutex
	q     *queue.Queue // of task; guarded by mu
	state atomic.Int32

	wake chan struct{}
	gid  atomic.Uint64

	sup *rtsup.Supervisor

	executed atomic.Uint64
	panics   atomic.Uint64
}

func New(log logx.Logger) *Loop {
	return &Loop{
		log:  log.With(logx.String("comp", "loop")),
		q:    queue.New(),
		wake: make(chan struct{}, 1),
	}
}

// Start launches the loop goroutine. The loop stops when ctx is done or Stop is called.
// A stopped loop cannot be restarted.
func (l *Loop) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	l.mu.Lock()
	switch l.state.Load() {
	case stateRunning:
		l.mu.Unlock()
		return ErrAlreadyRunning
	case stateStopped:
		l.mu.Unlock()
		return ErrStopped
	}
	l.state.Store(stateRunning)
	l.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(l.log))
	sup := l.sup
	l.mu.Unlock()

	sup.Go0("loop", l.run)
	l.log.Debug("loop started")
	return nil
}

// Stop terminates the loop and waits (bounded by ctx) for the current task.
// Tasks still queued are failed with ErrStopped and never run.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	sup := l.sup
	if sup == nil {
		l.state.Store(stateStopped)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	return sup.Stop(ctx)
}

// Running reports whether the loop accepts work.
func (l *Loop) Running() bool { return l.state.Load() == stateRunning }

// InLoop reports whether the caller is the loop goroutine.
func (l *Loop) InLoop() bool {
	id := l.gid.Load()
	return id != 0 && id == goroutineID()
}

// Len returns the number of queued tasks.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.q.Length()
}

// Executed returns how many tasks the loop ran.
func (l *Loop) Executed() uint64 { return l.executed.Load() }

// RunOn runs fn on the loop and waits for it. Called from the loop itself it
// runs fn inline. A panic in fn comes back as *deferred.PanicError.
func (l *Loop) RunOn(fn func() error) error {
	if fn == nil {
		return deferred.ErrNilCallback
	}
	if l.InLoop() {
		return l.safe(fn)
	}
	done := make(chan error, 1)
	if err := l.enqueue(task{fn: fn, done: done}); err != nil {
		return err
	}
	return <-done
}

// Post queues fn without waiting. Errors and panics from fn are only logged.
func (l *Loop) Post(fn func()) error {
	if fn == nil {
		return deferred.ErrNilCallback
	}
	return l.enqueue(task{fn: func() error { fn(); return nil }})
}

func (l *Loop) enqueue(t task) error {
	l.mu.Lock()
	switch l.state.Load() {
	case stateIdle:
		l.mu.Unlock()
		return ErrNotRunning
	case stateStopped:
		l.mu.Unlock()
		return ErrStopped
	}
	l.q.Add(t)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

func (l *Loop) run(ctx context.Context) {
	l.gid.Store(goroutineID())
	defer l.gid.Store(0)
	defer l.shutdown()

	batch := make([]task, 0, 64)
	for {
		batch = l.drain(batch[:0])
		for i, t := range batch {
			if ctx.Err() != nil {
				l.fail(batch[i:])
				return
			}
			l.exec(t)
			batch[i] = task{}
		}
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
	}
}

func (l *Loop) drain(dst []task) []task {
	l.mu.Lock()
	for l.q.Length() > 0 {
		dst = append(dst, l.q.Remove().(task))
	}
	l.mu.Unlock()
	return dst
}

func (l *Loop) exec(t task) {
	err := l.safe(t.fn)
	l.executed.Add(1)
	if t.done != nil {
		t.done <- err
		return
	}
	if err != nil {
		l.log.Warn("posted task failed", logx.Err(err))
	}
}

// shutdown flips the loop to stopped and fails whatever is still queued.
func (l *Loop) shutdown() {
	l.mu.Lock()
	l.state.Store(stateStopped)
	rest := make([]task, 0, l.q.Length())
	for l.q.Length() > 0 {
		rest = append(rest, l.q.Remove().(task))
	}
	l.mu.Unlock()
	l.fail(rest)
	l.log.Debug("loop stopped", logx.Uint64("executed", l.executed.Load()))
}

func (l *Loop) fail(ts []task) {
	for _, t := range ts {
		if t.done != nil {
			t.done <- ErrStopped
		}
	}
}

func (l *Loop) safe(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(1)
			err = &deferred.PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return fn()
}

// goroutineID parses the current goroutine id from the runtime stack header.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
