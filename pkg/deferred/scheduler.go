package deferred

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"deferkit/internal/eventbus"
	rtsup "deferkit/internal/runtime/supervisor"
	logx "deferkit/pkg/logx"
)

const slotKey = "\x00slot"

// Scheduler owns all coordination state. Independent schedulers never interfere.
type Scheduler struct {
	log     logx.Logger
	bus     eventbus.Bus
	exec    Executor
	policy  MissingContextPolicy
	onError ErrorHandler
	now     func() time.Time
	loc     *time.Location

	// life guards closed; arm holds it shared while starting a timer goroutine
	// so Close never waits on a supervisor that is still growing.
	life   sync.RWMutex
	closed bool
	sup    *rtsup.Supervisor

	slot     *registry
	named    *registry
	debounce *registry
	ledger   *ledger

	pending    atomic.Int64
	fired      atomic.Uint64
	cancelled  atomic.Uint64
	faulted    atomic.Uint64
	throttled  atomic.Uint64
	suppressed atomic.Uint64

	errLimiter *rate.Limiter
}

// Snapshot is a point-in-time diagnostics view.
type Snapshot struct {
	Closed       bool
	Pending      int
	SlotActive   bool
	NamedKeys    []string
	DebounceKeys []string
	ThrottleKeys int

	Fired      uint64
	Cancelled  uint64
	Faulted    uint64
	Throttled  uint64
	Suppressed uint64 // error log lines dropped by the rate limiter

	Goroutines rtsup.SupervisorCounters
	// Timers holds per-discipline timer goroutine stats, busiest first.
	Timers     []rtsup.GoroutineStats
}

// job is one armed operation.
type job struct {
	kind   Kind
	key    string
	reg    *registry
	regKey string
	delay  time.Duration
	next   cron.Schedule // recurring when non-nil

	sync  func() error
	async func(ctx context.Context) error
	cfg   callConfig
}

func (j job) label() string {
	if j.cfg.label != "" {
		return j.cfg.label
	}
	if j.key == "" {
		return j.kind.String()
	}
	return j.kind.String() + ":" + j.key
}

func New(opts Options) *Scheduler {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	exec := opts.Executor
	if exec == nil {
		exec = InlineExecutor
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	perSec := opts.ErrorLogRate
	if perSec <= 0 {
		perSec = 5
	}
	log := opts.Logger.With(logx.String("comp", "deferred"))
	s := &Scheduler{
		log:        log,
		bus:        opts.Bus,
		exec:       exec,
		policy:     opts.MissingContext,
		onError:    opts.OnError,
		now:        now,
		loc:        loc,
		slot:       newRegistry("slot"),
		named:      newRegistry("named"),
		debounce:   newRegistry("debounce"),
		ledger:     newLedger(now),
		errLimiter: rate.NewLimiter(rate.Limit(perSec), int(perSec)+1),
	}
	s.sup = rtsup.NewSupervisor(context.Background(),
		rtsup.WithLogger(log),
		rtsup.WithCancelOnError(false),
	)
	return s
}

// PendingOperationsCount returns scheduled operations that are armed or running.
func (s *Scheduler) PendingOperationsCount() int { return int(s.pending.Load()) }

func (s *Scheduler) Snapshot() Snapshot {
	s.life.RLock()
	closed := s.closed
	s.life.RUnlock()
	return Snapshot{
		Closed:       closed,
		Pending:      s.PendingOperationsCount(),
		SlotActive:   s.slot.len() > 0,
		NamedKeys:    s.named.keys(),
		DebounceKeys: s.debounce.keys(),
		ThrottleKeys: s.ledger.len(),
		Fired:        s.fired.Load(),
		Cancelled:    s.cancelled.Load(),
		Faulted:      s.faulted.Load(),
		Throttled:    s.throttled.Load(),
		Suppressed:   s.suppressed.Load(),
		Goroutines:   s.sup.Counters(),
		Timers:       s.sup.Stats(),
	}
}

// CancelAllOperations cancels every live entry (single slot, named keys,
// debounce keys and recurring triggers) and returns how many it cancelled.
// The scheduler stays usable.
func (s *Scheduler) CancelAllOperations() int {
	n := s.slot.cancelAll() + s.named.cancelAll() + s.debounce.cancelAll()
	if n > 0 {
		s.log.Debug("cancelled all operations", logx.Int("count", n))
	}
	return n
}

// Close cancels everything, rejects further scheduling with ErrClosed and
// waits (bounded by ctx) for every timer goroutine to exit. Throttle ledger
// entries are dropped. Close is idempotent.
func (s *Scheduler) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.life.Lock()
	already := s.closed
	s.closed = true
	s.life.Unlock()

	if !already {
		n := s.CancelAllOperations()
		s.ledger.resetAll()
		s.sup.Cancel()
		s.log.Debug("scheduler closing", logx.Int("cancelled", n))
	}
	if err := s.sup.Wait(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			s.log.Warn("scheduler close timed out", logx.Int("pending", s.PendingOperationsCount()), logx.Err(err))
		}
		return err
	}
	return nil
}

func (s *Scheduler) arm(j job) (*Pending, error) {
	if j.sync == nil && j.async == nil {
		return nil, ErrNilCallback
	}
	if j.delay < 0 {
		j.delay = 0
	}

	s.life.RLock()
	defer s.life.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	h := newHandle(s.sup.Context(), j.kind, j.key)
	p := newPending(h)
	s.pending.Add(1)

	if prev := j.reg.replace(j.regKey, h); prev != nil {
		s.publish(EventSuperseded, handleEvent(prev, j.label(), 0))
		s.log.Debug("operation superseded", logx.String("op", j.label()), logx.String("prev", prev.ID()), logx.String("id", h.ID()))
	}
	s.publish(EventArmed, handleEvent(h, j.label(), j.delay))

	s.sup.Go(j.kind.String(), func(ctx context.Context) error {
		s.run(j, h, p)
		return nil
	})
	return p, nil
}

// run waits out the delay (or each recurring tick) and resolves the operation.
func (s *Scheduler) run(j job, h *Handle, p *Pending) {
	for {
		t := time.NewTimer(s.delayFor(j))
		select {
		case <-h.Done():
			t.Stop()
			s.finish(j, h, p, Cancelled, nil)
			return
		case <-t.C:
		}

		if !h.claim() {
			s.finish(j, h, p, Cancelled, nil)
			return
		}
		outcome, err := s.execute(j, h)

		if j.next == nil {
			s.finish(j, h, p, outcome, err)
			return
		}
		s.count(outcome)
		if !h.rearm() {
			s.finish(j, h, p, Cancelled, nil)
			return
		}
	}
}

func (s *Scheduler) delayFor(j job) time.Duration {
	if j.next == nil {
		return j.delay
	}
	now := s.now()
	d := j.next.Next(now.In(s.loc)).Sub(now)
	if d < 0 {
		d = 0
	}
	return d
}

func (s *Scheduler) finish(j job, h *Handle, p *Pending, o Outcome, err error) {
	j.reg.release(j.regKey, h)
	h.conclude()
	s.pending.Add(-1)
	s.count(o)

	ev := handleEvent(h, j.label(), 0)
	switch o {
	case Fired:
		s.publish(EventFired, ev)
	case Faulted:
		if err != nil {
			ev.Error = err.Error()
		}
		s.publish(EventFaulted, ev)
	default:
		s.publish(EventCancelled, ev)
	}
	p.finish(o, err)
}

func (s *Scheduler) count(o Outcome) {
	switch o {
	case Fired:
		s.fired.Add(1)
	case Faulted:
		s.faulted.Add(1)
	case Cancelled:
		s.cancelled.Add(1)
	}
}

// execute invokes the job callback and classifies the result.
// Faults are reported here so recurring ticks report each failure.
func (s *Scheduler) execute(j job, h *Handle) (Outcome, error) {
	call := j.sync
	if j.async != nil {
		call = func() error { return j.async(h.Context()) }
	}

	ran, err := s.invoke(j.cfg, call)
	switch {
	case ran && err == nil:
		return Fired, nil
	case ran:
		if j.async != nil && h.IsCancelled() && errors.Is(err, context.Canceled) {
			return Cancelled, nil
		}
		err = &CallbackError{Op: j.label(), Key: j.key, Err: err}
	case err == nil:
		return Cancelled, nil
	}
	s.report(err, j.label())
	return Faulted, err
}

// invoke runs call behind a panic boundary, on the executor unless inline.
// ran is false when the executor could not reach its context.
func (s *Scheduler) invoke(cfg callConfig, call func() error) (ran bool, err error) {
	safe := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Value: r, Stack: string(debug.Stack())}
			}
		}()
		return call()
	}

	if cfg.inline {
		return true, safe()
	}

	var entered atomic.Bool
	err = s.exec.RunOn(func() error {
		entered.Store(true)
		return safe()
	})
	if entered.Load() {
		return true, err
	}
	if err == nil {
		return false, nil
	}
	if errors.Is(err, ErrNoContext) {
		switch s.policy {
		case MissingContextInline:
			return true, safe()
		case MissingContextIgnore:
			return false, nil
		}
		return false, err
	}
	return false, fmt.Errorf("marshal onto designated context: %w", err)
}

func (s *Scheduler) report(err error, op string) {
	if err == nil {
		return
	}
	if s.onError != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("error handler panicked", logx.String("op", op), logx.Any("panic", r))
				}
			}()
			s.onError(err, op)
		}()
		return
	}
	if !s.errLimiter.Allow() {
		s.suppressed.Add(1)
		return
	}
	fields := []logx.Field{logx.String("op", op), logx.Err(err)}
	var pe *PanicError
	if errors.As(err, &pe) {
		fields = append(fields, logx.Stack(pe.Stack))
	}
	s.log.Error("deferred operation failed", fields...)
}
