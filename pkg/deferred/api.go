package deferred

import (
	"context"
	"strings"
	"time"
)

// Delay runs fn once delay has elapsed, replacing (and cancelling) any
// single-slot operation still pending. Rapid calls leave exactly the last
// one to run. A zero delay still runs fn asynchronously.
//
// Failures of fn go to the error handler; the returned error only covers
// invalid arguments and a closed scheduler.
func (s *Scheduler) Delay(fn func() error, delay time.Duration, opts ...CallOption) error {
	if fn == nil {
		return ErrNilCallback
	}
	_, err := s.arm(job{kind: KindDelay, reg: s.slot, regKey: slotKey, delay: delay, sync: fn, cfg: applyCallOptions(opts)})
	return err
}

// DelayAsync is Delay for callbacks that observe cancellation themselves.
// It shares the single slot with Delay. fn receives a context that is
// cancelled when the operation is superseded, cancelled, or the scheduler
// closes; a fn that ignores it simply runs to completion.
func (s *Scheduler) DelayAsync(fn func(ctx context.Context) error, delay time.Duration, opts ...CallOption) (*Pending, error) {
	if fn == nil {
		return nil, ErrNilCallback
	}
	return s.arm(job{kind: KindDelay, reg: s.slot, regKey: slotKey, delay: delay, async: fn, cfg: applyCallOptions(opts)})
}

// CancelDelay cancels the pending single-slot operation, if any.
func (s *Scheduler) CancelDelay() bool { return s.slot.cancel(slotKey) }

// DelayNamed is Delay scoped to key. Distinct keys never interfere.
func (s *Scheduler) DelayNamed(key string, fn func() error, delay time.Duration, opts ...CallOption) (*Pending, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, ErrNilCallback
	}
	return s.arm(job{kind: KindNamed, key: key, reg: s.named, regKey: key, delay: delay, sync: fn, cfg: applyCallOptions(opts)})
}

// DelayNamedAsync is DelayNamed with a cancellation-aware callback.
func (s *Scheduler) DelayNamedAsync(key string, fn func(ctx context.Context) error, delay time.Duration, opts ...CallOption) (*Pending, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, ErrNilCallback
	}
	return s.arm(job{kind: KindNamed, key: key, reg: s.named, regKey: key, delay: delay, async: fn, cfg: applyCallOptions(opts)})
}

// CancelNamed removes the entry for key and reports whether that prevented
// its callback from running. It returns false when nothing is pending or the
// callback already fired.
func (s *Scheduler) CancelNamed(key string) bool { return s.named.cancel(key) }

// CancelAllNamed cancels every named entry (including recurring triggers).
func (s *Scheduler) CancelAllNamed() int { return s.named.cancelAll() }

// Debounce collapses bursts: each call restarts the delay for key and only
// the last call of a quiet period runs. Debounce keys live in their own
// namespace and never collide with DelayNamed keys.
func (s *Scheduler) Debounce(key string, fn func() error, delay time.Duration, opts ...CallOption) (*Pending, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, ErrNilCallback
	}
	return s.arm(job{kind: KindDebounce, key: key, reg: s.debounce, regKey: key, delay: delay, sync: fn, cfg: applyCallOptions(opts)})
}

// DebounceAsync is Debounce with a cancellation-aware callback.
func (s *Scheduler) DebounceAsync(key string, fn func(ctx context.Context) error, delay time.Duration, opts ...CallOption) (*Pending, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, ErrNilCallback
	}
	return s.arm(job{kind: KindDebounce, key: key, reg: s.debounce, regKey: key, delay: delay, async: fn, cfg: applyCallOptions(opts)})
}

func (s *Scheduler) CancelDebounce(key string) bool { return s.debounce.cancel(key) }

// Throttle is a synchronous lead-edge gate. The first call for key runs fn
// immediately and returns true; calls within interval of the last accepted
// one return false without running fn. interval <= 0 accepts every call.
//
// The error carries fn's failure (wrapped in *CallbackError) or a marshaling
// failure; unlike the timer-based disciplines nothing is sent to the error
// handler because the caller receives it directly.
func (s *Scheduler) Throttle(key string, fn func() error, interval time.Duration, opts ...CallOption) (bool, error) {
	if err := validKey(key); err != nil {
		return false, err
	}
	if fn == nil {
		return false, ErrNilCallback
	}
	s.life.RLock()
	closed := s.closed
	s.life.RUnlock()
	if closed {
		return false, ErrClosed
	}

	cfg := applyCallOptions(opts)
	label := cfg.label
	if label == "" {
		label = KindThrottle.String() + ":" + key
	}

	ok, wait, st := s.ledger.tryAcquire(key, interval)
	if !ok {
		s.throttled.Add(1)
		s.publish(EventThrottled, OpEvent{Kind: KindThrottle.String(), Key: key, Op: label, Delay: wait, Error: ErrThrottled.Error()})
		return false, nil
	}

	ran, err := s.invoke(cfg, fn)
	if !ran {
		// Nothing executed; give the window back unless someone else took it since.
		s.ledger.release(key, st)
		return false, err
	}
	if err != nil {
		s.faulted.Add(1)
		return true, &CallbackError{Op: label, Key: key, Err: err}
	}
	s.fired.Add(1)
	return true, nil
}

// ResetThrottle forgets key so the next Throttle call runs immediately.
func (s *Scheduler) ResetThrottle(key string) bool { return s.ledger.reset(key) }

// Every registers a recurring trigger under key in the named namespace.
// schedule accepts the forms documented on ParseSchedule. Re-registering a
// key replaces the previous trigger; CancelNamed(key) stops it. The returned
// Pending concludes (Cancelled) once the trigger is stopped.
func (s *Scheduler) Every(key, schedule string, fn func() error, opts ...CallOption) (*Pending, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, ErrNilCallback
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return nil, err
	}
	sched, err := ps.Schedule()
	if err != nil {
		return nil, err
	}
	return s.arm(job{kind: KindEvery, key: key, reg: s.named, regKey: key, next: sched, sync: fn, cfg: applyCallOptions(opts)})
}

func validKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	return nil
}
