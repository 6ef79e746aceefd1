package deferred

import (
	"errors"
	"fmt"
)

var (
	ErrNilCallback = errors.New("deferred: callback is nil")
	ErrEmptyKey    = errors.New("deferred: key is required")
	ErrClosed      = errors.New("deferred: scheduler closed")
	// ErrNoContext is returned (or wrapped) by an Executor that cannot reach
	// its designated context, e.g. during shutdown.
	ErrNoContext = errors.New("deferred: designated context unavailable")
	// ErrThrottled is only used in events; Throttle reports rejection via its bool result.
	ErrThrottled = errors.New("deferred: throttled")
)

// CallbackError wraps a failure raised by a scheduled callback.
type CallbackError struct {
	Op  string
	Key string
	Err error
}

func (e *CallbackError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("deferred %s (key=%s): %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("deferred %s: %v", e.Op, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }

// PanicError is produced when a callback panics.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// IsPanic reports whether err carries a recovered panic.
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}
