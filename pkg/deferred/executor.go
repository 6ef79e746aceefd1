package deferred

// Executor decides where callbacks run.
//
// RunOn must run fn on the designated context (inline when the caller is
// already on it) and block until fn returned, passing fn's error back.
// If the context cannot be reached it must not run fn and should return an
// error wrapping ErrNoContext.
type Executor interface {
	RunOn(fn func() error) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(fn func() error) error

func (f ExecutorFunc) RunOn(fn func() error) error { return f(fn) }

type inlineExecutor struct{}

func (inlineExecutor) RunOn(fn func() error) error { return fn() }

// InlineExecutor runs callbacks on whichever goroutine fires them.
var InlineExecutor Executor = inlineExecutor{}
