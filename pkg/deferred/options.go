package deferred

import (
	"fmt"
	"strings"
	"time"

	"deferkit/internal/eventbus"
	logx "deferkit/pkg/logx"
)

// MissingContextPolicy controls what happens when the Executor reports
// ErrNoContext for a scheduled callback.
type MissingContextPolicy int

const (
	// MissingContextReport skips the callback and reports ErrNoContext.
	MissingContextReport MissingContextPolicy = iota
	// MissingContextIgnore skips the callback silently.
	MissingContextIgnore
	// MissingContextInline runs the callback on the timer goroutine instead.
	MissingContextInline
)

func (p MissingContextPolicy) String() string {
	switch p {
	case MissingContextReport:
		return "report"
	case MissingContextIgnore:
		return "ignore"
	case MissingContextInline:
		return "inline"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParseMissingContextPolicy accepts "report", "ignore" or "inline" (empty means report).
func ParseMissingContextPolicy(raw string) (MissingContextPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "report":
		return MissingContextReport, nil
	case "ignore", "skip":
		return MissingContextIgnore, nil
	case "inline":
		return MissingContextInline, nil
	default:
		return MissingContextReport, fmt.Errorf("unknown missing-context policy %q (use report, ignore or inline)", raw)
	}
}

// ErrorHandler receives callback failures and marshaling failures together
// with the label of the operation that produced them.
type ErrorHandler func(err error, op string)

// Options configures a Scheduler. The zero value is usable.
type Options struct {
	// Executor is the designated context (default InlineExecutor).
	Executor       Executor
	MissingContext MissingContextPolicy

	// OnError replaces the default handler, which logs at error level.
	OnError ErrorHandler
	// ErrorLogRate caps default-handler log lines per second (default 5).
	ErrorLogRate float64

	Logger logx.Logger
	Bus    eventbus.Bus

	// Clock is used by the throttle ledger and recurring triggers (default time.Now).
	Clock func() time.Time
	// Location is the timezone for cron triggers (default time.Local).
	Location *time.Location
}

// CallOption adjusts a single scheduling call.
type CallOption func(*callConfig)

type callConfig struct {
	inline bool
	label  string
}

// Inline runs this callback on the firing goroutine, bypassing the Executor.
func Inline() CallOption { return func(c *callConfig) { c.inline = true } }

// OnContext selects whether the callback is marshaled onto the designated
// context (the default) or run inline.
func OnContext(enabled bool) CallOption { return func(c *callConfig) { c.inline = !enabled } }

// Label names the operation in error reports and events.
func Label(label string) CallOption {
	return func(c *callConfig) { c.label = strings.TrimSpace(label) }
}

func applyCallOptions(opts []CallOption) callConfig {
	var c callConfig
	for _, o := range opts {
		if o != nil {
			o(&c)
		}
	}
	return c
}
