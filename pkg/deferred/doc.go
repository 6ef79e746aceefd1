// Package deferred coordinates delayed callbacks.
//
// A Scheduler runs a unit of work after a delay and collapses repeated
// requests for the same logical operation so that only the intended
// invocation executes:
//   - Delay / DelayAsync: one slot per Scheduler, the last call wins
//   - DelayNamed: one pending operation per key, the last call wins
//   - Debounce: like DelayNamed over an isolated key namespace
//   - Throttle: synchronous lead-edge gate, one accepted call per interval
//   - Every: recurring trigger (cron or interval) registered under a key
//
// Every pending operation owns a Handle. Cancelling a handle before its delay
// elapses guarantees the callback never runs; cancelling it afterwards only
// signals the context handed to async callbacks.
//
// Callbacks run on the configured Executor (for example a single-threaded
// loop owning UI state) unless Inline() is passed. Callback errors and panics
// never escape into the timer goroutines: they are reported through
// Options.OnError and, for the awaitable variants, through Pending.
package deferred
