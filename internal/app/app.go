package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"deferkit/internal/config"
	"deferkit/internal/eventbus"
	"deferkit/internal/observability/debug"
	rtsup "deferkit/internal/runtime/supervisor"
	"deferkit/pkg/deferred"
	logx "deferkit/pkg/logx"
	"deferkit/pkg/loop"
)

const (
	keySearch    = "search"
	keyEcho      = "echo"
	keyAutosave  = "autosave"
	keyHeartbeat = "heartbeat"
)

// App wires config, logging, the loop and the scheduler for deferdemo.
//
// Output written by callbacks is owned by the loop (when enabled): every
// write to out happens on the loop goroutine.
type App struct {
	cfgPath string
	cfgm    *config.ConfigManager

	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus

	loop  *loop.Loop
	sched *deferred.Scheduler
	sup   *rtsup.Supervisor
	debug *debug.Server

	out io.Writer

	mu   sync.Mutex
	cfg  *config.Config
	demo config.Demo

	saved     atomic.Int64
	saveDelay time.Duration
}

// DefaultConfig is used when no config file is given.
func DefaultConfig() *config.Config {
	return &config.Config{
		Logging: config.LoggingConfig{Level: "info", Console: true},
		Loop:    config.LoopConfig{Enabled: true},
	}
}

func NewApp(cfgPath string, out io.Writer) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg := DefaultConfig()
	if strings.TrimSpace(cfgPath) != "" {
		loaded, err := cfgm.Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfgm.Commit(cfg)
	}

	demo, err := cfg.DemoSettings()
	if err != nil {
		return nil, err
	}
	opts, err := cfg.SchedulerOptions()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(cfg.LogConfig())
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	bus := eventbus.New()

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		bus:     bus,
		out:     out,
		cfg:     cfg,
		demo:    demo,

		saveDelay: 50 * time.Millisecond,
	}

	opts.Logger = log
	opts.Bus = bus
	if cfg.Loop.Enabled {
		a.loop = loop.New(log)
		opts.Executor = a.loop
	}
	a.sched = deferred.New(opts)
	a.debug = debug.New(cfg.DebugServerConfig(), log, func() any { return a.sched.Snapshot() })
	return a, nil
}

func (a *App) Scheduler() *deferred.Scheduler { return a.sched }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "app"))))

	if a.loop != nil {
		if err := a.loop.Start(a.sup.Context()); err != nil {
			return fmt.Errorf("loop start: %w", err)
		}
	}

	events, unsub := a.bus.SubscribePrefix(64, "deferred.")
	a.sup.Go0("events", func(ctx context.Context) {
		defer unsub()
		a.logEvents(ctx, events)
	})

	if strings.TrimSpace(a.cfgPath) != "" {
		a.cfgm.SetDebouncer(a.sched, 0)
		updates := a.cfgm.Subscribe(1)
		a.sup.Go("config.watch", a.cfgm.Watch)
		a.sup.Go0("config.apply", func(ctx context.Context) {
			defer a.cfgm.Unsubscribe(updates)
			a.applyUpdates(ctx, updates)
		})
	}

	if err := a.armHeartbeat(a.demoSettings().Heartbeat); err != nil {
		return err
	}
	if err := a.debug.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("debug server: %w", err)
	}

	a.log.Info("deferdemo started", logx.Bool("loop", a.loop != nil), logx.String("config", a.cfgPath))
	return nil
}

func (a *App) demoSettings() config.Demo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.demo
}

// HandleLine feeds one input line through every discipline:
//   - search is debounced (only the last line of a burst is printed)
//   - echo is throttled (the first line of each window is printed)
//   - autosave is a named async delay that observes cancellation; it runs
//     off the loop and only marshals its output onto it
//   - idle is the single-slot delay, printed once input goes quiet
//
// Lines starting with ':' are commands (:stats, :cancel, :reset).
func (a *App) HandleLine(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if strings.HasPrefix(line, ":") {
		return a.command(line)
	}
	demo := a.demoSettings()

	if _, err := a.sched.Debounce(keySearch, func() error {
		return a.printf("search: %q\n", line)
	}, demo.DebounceDelay); err != nil {
		return err
	}

	if ok, err := a.sched.Throttle(keyEcho, func() error {
		return a.printf("echo: %s\n", line)
	}, demo.ThrottleInterval); err != nil {
		return err
	} else if !ok {
		a.log.Debug("echo throttled", logx.String("line", line))
	}

	if _, err := a.sched.DelayNamedAsync(keyAutosave, func(ctx context.Context) error {
		return a.autosave(ctx, line)
	}, 2*demo.DebounceDelay, deferred.Inline()); err != nil {
		return err
	}

	return a.sched.Delay(func() error {
		return a.printf("idle\n")
	}, 4*demo.DebounceDelay)
}

func (a *App) autosave(ctx context.Context, line string) error {
	// Simulated slow write that gives up when superseded.
	t := time.NewTimer(a.saveDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	n := a.saved.Add(1)
	return a.printSync("saved #%d: %q\n", n, line)
}

func (a *App) command(line string) error {
	switch strings.ToLower(strings.Fields(line)[0]) {
	case ":stats":
		snap := a.sched.Snapshot()
		return a.printSync("pending=%d fired=%d cancelled=%d faulted=%d throttled=%d named=%v debounce=%v\n",
			snap.Pending, snap.Fired, snap.Cancelled, snap.Faulted, snap.Throttled, snap.NamedKeys, snap.DebounceKeys)
	case ":cancel":
		n := a.sched.CancelAllOperations()
		return a.printSync("cancelled %d\n", n)
	case ":reset":
		a.sched.ResetThrottle(keyEcho)
		return a.printSync("throttle reset\n")
	default:
		return a.printSync("unknown command %s\n", line)
	}
}

// printf writes from inside a callback, which already runs on the loop.
func (a *App) printf(format string, args ...any) error {
	_, err := fmt.Fprintf(a.out, format, args...)
	return err
}

// printSync writes from the input goroutine by marshaling onto the loop.
func (a *App) printSync(format string, args ...any) error {
	if a.loop == nil {
		return a.printf(format, args...)
	}
	return a.loop.RunOn(func() error { return a.printf(format, args...) })
}

func (a *App) armHeartbeat(schedule string) error {
	if schedule == "" {
		a.sched.CancelNamed(keyHeartbeat)
		return nil
	}
	_, err := a.sched.Every(keyHeartbeat, schedule, func() error {
		snap := a.sched.Snapshot()
		return a.printf("heartbeat: pending=%d fired=%d\n", snap.Pending, snap.Fired)
	})
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

func (a *App) logEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			op, _ := ev.Data.(deferred.OpEvent)
			a.log.Trace("deferred event", logx.String("type", ev.Type), logx.String("op", op.Op), logx.String("id", op.ID))
		}
	}
}

func (a *App) applyUpdates(ctx context.Context, updates <-chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			a.apply(cfg)
		}
	}
}

func (a *App) apply(cfg *config.Config) {
	demo, err := cfg.DemoSettings()
	if err != nil {
		a.log.Warn("config update ignored", logx.Err(err))
		return
	}

	a.mu.Lock()
	prev := a.cfg
	a.cfg = cfg
	a.demo = demo
	a.mu.Unlock()

	changed := config.ChangedSections(prev, cfg)
	for _, section := range changed {
		switch section {
		case "logging":
			a.logs.Apply(cfg.LogConfig())
		case "demo":
			if prev == nil || strings.TrimSpace(prev.Demo.Heartbeat) != demo.Heartbeat {
				if err := a.armHeartbeat(demo.Heartbeat); err != nil {
					a.log.Warn("heartbeat not updated", logx.Err(err))
				}
			}
		case "scheduler", "loop", "debug":
			a.log.Warn("config section needs a restart to take effect", logx.String("section", section))
		}
	}
	a.log.Info("config applied", logx.Any("changed", changed))
}

// Drain stops the heartbeat and waits until nothing is pending.
func (a *App) Drain(ctx context.Context) error {
	a.sched.CancelNamed(keyHeartbeat)
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for a.sched.PendingOperationsCount() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("debug", 2*time.Second, a.debug.Stop)
	// The scheduler goes first so no callback is marshaled onto a stopped loop.
	step("scheduler", a.demoSettings().ShutdownTimeout, a.sched.Close)
	if a.loop != nil {
		step("loop", a.cfgm.Get().LoopStopTimeout(), a.loop.Stop)
	}
	if a.sup != nil {
		step("supervisor", 2*time.Second, a.sup.Stop)
	}

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
