package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"deferkit/internal/observability/debug"
	"deferkit/pkg/deferred"
	logx "deferkit/pkg/logx"
)

// Config is the deferdemo configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "300ms", "1s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Loop      LoopConfig      `json:"loop"`
	Demo      DemoConfig      `json:"demo,omitempty"`
	Debug     DebugConfig     `json:"debug,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// SchedulerConfig controls the deferred task coordinator.
//
// Defaults (when fields are omitted/zero):
//   - missing_context: "report"
//   - error_log_rate: 5
//   - timezone: local
type SchedulerConfig struct {
	// MissingContext is "report", "ignore" or "inline"; see deferred.MissingContextPolicy.
	MissingContext string  `json:"missing_context,omitempty"`
	ErrorLogRate   float64 `json:"error_log_rate,omitempty"`
	Timezone       string  `json:"timezone,omitempty"` // IANA TZ for recurring triggers
}

// LoopConfig controls the designated single-threaded context.
// When disabled, callbacks run inline on timer goroutines.
type LoopConfig struct {
	Enabled     bool   `json:"enabled"`
	StopTimeout string `json:"stop_timeout,omitempty"` // default "2s"
}

// DebugConfig controls the diagnostics HTTP server (snapshot + pprof).
// Addr defaults to 127.0.0.1:6060; a non-loopback addr needs a token.
type DebugConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"`
}

// DemoConfig tunes the deferdemo command.
//
// Defaults:
//   - debounce_delay: "300ms"
//   - throttle_interval: "1s"
//   - heartbeat: "" (disabled); any schedule deferred.ParseSchedule accepts
//   - shutdown_timeout: "5s"
type DemoConfig struct {
	DebounceDelay    string `json:"debounce_delay,omitempty"`
	ThrottleInterval string `json:"throttle_interval,omitempty"`
	Heartbeat        string `json:"heartbeat,omitempty"`
	ShutdownTimeout  string `json:"shutdown_timeout,omitempty"`
}

// Demo is DemoConfig with parsed durations.
type Demo struct {
	DebounceDelay    time.Duration
	ThrottleInterval time.Duration
	Heartbeat        string
	ShutdownTimeout  time.Duration
}

// Validate checks every field that later parsing would reject.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if _, err := deferred.ParseMissingContextPolicy(c.Scheduler.MissingContext); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.missing_context: %w", err))
	}
	if c.Scheduler.ErrorLogRate < 0 {
		errs = append(errs, errors.New("scheduler.error_log_rate: must be >= 0"))
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if _, err := ParseDurationField("loop.stop_timeout", c.Loop.StopTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.DemoSettings(); err != nil {
		errs = append(errs, err)
	}
	if c.Debug.Enabled && strings.TrimSpace(c.Debug.Addr) != "" {
		if _, _, err := net.SplitHostPort(c.Debug.Addr); err != nil {
			errs = append(errs, fmt.Errorf("debug.addr: %w", err))
		}
	}
	return errors.Join(errs...)
}

// LogConfig maps the logging section onto logx.
func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled:    c.Logging.File.Enabled,
			Path:       c.Logging.File.Path,
			MaxSizeMB:  c.Logging.File.MaxSizeMB,
			MaxBackups: c.Logging.File.MaxBackups,
			MaxAgeDays: c.Logging.File.MaxAgeDays,
			Compress:   c.Logging.File.Compress,
		},
	}
}

// SchedulerOptions maps the scheduler section onto deferred.Options.
// Executor, Logger and Bus are left for the caller to wire.
func (c *Config) SchedulerOptions() (deferred.Options, error) {
	policy, err := deferred.ParseMissingContextPolicy(c.Scheduler.MissingContext)
	if err != nil {
		return deferred.Options{}, fmt.Errorf("scheduler.missing_context: %w", err)
	}
	opts := deferred.Options{
		MissingContext: policy,
		ErrorLogRate:   c.Scheduler.ErrorLogRate,
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return deferred.Options{}, fmt.Errorf("scheduler.timezone: %w", err)
		}
		opts.Location = loc
	}
	return opts, nil
}

func (c *Config) DebugServerConfig() debug.Config {
	return debug.Config{Enabled: c.Debug.Enabled, Addr: strings.TrimSpace(c.Debug.Addr), Token: c.Debug.Token}
}

func (c *Config) LoopStopTimeout() time.Duration {
	d, err := ParseDurationOrDefault("loop.stop_timeout", c.Loop.StopTimeout, 2*time.Second)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// DemoSettings parses the demo section, applying defaults.
func (c *Config) DemoSettings() (Demo, error) {
	var (
		d   Demo
		err error
	)
	if d.DebounceDelay, err = ParseDurationOrDefault("demo.debounce_delay", c.Demo.DebounceDelay, 300*time.Millisecond); err != nil {
		return Demo{}, err
	}
	if d.ThrottleInterval, err = ParseDurationOrDefault("demo.throttle_interval", c.Demo.ThrottleInterval, time.Second); err != nil {
		return Demo{}, err
	}
	if d.ShutdownTimeout, err = ParseDurationOrDefault("demo.shutdown_timeout", c.Demo.ShutdownTimeout, 5*time.Second); err != nil {
		return Demo{}, err
	}
	d.Heartbeat = strings.TrimSpace(c.Demo.Heartbeat)
	if d.Heartbeat != "" {
		if ps, err := deferred.ParseSchedule(d.Heartbeat); err != nil {
			return Demo{}, fmt.Errorf("demo.heartbeat: %w", err)
		} else if _, err := ps.Schedule(); err != nil {
			return Demo{}, fmt.Errorf("demo.heartbeat: %w", err)
		}
	}
	return d, nil
}

// ParseDurationField parses an optional duration field; empty means 0.
// path is the dotted config path used in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
