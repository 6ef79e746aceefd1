package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deferkit/pkg/deferred"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  missing_context: inline
  error_log_rate: 2
  timezone: UTC
loop:
  enabled: true
  stop_timeout: 3s
demo:
  debounce_delay: 100ms
  throttle_interval: 2s
  heartbeat: "@every 1m"
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDecodeYAML(t *testing.T) {
	cfg, err := Decode("cfg.yaml", []byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Loop.Enabled)
	assert.Equal(t, 3*time.Second, cfg.LoopStopTimeout())

	opts, err := cfg.SchedulerOptions()
	require.NoError(t, err)
	assert.Equal(t, deferred.MissingContextInline, opts.MissingContext)
	assert.Equal(t, 2.0, opts.ErrorLogRate)
	assert.Equal(t, time.UTC, opts.Location)

	demo, err := cfg.DemoSettings()
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, demo.DebounceDelay)
	assert.Equal(t, 2*time.Second, demo.ThrottleInterval)
	assert.Equal(t, 5*time.Second, demo.ShutdownTimeout)
	assert.Equal(t, "@every 1m", demo.Heartbeat)
}

func TestDecodeJSONDefaults(t *testing.T) {
	cfg, err := Decode("cfg.json", []byte(`{"logging":{"level":"info","console":true},"loop":{"enabled":false}}`))
	require.NoError(t, err)

	opts, err := cfg.SchedulerOptions()
	require.NoError(t, err)
	assert.Equal(t, deferred.MissingContextReport, opts.MissingContext)
	assert.Nil(t, opts.Location)
	assert.Equal(t, 2*time.Second, cfg.LoopStopTimeout())

	demo, err := cfg.DemoSettings()
	require.NoError(t, err)
	assert.Equal(t, 300*time.Millisecond, demo.DebounceDelay)
	assert.Equal(t, time.Second, demo.ThrottleInterval)
	assert.Empty(t, demo.Heartbeat)
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "unknown json field", path: "c.json", body: `{"bogus":1}`},
		{name: "unknown yaml field", path: "c.yml", body: "loop:\n  enabled: true\n  extra: 1\n"},
		{name: "trailing data", path: "c.json", body: `{} {}`},
		{name: "bad policy", path: "c.json", body: `{"scheduler":{"missing_context":"explode"}}`},
		{name: "negative rate", path: "c.json", body: `{"scheduler":{"error_log_rate":-1}}`},
		{name: "bad timezone", path: "c.json", body: `{"scheduler":{"timezone":"Mars/Olympus"}}`},
		{name: "bad duration", path: "c.json", body: `{"demo":{"debounce_delay":"soon"}}`},
		{name: "negative duration", path: "c.json", body: `{"loop":{"stop_timeout":"-1s"}}`},
		{name: "bad heartbeat", path: "c.json", body: `{"demo":{"heartbeat":"cron:99 * * * *"}}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.path, []byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestEmptyYAMLIsValid(t *testing.T) {
	cfg, err := Decode("empty.yaml", nil)
	require.NoError(t, err)
	assert.False(t, cfg.Loop.Enabled)
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cfg.yaml", sampleYAML)

	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	changed, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)

	writeFile(t, dir, "cfg.yaml", sampleYAML+"\n# comment only\n")
	changed, err = m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, changed, "comments do not change the decoded config")

	writeFile(t, dir, "cfg.yaml", "logging:\n  level: warn\n")
	changed, err = m.Reload(context.Background())
	require.NoError(t, err)
	require.True(t, changed)

	select {
	case cfg := <-ch:
		assert.Equal(t, "warn", cfg.Logging.Level)
	default:
		t.Fatal("no update published")
	}
	assert.Equal(t, "warn", m.Get().Logging.Level)
}

func TestReloadValidator(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cfg.json", `{"logging":{"level":"info"}}`)
	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Logging.Level == "trace" {
			return assert.AnError
		}
		return nil
	})
	writeFile(t, dir, "cfg.json", `{"logging":{"level":"trace"}}`)
	_, err = m.Reload(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, "info", m.Get().Logging.Level)

	writeFile(t, dir, "cfg.json", `{"logging":{"level":"`)
	_, err = m.Reload(context.Background())
	assert.Error(t, err)
}

func TestSubscribeLatestWins(t *testing.T) {
	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	m.publish(&Config{Logging: LoggingConfig{Level: "a"}})
	m.publish(&Config{Logging: LoggingConfig{Level: "b"}})

	cfg := <-ch
	assert.Equal(t, "b", cfg.Logging.Level)

	m.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
	m.publish(&Config{})
}

func TestChangedSections(t *testing.T) {
	a := &Config{Logging: LoggingConfig{Level: "info"}}
	b := &Config{Logging: LoggingConfig{Level: "debug"}, Demo: DemoConfig{Heartbeat: "1m"}}

	assert.Equal(t, []string{"logging", "demo"}, ChangedSections(a, b))
	assert.Empty(t, ChangedSections(a, a))
	assert.Equal(t, []string{"logging"}, ChangedSections(nil, a))
}

func TestWatchDebouncesFileEvents(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cfg.yaml", "logging:\n  level: info\n")

	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	sched := deferred.New(deferred.Options{})
	defer func() { _ = sched.Close(context.Background()) }()
	m.SetDebouncer(sched, 50*time.Millisecond)

	ch := m.Subscribe(4)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Let the watcher attach before writing.
	time.Sleep(100 * time.Millisecond)
	for _, lvl := range []string{"debug", "warn", "error"} {
		writeFile(t, dir, "cfg.yaml", "logging:\n  level: "+lvl+"\n")
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case cfg := <-ch:
		assert.Equal(t, "error", cfg.Logging.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload published")
	}
	assert.Never(t, func() bool { return len(ch) > 0 }, 150*time.Millisecond, 10*time.Millisecond)
}
