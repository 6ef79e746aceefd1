package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterLoggerEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))

	log.Info("hello", Int("n", 3), Err(errors.New("bad")), Duration("took", 0))
	log.Trace("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &m))
	assert.Equal(t, "hello", m["message"])
	assert.Equal(t, "info", m["level"])
	assert.Equal(t, "test", m["comp"])
	assert.EqualValues(t, 3, m["n"])
	assert.Contains(t, m, "caller")
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var log Logger
	assert.True(t, log.IsZero())
	log.Error("nothing happens")
	assert.False(t, log.With(String("a", "b")).IsZero())
	assert.False(t, Nop().Enabled(LevelError))
}

func TestEnabled(t *testing.T) {
	log := NewWriter(&bytes.Buffer{}, "warn")
	assert.True(t, log.Enabled(LevelError))
	assert.False(t, log.Enabled(LevelInfo))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelWarn, parseLevel(" warning ", LevelInfo))
	assert.Equal(t, LevelTrace, parseLevel("TRACE", LevelInfo))
	assert.Equal(t, LevelInfo, parseLevel("nonsense", LevelInfo))
}

func TestServiceFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	log.Info("to file")
	require.NoError(t, svc.Close())

	svc.Apply(Config{Level: "error", Console: true})
	assert.False(t, svc.Logger().Enabled(LevelInfo))
	assert.NoError(t, svc.Close())
}
