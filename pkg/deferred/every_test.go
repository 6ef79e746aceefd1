package deferred

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryTicksUntilCancelled(t *testing.T) {
	s, _ := newTestScheduler(t, Options{})

	var ticks atomic.Int64
	p, err := s.Every("hb", "20ms", func() error { ticks.Add(1); return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, s.PendingOperationsCount(), "a trigger counts once however often it fires")

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, waitFor, tick)
	s.CancelNamed("hb")

	o, _ := waitOutcome(t, p)
	assert.Equal(t, Cancelled, o)
	n := ticks.Load()
	assert.Never(t, func() bool { return ticks.Load() > n }, 80*time.Millisecond, tick)
	assert.Zero(t, s.PendingOperationsCount())
	assert.GreaterOrEqual(t, s.Snapshot().Fired, uint64(3))
}

func TestEveryKeepsTickingAfterFailures(t *testing.T) {
	s, sink := newTestScheduler(t, Options{})

	var ticks atomic.Int64
	_, err := s.Every("flaky", "interval:15ms", func() error {
		ticks.Add(1)
		return errors.New("nope")
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sink.len() >= 2 }, waitFor, tick)
	assert.GreaterOrEqual(t, ticks.Load(), int64(2))
	s.CancelAllNamed()
}

func TestEveryReplacesSameKey(t *testing.T) {
	s, _ := newTestScheduler(t, Options{})

	var a, b atomic.Int64
	first, err := s.Every("k", "15ms", func() error { a.Add(1); return nil })
	require.NoError(t, err)
	_, err = s.Every("k", "15ms", func() error { b.Add(1); return nil })
	require.NoError(t, err)

	o, _ := waitOutcome(t, first)
	assert.Equal(t, Cancelled, o)
	require.Eventually(t, func() bool { return b.Load() >= 2 }, waitFor, tick)
	assert.Zero(t, a.Load())
}

func TestEveryCronUsesClockAndLocation(t *testing.T) {
	clk := newFakeClock()
	s, _ := newTestScheduler(t, Options{Clock: clk.Now, Location: time.UTC})

	ps, err := ParseSchedule("@hourly")
	require.NoError(t, err)
	sched, err := ps.Schedule()
	require.NoError(t, err)

	clk.Advance(30 * time.Minute)
	got := s.delayFor(job{next: sched})
	assert.Equal(t, 30*time.Minute, got)
}
