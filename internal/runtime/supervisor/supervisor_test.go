package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoRecoversPanics(t *testing.T) {
	s := NewSupervisor(context.Background())
	s.Go("boom", func(ctx context.Context) error { panic("kaput") })
	s.Go0("fine", func(ctx context.Context) {})

	assert.ErrorContains(t, s.Wait(context.Background()), "panic in boom")

	stats := s.Stats()
	require.Len(t, stats, 2)
	for _, st := range stats {
		assert.Zero(t, st.Active)
		assert.EqualValues(t, 1, st.Started)
		if st.Name == "boom" {
			assert.EqualValues(t, 1, st.Panics)
			assert.Equal(t, "kaput", st.LastPanic)
		}
	}
	assert.Equal(t, SupervisorCounters{Active: 0, Started: 2}, s.Counters())
}

func TestCancelOnError(t *testing.T) {
	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	s.Go("fails", func(ctx context.Context) error { return errors.New("bad") })
	s.Go0("waiter", func(ctx context.Context) { <-ctx.Done() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Wait(ctx)
	assert.ErrorContains(t, err, "fails: bad")
}

func TestCanceledIsNotAnError(t *testing.T) {
	s := NewSupervisor(context.Background())
	s.Go("w", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.NoError(t, s.Stop(context.Background()))
	assert.NoError(t, s.Err())
}

func TestWaitRespectsDeadline(t *testing.T) {
	s := NewSupervisor(context.Background())
	release := make(chan struct{})
	s.Go0("stuck", func(ctx context.Context) { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)

	close(release)
	assert.NoError(t, s.Wait(context.Background()), "Wait can be called again")
}
