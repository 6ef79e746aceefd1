package deferred

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleCancelIsIdempotent(t *testing.T) {
	h := newHandle(context.Background(), KindNamed, "k")

	assert.True(t, h.Cancel(), "first cancel prevents the callback")
	assert.False(t, h.Cancel())
	assert.False(t, h.Cancel())
	assert.True(t, h.IsCancelled())
	assert.False(t, h.claim(), "a cancelled handle can no longer be claimed")

	select {
	case <-h.Done():
	default:
		t.Fatal("context not cancelled")
	}
}

func TestHandleCancelAfterClaim(t *testing.T) {
	h := newHandle(context.Background(), KindDelay, "")
	require.True(t, h.claim())

	assert.False(t, h.Cancel(), "callback already started")
	assert.True(t, h.IsCancelled())
	assert.ErrorIs(t, h.Context().Err(), context.Canceled)
}

func TestHandleRearm(t *testing.T) {
	h := newHandle(context.Background(), KindEvery, "tick")
	require.True(t, h.claim())
	require.True(t, h.rearm())
	require.True(t, h.claim(), "rearmed handle is claimable again")

	h.Cancel()
	assert.False(t, h.rearm(), "cancel while running stops the next tick")
}

func TestHandleConcludeReleasesContext(t *testing.T) {
	h := newHandle(context.Background(), KindDebounce, "k")
	require.True(t, h.claim())
	h.conclude()

	assert.Error(t, h.Context().Err())
	assert.False(t, h.IsCancelled(), "conclude is not a cancellation request")
	assert.False(t, h.Cancel())
}

func TestHandleIDsAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := newHandle(context.Background(), KindDelay, "").ID()
		require.NotEmpty(t, id)
		require.False(t, seen[id])
		seen[id] = true
	}
}

func TestNilHandle(t *testing.T) {
	var h *Handle
	assert.False(t, h.Cancel())
	assert.False(t, h.IsCancelled())
}
