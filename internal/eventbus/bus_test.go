package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(4)
	defer unsubA()
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: "x", Data: 1})

	ea := <-a
	ec := <-c
	assert.Equal(t, "x", ea.Type)
	assert.Equal(t, 1, ec.Data)
	assert.False(t, ea.Time.IsZero(), "publish stamps a time")
}

func TestSubscribePrefixFilters(t *testing.T) {
	b := New()
	ch, unsub := b.SubscribePrefix(4, "deferred.")
	defer unsub()

	b.Publish(Event{Type: "config.reload"})
	b.Publish(Event{Type: "deferred.fired"})

	ev := <-ch
	assert.Equal(t, "deferred.fired", ev.Type)
	assert.Empty(t, ch)
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	b.Publish(Event{Type: "c"})

	assert.Equal(t, "a", (<-ch).Type)
	assert.EqualValues(t, 2, b.Dropped())
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	_, ok := <-ch
	require.False(t, ok)
	b.Publish(Event{Type: "after"})
}
