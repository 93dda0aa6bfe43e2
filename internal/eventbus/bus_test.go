package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TypeUnitAccomplished, Data: "fresh"})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			assert.Equal(t, TypeUnitAccomplished, e.Type)
			assert.Equal(t, "fresh", e.Data)
			assert.False(t, e.Time.IsZero())
		default:
			t.Fatal("expected event to be delivered")
		}
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: TypeUnitFailed})
	b.Publish(Event{Type: TypeUnitAborted})

	require.Len(t, ch, 1)
	assert.Equal(t, uint64(1), Dropped(b))
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(0)
	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
	assert.NotPanics(t, func() { b.Publish(Event{Type: TypeTwinStopped}) })
}
