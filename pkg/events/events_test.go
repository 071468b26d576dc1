package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	assert.Equal(t, 1, b.SubscriberCount())

	b.Publish(&Event{Type: EventJobTaped, Metadata: map[string]string{"host": "db1"}})

	select {
	case ev := <-sub:
		assert.Equal(t, EventJobTaped, ev.Type)
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
		assert.Equal(t, "db1", ev.Metadata["host"])
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	assert.Zero(t, b.SubscriberCount())
	_, open := <-sub
	assert.False(t, open)
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBroker()
	// not started: nothing drains the queue

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(&Event{Type: EventJobStarted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked")
	}
	require.Equal(t, 1000-cap(b.eventCh), b.Dropped())

	b.Stop()
	b.Stop()
}
