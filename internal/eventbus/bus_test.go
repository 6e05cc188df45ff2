package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := New()
	id, ch := b.Subscribe(8)
	defer b.Unsubscribe(id)

	b.PublishNew(EventAssignmentCreated, "assignment-1", map[string]string{
		"worker_id": "bot-1",
	})

	select {
	case evt := <-ch:
		assert.Equal(t, EventAssignmentCreated, evt.Type)
		assert.Equal(t, "assignment-1", evt.ResourceID)
		assert.Equal(t, "bot-1", evt.Metadata["worker_id"])
		assert.NotEmpty(t, evt.ID)
		assert.False(t, evt.CreatedAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	b := New()
	id1, ch1 := b.Subscribe(8)
	id2, ch2 := b.Subscribe(8)
	defer b.Unsubscribe(id1)
	defer b.Unsubscribe(id2)

	b.PublishNew(EventWorkerRegistered, "bot-1", nil)

	for _, ch := range []<-chan *Event{ch1, ch2} {
		select {
		case evt := <-ch:
			assert.Equal(t, EventWorkerRegistered, evt.Type)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestBus_SlowSubscriberDropsEvents(t *testing.T) {
	b := New()
	id, ch := b.Subscribe(1)
	defer b.Unsubscribe(id)

	// Second publish overflows the buffer and must not block.
	done := make(chan struct{})
	go func() {
		b.PublishNew(EventAssignmentCreated, "assignment-1", nil)
		b.PublishNew(EventAssignmentCreated, "assignment-2", nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	evt := <-ch
	assert.Equal(t, "assignment-1", evt.ResourceID)
	select {
	case evt := <-ch:
		t.Fatalf("expected overflow event to be dropped, got %s", evt.ResourceID)
	default:
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()
	id, ch := b.Subscribe(1)

	b.Unsubscribe(id)

	_, open := <-ch
	require.False(t, open, "channel should be closed after unsubscribe")

	// Publishing after unsubscribe must not panic.
	b.PublishNew(EventWorkerRegistered, "bot-1", nil)

	// Unsubscribing twice is a no-op.
	b.Unsubscribe(id)
}
