// ABOUTME: Tests for the in-memory event hub
// ABOUTME: Covers subscribe, publish, isolation, cancellation and slow subscribers

package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_SingleSubscriberReceivesEvent(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	ch, _ := h.Subscribe(t.Context(), "clinic-1")

	h.Publish("clinic-1", NewMessageEvent("clinic-1", "conv-1", "msg-1", "line", "customer", "hi"))

	select {
	case received := <-ch:
		assert.Equal(t, EventNewMessage, received.Type)
		assert.Equal(t, "msg-1", received.MessageID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestHub_MultipleSubscribersReceiveSameEvent(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	ctx := t.Context()
	ch1, _ := h.Subscribe(ctx, "clinic-1")
	ch2, _ := h.Subscribe(ctx, "clinic-1")
	ch3, _ := h.Subscribe(ctx, "clinic-1")

	h.Publish("clinic-1", DeliveryFailedEvent("clinic-1", "conv-1", "msg-9", "telegram"))

	for i, ch := range []<-chan *Event{ch1, ch2, ch3} {
		select {
		case received := <-ch:
			assert.Equal(t, EventDeliveryFailed, received.Type, "subscriber %d got wrong event", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestHub_ClinicsAreIsolated(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	ctx := t.Context()
	ch1, _ := h.Subscribe(ctx, "clinic-1")
	ch2, _ := h.Subscribe(ctx, "clinic-2")

	h.Publish("clinic-1", EscalatedEvent("clinic-1", "conv-1"))

	select {
	case received := <-ch1:
		assert.Equal(t, "conv-1", received.ConversationID)
	case <-time.After(time.Second):
		t.Fatal("clinic-1 subscriber timed out")
	}

	select {
	case <-ch2:
		t.Fatal("clinic-2 subscriber should not receive clinic-1 events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	ch, subID := h.Subscribe(t.Context(), "clinic-1")
	h.Unsubscribe("clinic-1", subID)

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, h.SubscriberCount("clinic-1"))
}

func TestHub_ContextCancellationUnsubscribes(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	ctx, cancel := context.WithCancel(t.Context())
	h.Subscribe(ctx, "clinic-1")
	require.Equal(t, 1, h.SubscriberCount("clinic-1"))

	cancel()

	assert.Eventually(t, func() bool {
		return h.SubscriberCount("clinic-1") == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	ch, _ := h.Subscribe(t.Context(), "clinic-1")

	// Overfill the subscriber buffer without draining; Publish must not block
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize+10; i++ {
			h.Publish("clinic-1", EscalatedEvent("clinic-1", "conv-1"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	assert.Len(t, ch, subscriberBufferSize)
}

func TestHub_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	// A disconnecting dashboard closes its channel while publishers are
	// mid-fanout; neither side may panic or race.
	for i := 0; i < 200; i++ {
		_, subID := h.Subscribe(t.Context(), "clinic-1")

		var wg sync.WaitGroup
		for p := 0; p < 8; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				h.Publish("clinic-1", EscalatedEvent("clinic-1", "conv-1"))
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Unsubscribe("clinic-1", subID)
		}()
		wg.Wait()
	}

	assert.Equal(t, 0, h.SubscriberCount("clinic-1"))
}

func TestHub_ConcurrentPublishAndSubscribe(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	ctx := t.Context()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ch, _ := h.Subscribe(ctx, "clinic-1")
			go func() {
				for range ch {
				}
			}()
		}()
		go func() {
			defer wg.Done()
			h.Publish("clinic-1", EscalatedEvent("clinic-1", "conv-1"))
		}()
	}
	wg.Wait()
}
