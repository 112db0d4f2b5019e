// ABOUTME: In-memory fan-out hub for dashboard events within one process
// ABOUTME: Publishes events to all subscribers of a clinic key

package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Hub provides in-memory pub/sub for dashboard events. Subscribers register
// for a clinic ID and receive events as they are published. The hub alone
// only reaches connections held by the current process; Fanout layers the
// cross-process channel on top.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Event // clinicID -> subID -> ch
	logger      *slog.Logger
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[string]map[string]chan *Event),
		logger:      logger.With("component", "broadcast"),
	}
}

// Subscribe registers a subscriber for a clinic's events. Returns a channel
// that receives events and a subscription ID for later unsubscription. The
// subscription is automatically cleaned up when ctx is cancelled.
func (h *Hub) Subscribe(ctx context.Context, clinicID string) (<-chan *Event, string) {
	subID := uuid.New().String()
	ch := make(chan *Event, subscriberBufferSize)

	h.mu.Lock()
	if _, ok := h.subscribers[clinicID]; !ok {
		h.subscribers[clinicID] = make(map[string]chan *Event)
	}
	h.subscribers[clinicID][subID] = ch
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "clinic_id", clinicID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		h.Unsubscribe(clinicID, subID)
	}()

	return ch, subID
}

// Publish sends an event to all subscribers of the given clinic.
// Non-blocking: events are dropped for subscribers whose channels are full.
// The read lock is held across the sends; channels are only closed under
// the write lock, so a send can never hit a closed channel.
func (h *Hub) Publish(clinicID string, event *Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subscribers[clinicID] {
		select {
		case ch <- event:
		default:
			h.logger.Debug("dropped event for slow subscriber",
				"clinic_id", clinicID,
				"event_type", event.Type)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(clinicID, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[clinicID]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(h.subscribers, clinicID)
	}

	h.logger.Debug("subscriber removed", "clinic_id", clinicID, "sub_id", subID)
}

// SubscriberCount reports how many subscribers a clinic currently has.
func (h *Hub) SubscriberCount(clinicID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[clinicID])
}

// Close shuts down the hub and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for clinicID, subs := range h.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(h.subscribers, clinicID)
	}

	h.logger.Debug("hub closed")
}
