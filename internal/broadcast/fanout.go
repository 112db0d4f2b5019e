// ABOUTME: Cross-process event fan-out over a shared Redis channel per clinic
// ABOUTME: Falls back to local-only delivery when the shared publish fails

package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Publisher publishes a serialized event on a shared channel. Satisfied by
// redis.Client; faked in tests.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// PSubscriber subscribes to shared channels by pattern. Satisfied by
// redis.Client.
type PSubscriber interface {
	PSubscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// channelFor names the shared channel carrying one clinic's events.
func channelFor(clinicID string) string {
	return "relay:clinic:" + clinicID + ":events"
}

// Fanout distributes events to every dashboard connection for a clinic
// across all relay processes. Events go out on the shared channel; a relay
// goroutine per process republishes received payloads into that process's
// local hub. When the shared publish fails, delivery degrades to the local
// hub only and the error is swallowed: notification failures must never
// fail message processing.
type Fanout struct {
	hub    *Hub
	pub    Publisher
	logger *slog.Logger
}

// NewFanout creates a fan-out over the given hub. pub may be nil, in which
// case every publish is local-only.
func NewFanout(hub *Hub, pub Publisher, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		hub:    hub,
		pub:    pub,
		logger: logger.With("component", "fanout"),
	}
}

// Publish sends the event to the clinic's shared channel. It never returns
// an error and never panics past its boundary.
func (f *Fanout) Publish(ctx context.Context, event *Event) {
	if f.pub == nil {
		f.hub.Publish(event.ClinicID, event)
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		f.logger.Error("encoding event, delivering locally", "error", err)
		f.hub.Publish(event.ClinicID, event)
		return
	}

	if err := f.pub.Publish(ctx, channelFor(event.ClinicID), payload).Err(); err != nil {
		f.logger.Warn("shared publish failed, delivering locally",
			"clinic_id", event.ClinicID,
			"event_type", event.Type,
			"error", err)
		f.hub.Publish(event.ClinicID, event)
	}
	// On success the event reaches the local hub through the relay loop,
	// along with every other process's hub.
}

// Subscribe registers a dashboard connection on the local hub.
func (f *Fanout) Subscribe(ctx context.Context, clinicID string) (<-chan *Event, string) {
	return f.hub.Subscribe(ctx, clinicID)
}

// Run relays shared-channel messages into the local hub until ctx is
// cancelled. It subscribes to every clinic channel by pattern so one
// process serves dashboards for any clinic.
func (f *Fanout) Run(ctx context.Context, client PSubscriber) error {
	sub := client.PSubscribe(ctx, "relay:clinic:*:events")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to event channels: %w", err)
	}

	f.logger.Info("shared event relay started")
	return f.relay(ctx, sub.Channel())
}

// relay republishes received payloads into the local hub. A payload that
// does not decode is dropped; the loop never stops for one bad message.
func (f *Fanout) relay(ctx context.Context, ch <-chan *redis.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				f.logger.Warn("dropping malformed shared event", "error", err)
				continue
			}
			f.hub.Publish(event.ClinicID, &event)
		}
	}
}
