// ABOUTME: Structured dashboard event types published per clinic
// ABOUTME: Small JSON payloads with a type discriminator plus type-specific fields

package broadcast

import "time"

// Event types
const (
	EventNewMessage            = "new_message"
	EventDeliveryFailed        = "delivery_failed"
	EventConversationEscalated = "conversation_escalated"
)

// Event is one state-change notification for a clinic's dashboards.
// Only the fields relevant to the event type are populated.
type Event struct {
	Type           string    `json:"type"`
	ClinicID       string    `json:"clinic_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	MessageID      string    `json:"message_id,omitempty"`
	Platform       string    `json:"platform,omitempty"`
	SenderType     string    `json:"sender_type,omitempty"`
	Preview        string    `json:"preview,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewMessageEvent builds a new_message event.
func NewMessageEvent(clinicID, conversationID, messageID, platform, senderType, preview string) *Event {
	return &Event{
		Type:           EventNewMessage,
		ClinicID:       clinicID,
		ConversationID: conversationID,
		MessageID:      messageID,
		Platform:       platform,
		SenderType:     senderType,
		Preview:        preview,
		Timestamp:      time.Now().UTC(),
	}
}

// DeliveryFailedEvent builds the terminal delivery failure notification.
func DeliveryFailedEvent(clinicID, conversationID, messageID, platform string) *Event {
	return &Event{
		Type:           EventDeliveryFailed,
		ClinicID:       clinicID,
		ConversationID: conversationID,
		MessageID:      messageID,
		Platform:       platform,
		Timestamp:      time.Now().UTC(),
	}
}

// EscalatedEvent builds a conversation_escalated event.
func EscalatedEvent(clinicID, conversationID string) *Event {
	return &Event{
		Type:           EventConversationEscalated,
		ClinicID:       clinicID,
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC(),
	}
}
