// ABOUTME: Delivery job shape shared by the queue implementations
// ABOUTME: One job is one outbound send of one stored message

package deliver

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Job is one outbound delivery. Attempt counts sends already made; it is
// zero until the first send fails.
type Job struct {
	ID             string    `json:"id"`
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	ClinicID       string    `json:"clinic_id"`
	AccountID      string    `json:"account_id"`
	Platform       string    `json:"platform"`
	RecipientID    string    `json:"recipient_id"`
	Text           string    `json:"text"`
	Attempt        int       `json:"attempt"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	LastError      string    `json:"last_error,omitempty"`
}

// NewJob builds a delivery job with a fresh ULID.
func NewJob(messageID, conversationID, clinicID, accountID, platform, recipientID, text string) *Job {
	return &Job{
		ID:             ulid.Make().String(),
		MessageID:      messageID,
		ConversationID: conversationID,
		ClinicID:       clinicID,
		AccountID:      accountID,
		Platform:       platform,
		RecipientID:    recipientID,
		Text:           text,
		EnqueuedAt:     time.Now().UTC(),
	}
}
