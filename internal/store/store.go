// ABOUTME: Store interface and data types for relay persistence
// ABOUTME: Defines Account, Customer, Conversation, Message and the Store interface

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Conversation status values. At most one conversation per (customer, account)
// should be in an open status (active or waiting) at a time; this is enforced
// by RecordInbound at the service level, not by a schema constraint.
const (
	ConversationActive   = "active"
	ConversationWaiting  = "waiting"
	ConversationResolved = "resolved"
	ConversationArchived = "archived"
)

// Sender type constants for messages
const (
	SenderCustomer = "customer"
	SenderAI       = "ai"
	SenderStaff    = "staff"
)

// Content type constants for messages
const (
	ContentText  = "text"
	ContentImage = "image"
	ContentFile  = "file"
)

// previewLength is the maximum length of a conversation preview.
const previewLength = 200

// Account is one clinic's registration on one chat platform. It carries the
// webhook secret, the outbound credential, and the consultation context the
// response orchestrator reads. Account management itself lives outside this
// core; we only ever load accounts.
type Account struct {
	ID            string
	ClinicID      string
	Platform      string
	Active        bool
	WebhookSecret string
	AccessToken   string
	PersonaName   string
	Language      string
	Tone          ToneProfile
	KnowledgeText string
	ManualText    string
	Sales         SalesContext
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ToneProfile describes how replies should be styled for an account's
// customer base.
type ToneProfile struct {
	EmojiLevel      string   `json:"emoji_level"` // none, light, heavy
	Formality       string   `json:"formality"`   // casual, polite, formal
	PreferredPhrase []string `json:"preferred_phrases"`
	AvoidedPhrase   []string `json:"avoided_phrases"`
}

// SalesContext carries the clinic's promotional context for the sales stage.
type SalesContext struct {
	TopProcedures []string `json:"top_procedures"`
	Promotions    []string `json:"promotions"`
	CrossSells    []string `json:"cross_sells"`
}

// Customer identifies one end user on one platform for one clinic.
// Natural key: (clinic_id, platform, external_user_id).
type Customer struct {
	ID             string
	ClinicID       string
	Platform       string
	ExternalUserID string
	DisplayName    string
	CreatedAt      time.Time
}

// Conversation groups messages between one customer and one account.
type Conversation struct {
	ID            string
	CustomerID    string
	AccountID     string
	ClinicID      string
	Status        string
	Escalated     bool
	Preview       string
	UnreadCount   int
	LastMessageAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Message is one append-only message within a conversation.
type Message struct {
	ID                string
	ConversationID    string
	SenderType        string
	ContentType       string
	Content           string
	ExternalMessageID string
	CreatedAt         time.Time
}

// Attachment is a media reference carried by an inbound message.
type Attachment struct {
	Type string `json:"type"`
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

// NormalizedMessage is the platform-agnostic form of one inbound chat
// message. Produced by a platform adapter, consumed once by RecordInbound.
type NormalizedMessage struct {
	Platform          string
	ExternalMessageID string
	ExternalUserID    string
	AccountID         string
	ClinicID          string
	Content           string
	ContentType       string
	Attachments       []Attachment
	Timestamp         time.Time
	RawPayload        json.RawMessage
	SenderName        string
}

// InboundResult reports what RecordInbound did.
type InboundResult struct {
	Customer            *Customer
	Conversation        *Conversation
	Message             *Message
	CustomerCreated     bool
	ConversationCreated bool
	Reopened            bool
}

// UsageEvent is one model-invocation usage record. Exactly one is written
// per model call, successful or not.
type UsageEvent struct {
	ID               string
	ConversationID   string
	RequestID        string
	Stage            string
	Model            string
	ActualModel      string
	PromptTokens     int
	CompletionTokens int
	LatencyMS        int64
	Success          bool
	Error            string
	CreatedAt        time.Time
}

// Store defines persistence for accounts, conversations, messages and usage.
type Store interface {
	// Accounts (read-only surface; account CRUD is an external collaborator)
	GetAccount(ctx context.Context, id string) (*Account, error)

	// RecordInbound runs the full inbound persistence sequence in one
	// transactional scope: find-or-create the customer by natural key,
	// find an open conversation or create one, append the message, and
	// update the conversation's preview, unread counter and timestamps.
	// A resolved conversation flips back to active.
	RecordInbound(ctx context.Context, msg *NormalizedMessage) (*InboundResult, error)

	// Conversations
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, clinicID string, limit int) ([]*Conversation, error)
	MarkConversationEscalated(ctx context.Context, id string) error
	TouchConversation(ctx context.Context, id, preview string) error

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// Usage
	SaveUsage(ctx context.Context, usage *UsageEvent) error

	Ping(ctx context.Context) error
	Close() error
}

// Preview truncates message content to the stored preview length.
func Preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLength {
		return content
	}
	return string(runes[:previewLength])
}
