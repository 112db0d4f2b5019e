// ABOUTME: In-memory Store implementation for unit tests
// ABOUTME: Thread-safe maps with optional per-method error injection

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store used by tests. Error fields, when set,
// are returned by the corresponding method.
type MemStore struct {
	mu            sync.Mutex
	accounts      map[string]*Account
	customers     map[string]*Customer
	conversations map[string]*Conversation
	messages      map[string][]*Message
	usage         []*UsageEvent

	RecordInboundErr error
	SaveMessageErr   error
	SaveUsageErr     error
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		accounts:      make(map[string]*Account),
		customers:     make(map[string]*Customer),
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
	}
}

// PutAccount seeds an account.
func (m *MemStore) PutAccount(a *Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = a
}

// PutConversation seeds a conversation.
func (m *MemStore) PutConversation(c *Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[c.ID] = c
}

// GetAccount retrieves an account by ID.
func (m *MemStore) GetAccount(_ context.Context, id string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

// RecordInbound mirrors the SQL implementations' find-or-create sequence.
func (m *MemStore) RecordInbound(_ context.Context, msg *NormalizedMessage) (*InboundResult, error) {
	if m.RecordInboundErr != nil {
		return nil, m.RecordInboundErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	result := &InboundResult{}

	var customer *Customer
	for _, c := range m.customers {
		if c.ClinicID == msg.ClinicID && c.Platform == msg.Platform && c.ExternalUserID == msg.ExternalUserID {
			customer = c
			break
		}
	}
	if customer == nil {
		customer = &Customer{
			ID:             uuid.New().String(),
			ClinicID:       msg.ClinicID,
			Platform:       msg.Platform,
			ExternalUserID: msg.ExternalUserID,
			DisplayName:    msg.SenderName,
			CreatedAt:      now,
		}
		m.customers[customer.ID] = customer
		result.CustomerCreated = true
	}

	var conv *Conversation
	for _, c := range m.conversations {
		if c.CustomerID == customer.ID && c.AccountID == msg.AccountID &&
			(c.Status == ConversationActive || c.Status == ConversationWaiting) {
			conv = c
			break
		}
	}
	if conv == nil {
		// A resolved conversation reopens rather than spawning a sibling
		for _, c := range m.conversations {
			if c.CustomerID == customer.ID && c.AccountID == msg.AccountID && c.Status == ConversationResolved {
				conv = c
				conv.Status = ConversationActive
				result.Reopened = true
				break
			}
		}
	}
	if conv == nil {
		conv = &Conversation{
			ID:            uuid.New().String(),
			CustomerID:    customer.ID,
			AccountID:     msg.AccountID,
			ClinicID:      msg.ClinicID,
			Status:        ConversationActive,
			LastMessageAt: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		m.conversations[conv.ID] = conv
		result.ConversationCreated = true
	}

	message := &Message{
		ID:                uuid.New().String(),
		ConversationID:    conv.ID,
		SenderType:        SenderCustomer,
		ContentType:       msg.ContentType,
		Content:           msg.Content,
		ExternalMessageID: msg.ExternalMessageID,
		CreatedAt:         now,
	}
	if message.ContentType == "" {
		message.ContentType = ContentText
	}
	m.messages[conv.ID] = append(m.messages[conv.ID], message)

	conv.Preview = Preview(msg.Content)
	conv.UnreadCount++
	conv.LastMessageAt = now
	conv.UpdatedAt = now

	result.Customer = customer
	result.Conversation = conv
	result.Message = message
	return result, nil
}

// GetConversation retrieves a conversation by ID.
func (m *MemStore) GetConversation(_ context.Context, id string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// ListConversations returns a clinic's conversations, most recent first.
func (m *MemStore) ListConversations(_ context.Context, clinicID string, limit int) ([]*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var convs []*Conversation
	for _, c := range m.conversations {
		if c.ClinicID == clinicID {
			convs = append(convs, c)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].LastMessageAt.After(convs[j].LastMessageAt)
	})
	if limit > 0 && len(convs) > limit {
		convs = convs[:limit]
	}
	return convs, nil
}

// MarkConversationEscalated flags a conversation for human handoff.
func (m *MemStore) MarkConversationEscalated(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.Escalated = true
	c.Status = ConversationWaiting
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// TouchConversation updates a conversation's preview and activity timestamp.
func (m *MemStore) TouchConversation(_ context.Context, id, preview string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	c.Preview = Preview(preview)
	c.LastMessageAt = now
	c.UpdatedAt = now
	return nil
}

// SaveMessage appends a message to a conversation.
func (m *MemStore) SaveMessage(_ context.Context, msg *Message) error {
	if m.SaveMessageErr != nil {
		return m.SaveMessageErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)
	return nil
}

// ListMessages returns a conversation's messages in chronological order.
func (m *MemStore) ListMessages(_ context.Context, conversationID string, limit int) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	out := make([]*Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// SaveUsage stores a model usage record.
func (m *MemStore) SaveUsage(_ context.Context, usage *UsageEvent) error {
	if m.SaveUsageErr != nil {
		return m.SaveUsageErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if usage.ID == "" {
		usage.ID = uuid.New().String()
	}
	m.usage = append(m.usage, usage)
	return nil
}

// UsageEvents returns a copy of all recorded usage events.
func (m *MemStore) UsageEvents() []*UsageEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*UsageEvent, len(m.usage))
	copy(out, m.usage)
	return out
}

// CustomerCount reports how many customers exist.
func (m *MemStore) CustomerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.customers)
}

// Ping always succeeds.
func (m *MemStore) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (m *MemStore) Close() error { return nil }
