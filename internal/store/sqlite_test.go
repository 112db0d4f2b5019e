// ABOUTME: Tests for the SQLite store's inbound persistence sequence
// ABOUTME: Covers customer identity, conversation reuse, reopen, preview and usage records

package store

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func inbound(externalUser, content string) *NormalizedMessage {
	return &NormalizedMessage{
		Platform:          "telegram",
		ExternalMessageID: "ext-" + content,
		ExternalUserID:    externalUser,
		AccountID:         "acct-1",
		ClinicID:          "clinic-1",
		Content:           content,
		ContentType:       ContentText,
		Timestamp:         time.Now(),
	}
}

func TestRecordInbound_CreatesCustomerAndConversationOnFirstContact(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	res, err := s.RecordInbound(ctx, inbound("user-1", "hello"))
	require.NoError(t, err)

	assert.True(t, res.CustomerCreated)
	assert.True(t, res.ConversationCreated)
	assert.False(t, res.Reopened)
	assert.Equal(t, ConversationActive, res.Conversation.Status)
	assert.Equal(t, "hello", res.Conversation.Preview)
	assert.Equal(t, 1, res.Conversation.UnreadCount)
	assert.Equal(t, SenderCustomer, res.Message.SenderType)
}

func TestRecordInbound_SameNaturalKeyResolvesToSameCustomer(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	first, err := s.RecordInbound(ctx, inbound("user-1", "first"))
	require.NoError(t, err)
	second, err := s.RecordInbound(ctx, inbound("user-1", "second"))
	require.NoError(t, err)

	assert.True(t, first.CustomerCreated)
	assert.False(t, second.CustomerCreated)
	assert.Equal(t, first.Customer.ID, second.Customer.ID)
}

func TestRecordInbound_OpenConversationIsReused(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	first, err := s.RecordInbound(ctx, inbound("user-1", "first"))
	require.NoError(t, err)
	second, err := s.RecordInbound(ctx, inbound("user-1", "second"))
	require.NoError(t, err)

	assert.False(t, second.ConversationCreated)
	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)
	assert.Equal(t, 2, second.Conversation.UnreadCount)
	assert.Equal(t, "second", second.Conversation.Preview)
}

func TestRecordInbound_ResolvedConversationReopensAsActive(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	first, err := s.RecordInbound(ctx, inbound("user-1", "first"))
	require.NoError(t, err)

	_, err = s.db.ExecContext(ctx, `UPDATE conversations SET status = ? WHERE id = ?`,
		ConversationResolved, first.Conversation.ID)
	require.NoError(t, err)

	second, err := s.RecordInbound(ctx, inbound("user-1", "back again"))
	require.NoError(t, err)

	assert.False(t, second.ConversationCreated)
	assert.True(t, second.Reopened)
	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)
	assert.Equal(t, ConversationActive, second.Conversation.Status)
}

func TestRecordInbound_ArchivedConversationIsNotReused(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	first, err := s.RecordInbound(ctx, inbound("user-1", "first"))
	require.NoError(t, err)

	_, err = s.db.ExecContext(ctx, `UPDATE conversations SET status = ? WHERE id = ?`,
		ConversationArchived, first.Conversation.ID)
	require.NoError(t, err)

	second, err := s.RecordInbound(ctx, inbound("user-1", "new topic"))
	require.NoError(t, err)

	assert.True(t, second.ConversationCreated)
	assert.NotEqual(t, first.Conversation.ID, second.Conversation.ID)
}

func TestRecordInbound_DuplicateExternalMessageIDInsertsNewRow(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	msg := inbound("user-1", "hello")
	first, err := s.RecordInbound(ctx, msg)
	require.NoError(t, err)
	second, err := s.RecordInbound(ctx, msg)
	require.NoError(t, err)

	// Redelivery is not deduplicated; both rows land in the conversation
	msgs, err := s.ListMessages(ctx, first.Conversation.ID, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	assert.NotEqual(t, first.Message.ID, second.Message.ID)
}

func TestRecordInbound_PreviewTruncatedTo200Chars(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	long := strings.Repeat("x", 500)
	res, err := s.RecordInbound(ctx, inbound("user-1", long))
	require.NoError(t, err)

	assert.Len(t, res.Conversation.Preview, 200)

	got, err := s.GetConversation(ctx, res.Conversation.ID)
	require.NoError(t, err)
	assert.Len(t, got.Preview, 200)
}

func TestMarkConversationEscalated(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	res, err := s.RecordInbound(ctx, inbound("user-1", "hello"))
	require.NoError(t, err)

	require.NoError(t, s.MarkConversationEscalated(ctx, res.Conversation.ID))

	got, err := s.GetConversation(ctx, res.Conversation.ID)
	require.NoError(t, err)
	assert.True(t, got.Escalated)
	assert.Equal(t, ConversationWaiting, got.Status)

	assert.ErrorIs(t, s.MarkConversationEscalated(ctx, "missing"), ErrNotFound)
}

func TestAccountRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	acct := &Account{
		ID:            "acct-1",
		ClinicID:      "clinic-1",
		Platform:      "line",
		Active:        true,
		WebhookSecret: "shh",
		AccessToken:   "tok",
		PersonaName:   "Dr. Kim",
		Language:      "ko",
		Tone: ToneProfile{
			EmojiLevel:      "light",
			Formality:       "polite",
			PreferredPhrase: []string{"we recommend"},
		},
		Sales: SalesContext{
			TopProcedures: []string{"botox"},
			Promotions:    []string{"spring event"},
		},
	}
	require.NoError(t, s.CreateAccount(ctx, acct))

	got, err := s.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "Dr. Kim", got.PersonaName)
	assert.Equal(t, "light", got.Tone.EmojiLevel)
	assert.Equal(t, []string{"botox"}, got.Sales.TopProcedures)
	assert.True(t, got.Active)

	_, err = s.GetAccount(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	err := s.SaveUsage(ctx, &UsageEvent{
		RequestID:        "req-1",
		Stage:            "facts",
		Model:            "gpt-4o-mini",
		ActualModel:      "gpt-4o-mini-2024-07-18",
		PromptTokens:     120,
		CompletionTokens: 40,
		LatencyMS:        350,
		Success:          true,
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM usage_events`).Scan(&count))
	assert.Equal(t, 1, count)
}
