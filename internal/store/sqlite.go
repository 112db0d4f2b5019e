// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Single-node persistence with automatic schema creation, used for dev and tests

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			clinic_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			webhook_secret TEXT NOT NULL DEFAULT '',
			access_token TEXT NOT NULL DEFAULT '',
			persona_name TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT 'en',
			tone TEXT NOT NULL DEFAULT '{}',
			knowledge_text TEXT NOT NULL DEFAULT '',
			manual_text TEXT NOT NULL DEFAULT '',
			sales TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS customers (
			id TEXT PRIMARY KEY,
			clinic_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			external_user_id TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_customers_natural_key
			ON customers(clinic_id, platform, external_user_id);

		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			clinic_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			escalated INTEGER NOT NULL DEFAULT 0,
			preview TEXT NOT NULL DEFAULT '',
			unread_count INTEGER NOT NULL DEFAULT 0,
			last_message_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (customer_id) REFERENCES customers(id)
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_open
			ON conversations(customer_id, account_id, status);

		CREATE INDEX IF NOT EXISTS idx_conversations_clinic
			ON conversations(clinic_id, last_message_at);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_type TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT 'text',
			content TEXT NOT NULL,
			external_message_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS usage_events (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL,
			stage TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			actual_model TEXT NOT NULL DEFAULT '',
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			success INTEGER NOT NULL DEFAULT 1,
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// GetAccount retrieves an account by ID.
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	query := `
		SELECT id, clinic_id, platform, active, webhook_secret, access_token,
		       persona_name, language, tone, knowledge_text, manual_text, sales,
		       created_at, updated_at
		FROM accounts WHERE id = ?
	`

	var (
		a         Account
		active    int
		toneJSON  string
		salesJSON string
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.ClinicID, &a.Platform, &active, &a.WebhookSecret, &a.AccessToken,
		&a.PersonaName, &a.Language, &toneJSON, &a.KnowledgeText, &a.ManualText, &salesJSON,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}

	a.Active = active != 0
	if err := json.Unmarshal([]byte(toneJSON), &a.Tone); err != nil {
		return nil, fmt.Errorf("decoding tone profile: %w", err)
	}
	if err := json.Unmarshal([]byte(salesJSON), &a.Sales); err != nil {
		return nil, fmt.Errorf("decoding sales context: %w", err)
	}
	return &a, nil
}

// RecordInbound persists one inbound message inside a single transaction.
// Note: the find-or-create path is not protected by a uniqueness constraint,
// so two concurrent deliveries for a brand-new customer can race into
// duplicate rows. Accepted for now; see DESIGN.md.
func (s *SQLiteStore) RecordInbound(ctx context.Context, msg *NormalizedMessage) (*InboundResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result := &InboundResult{}

	// Find or create the customer by natural key
	customer := &Customer{}
	err = tx.QueryRowContext(ctx, `
		SELECT id, clinic_id, platform, external_user_id, display_name, created_at
		FROM customers
		WHERE clinic_id = ? AND platform = ? AND external_user_id = ?
	`, msg.ClinicID, msg.Platform, msg.ExternalUserID).Scan(
		&customer.ID, &customer.ClinicID, &customer.Platform,
		&customer.ExternalUserID, &customer.DisplayName, &customer.CreatedAt,
	)
	switch {
	case err == sql.ErrNoRows:
		customer = &Customer{
			ID:             uuid.New().String(),
			ClinicID:       msg.ClinicID,
			Platform:       msg.Platform,
			ExternalUserID: msg.ExternalUserID,
			DisplayName:    msg.SenderName,
			CreatedAt:      now,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO customers (id, clinic_id, platform, external_user_id, display_name, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, customer.ID, customer.ClinicID, customer.Platform,
			customer.ExternalUserID, customer.DisplayName, customer.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("inserting customer: %w", err)
		}
		result.CustomerCreated = true
	case err != nil:
		return nil, fmt.Errorf("querying customer: %w", err)
	}

	// Find an open conversation or create one
	conv := &Conversation{}
	var escalated int
	err = tx.QueryRowContext(ctx, `
		SELECT id, customer_id, account_id, clinic_id, status, escalated,
		       preview, unread_count, last_message_at, created_at, updated_at
		FROM conversations
		WHERE customer_id = ? AND account_id = ? AND status IN (?, ?)
		ORDER BY created_at DESC LIMIT 1
	`, customer.ID, msg.AccountID, ConversationActive, ConversationWaiting).Scan(
		&conv.ID, &conv.CustomerID, &conv.AccountID, &conv.ClinicID, &conv.Status,
		&escalated, &conv.Preview, &conv.UnreadCount, &conv.LastMessageAt,
		&conv.CreatedAt, &conv.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		// No open conversation; a resolved one reopens instead of
		// spawning a sibling
		err = tx.QueryRowContext(ctx, `
			SELECT id, customer_id, account_id, clinic_id, status, escalated,
			       preview, unread_count, last_message_at, created_at, updated_at
			FROM conversations
			WHERE customer_id = ? AND account_id = ? AND status = ?
			ORDER BY created_at DESC LIMIT 1
		`, customer.ID, msg.AccountID, ConversationResolved).Scan(
			&conv.ID, &conv.CustomerID, &conv.AccountID, &conv.ClinicID, &conv.Status,
			&escalated, &conv.Preview, &conv.UnreadCount, &conv.LastMessageAt,
			&conv.CreatedAt, &conv.UpdatedAt,
		)
	}
	switch {
	case err == sql.ErrNoRows:
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
		_, err = tx.ExecContext(ctx, `
			INSERT INTO conversations (id, customer_id, account_id, clinic_id, status,
				escalated, preview, unread_count, last_message_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 0, '', 0, ?, ?, ?)
		`, conv.ID, conv.CustomerID, conv.AccountID, conv.ClinicID, conv.Status,
			conv.LastMessageAt, conv.CreatedAt, conv.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("inserting conversation: %w", err)
		}
		result.ConversationCreated = true
	case err != nil:
		return nil, fmt.Errorf("querying conversation: %w", err)
	default:
		conv.Escalated = escalated != 0
	}

	// Append the message. Duplicate redelivery of the same external message
	// ID inserts a new row; there is no uniqueness constraint here yet.
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
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_type, content_type, content, external_message_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, message.ID, message.ConversationID, message.SenderType,
		message.ContentType, message.Content, message.ExternalMessageID, message.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	// Update conversation bookkeeping; a resolved conversation reopens
	newStatus := conv.Status
	if conv.Status == ConversationResolved {
		newStatus = ConversationActive
		result.Reopened = true
	}
	preview := Preview(msg.Content)
	_, err = tx.ExecContext(ctx, `
		UPDATE conversations
		SET status = ?, preview = ?, unread_count = unread_count + 1,
		    last_message_at = ?, updated_at = ?
		WHERE id = ?
	`, newStatus, preview, now, now, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("updating conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	conv.Status = newStatus
	conv.Preview = preview
	conv.UnreadCount++
	conv.LastMessageAt = now
	conv.UpdatedAt = now

	result.Customer = customer
	result.Conversation = conv
	result.Message = message

	s.logger.Debug("recorded inbound message",
		"conversation_id", conv.ID,
		"customer_created", result.CustomerCreated,
		"conversation_created", result.ConversationCreated,
		"reopened", result.Reopened,
	)
	return result, nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	conv := &Conversation{}
	var escalated int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, account_id, clinic_id, status, escalated,
		       preview, unread_count, last_message_at, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id).Scan(
		&conv.ID, &conv.CustomerID, &conv.AccountID, &conv.ClinicID, &conv.Status,
		&escalated, &conv.Preview, &conv.UnreadCount, &conv.LastMessageAt,
		&conv.CreatedAt, &conv.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	conv.Escalated = escalated != 0
	return conv, nil
}

// ListConversations returns a clinic's conversations, most recent first.
func (s *SQLiteStore) ListConversations(ctx context.Context, clinicID string, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, account_id, clinic_id, status, escalated,
		       preview, unread_count, last_message_at, created_at, updated_at
		FROM conversations
		WHERE clinic_id = ?
		ORDER BY last_message_at DESC
		LIMIT ?
	`, clinicID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv := &Conversation{}
		var escalated int
		if err := rows.Scan(
			&conv.ID, &conv.CustomerID, &conv.AccountID, &conv.ClinicID, &conv.Status,
			&escalated, &conv.Preview, &conv.UnreadCount, &conv.LastMessageAt,
			&conv.CreatedAt, &conv.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		conv.Escalated = escalated != 0
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// MarkConversationEscalated flags a conversation for human handoff.
func (s *SQLiteStore) MarkConversationEscalated(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET escalated = 1, status = ?, updated_at = ? WHERE id = ?
	`, ConversationWaiting, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("marking conversation escalated: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchConversation updates a conversation's preview and activity timestamp.
func (s *SQLiteStore) TouchConversation(ctx context.Context, id, preview string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET preview = ?, last_message_at = ?, updated_at = ? WHERE id = ?
	`, Preview(preview), now, now, id)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	return nil
}

// SaveMessage appends a message to a conversation.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.ContentType == "" {
		msg.ContentType = ContentText
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_type, content_type, content, external_message_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.SenderType, msg.ContentType,
		msg.Content, msg.ExternalMessageID, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// ListMessages returns a conversation's messages in chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_type, content_type, content, external_message_id, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC
		LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg := &Message{}
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.SenderType, &msg.ContentType,
			&msg.Content, &msg.ExternalMessageID, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// SaveUsage stores a model usage record.
func (s *SQLiteStore) SaveUsage(ctx context.Context, usage *UsageEvent) error {
	if usage.ID == "" {
		usage.ID = uuid.New().String()
	}
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}
	success := 0
	if usage.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_events (id, conversation_id, request_id, stage, model, actual_model,
			prompt_tokens, completion_tokens, latency_ms, success, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, usage.ID, usage.ConversationID, usage.RequestID, usage.Stage, usage.Model,
		usage.ActualModel, usage.PromptTokens, usage.CompletionTokens,
		usage.LatencyMS, success, usage.Error, usage.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting usage: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateAccount inserts an account. Used by relayctl and tests; the serving
// path never creates accounts.
func (s *SQLiteStore) CreateAccount(ctx context.Context, a *Account) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	toneJSON, err := json.Marshal(a.Tone)
	if err != nil {
		return fmt.Errorf("encoding tone profile: %w", err)
	}
	salesJSON, err := json.Marshal(a.Sales)
	if err != nil {
		return fmt.Errorf("encoding sales context: %w", err)
	}
	active := 0
	if a.Active {
		active = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, clinic_id, platform, active, webhook_secret, access_token,
			persona_name, language, tone, knowledge_text, manual_text, sales, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.ClinicID, a.Platform, active, a.WebhookSecret, a.AccessToken,
		a.PersonaName, a.Language, string(toneJSON), a.KnowledgeText, a.ManualText,
		string(salesJSON), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting account: %w", err)
	}
	return nil
}
