// ABOUTME: PostgreSQL implementation of the Store interface using pgx connection pooling
// ABOUTME: Primary multi-node persistence backend for the relay

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		logger: slog.Default().With("component", "store"),
	}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("PostgreSQL store initialized")
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *PostgresStore) createSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			clinic_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			webhook_secret TEXT NOT NULL DEFAULT '',
			access_token TEXT NOT NULL DEFAULT '',
			persona_name TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT 'en',
			tone JSONB NOT NULL DEFAULT '{}',
			knowledge_text TEXT NOT NULL DEFAULT '',
			manual_text TEXT NOT NULL DEFAULT '',
			sales JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS customers (
			id TEXT PRIMARY KEY,
			clinic_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			external_user_id TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_customers_natural_key
			ON customers(clinic_id, platform, external_user_id);

		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL REFERENCES customers(id),
			account_id TEXT NOT NULL,
			clinic_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			escalated BOOLEAN NOT NULL DEFAULT FALSE,
			preview TEXT NOT NULL DEFAULT '',
			unread_count INTEGER NOT NULL DEFAULT 0,
			last_message_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_open
			ON conversations(customer_id, account_id, status);

		CREATE INDEX IF NOT EXISTS idx_conversations_clinic
			ON conversations(clinic_id, last_message_at);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sender_type TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT 'text',
			content TEXT NOT NULL,
			external_message_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
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
			latency_ms BIGINT NOT NULL DEFAULT 0,
			success BOOLEAN NOT NULL DEFAULT TRUE,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// GetAccount retrieves an account by ID.
func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	var (
		a         Account
		toneJSON  []byte
		salesJSON []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, clinic_id, platform, active, webhook_secret, access_token,
		       persona_name, language, tone, knowledge_text, manual_text, sales,
		       created_at, updated_at
		FROM accounts WHERE id = $1
	`, id).Scan(
		&a.ID, &a.ClinicID, &a.Platform, &a.Active, &a.WebhookSecret, &a.AccessToken,
		&a.PersonaName, &a.Language, &toneJSON, &a.KnowledgeText, &a.ManualText, &salesJSON,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}

	if err := json.Unmarshal(toneJSON, &a.Tone); err != nil {
		return nil, fmt.Errorf("decoding tone profile: %w", err)
	}
	if err := json.Unmarshal(salesJSON, &a.Sales); err != nil {
		return nil, fmt.Errorf("decoding sales context: %w", err)
	}
	return &a, nil
}

// RecordInbound persists one inbound message inside a single transaction.
// The find-or-create path carries the same create race as the SQLite
// implementation; see DESIGN.md.
func (s *PostgresStore) RecordInbound(ctx context.Context, msg *NormalizedMessage) (*InboundResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	result := &InboundResult{}

	customer := &Customer{}
	err = tx.QueryRow(ctx, `
		SELECT id, clinic_id, platform, external_user_id, display_name, created_at
		FROM customers
		WHERE clinic_id = $1 AND platform = $2 AND external_user_id = $3
	`, msg.ClinicID, msg.Platform, msg.ExternalUserID).Scan(
		&customer.ID, &customer.ClinicID, &customer.Platform,
		&customer.ExternalUserID, &customer.DisplayName, &customer.CreatedAt,
	)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		customer = &Customer{
			ID:             uuid.New().String(),
			ClinicID:       msg.ClinicID,
			Platform:       msg.Platform,
			ExternalUserID: msg.ExternalUserID,
			DisplayName:    msg.SenderName,
			CreatedAt:      now,
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO customers (id, clinic_id, platform, external_user_id, display_name, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, customer.ID, customer.ClinicID, customer.Platform,
			customer.ExternalUserID, customer.DisplayName, customer.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("inserting customer: %w", err)
		}
		result.CustomerCreated = true
	case err != nil:
		return nil, fmt.Errorf("querying customer: %w", err)
	}

	conv := &Conversation{}
	err = tx.QueryRow(ctx, `
		SELECT id, customer_id, account_id, clinic_id, status, escalated,
		       preview, unread_count, last_message_at, created_at, updated_at
		FROM conversations
		WHERE customer_id = $1 AND account_id = $2 AND status IN ($3, $4)
		ORDER BY created_at DESC LIMIT 1
	`, customer.ID, msg.AccountID, ConversationActive, ConversationWaiting).Scan(
		&conv.ID, &conv.CustomerID, &conv.AccountID, &conv.ClinicID, &conv.Status,
		&conv.Escalated, &conv.Preview, &conv.UnreadCount, &conv.LastMessageAt,
		&conv.CreatedAt, &conv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		// No open conversation; a resolved one reopens instead of
		// spawning a sibling
		err = tx.QueryRow(ctx, `
			SELECT id, customer_id, account_id, clinic_id, status, escalated,
			       preview, unread_count, last_message_at, created_at, updated_at
			FROM conversations
			WHERE customer_id = $1 AND account_id = $2 AND status = $3
			ORDER BY created_at DESC LIMIT 1
		`, customer.ID, msg.AccountID, ConversationResolved).Scan(
			&conv.ID, &conv.CustomerID, &conv.AccountID, &conv.ClinicID, &conv.Status,
			&conv.Escalated, &conv.Preview, &conv.UnreadCount, &conv.LastMessageAt,
			&conv.CreatedAt, &conv.UpdatedAt,
		)
	}
	switch {
	case errors.Is(err, pgx.ErrNoRows):
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
		_, err = tx.Exec(ctx, `
			INSERT INTO conversations (id, customer_id, account_id, clinic_id, status,
				escalated, preview, unread_count, last_message_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, FALSE, '', 0, $6, $7, $8)
		`, conv.ID, conv.CustomerID, conv.AccountID, conv.ClinicID, conv.Status,
			conv.LastMessageAt, conv.CreatedAt, conv.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("inserting conversation: %w", err)
		}
		result.ConversationCreated = true
	case err != nil:
		return nil, fmt.Errorf("querying conversation: %w", err)
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
	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_type, content_type, content, external_message_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, message.ID, message.ConversationID, message.SenderType,
		message.ContentType, message.Content, message.ExternalMessageID, message.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	newStatus := conv.Status
	if conv.Status == ConversationResolved {
		newStatus = ConversationActive
		result.Reopened = true
	}
	preview := Preview(msg.Content)
	_, err = tx.Exec(ctx, `
		UPDATE conversations
		SET status = $1, preview = $2, unread_count = unread_count + 1,
		    last_message_at = $3, updated_at = $4
		WHERE id = $5
	`, newStatus, preview, now, now, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("updating conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
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
	return result, nil
}

// GetConversation retrieves a conversation by ID.
func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	conv := &Conversation{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, customer_id, account_id, clinic_id, status, escalated,
		       preview, unread_count, last_message_at, created_at, updated_at
		FROM conversations WHERE id = $1
	`, id).Scan(
		&conv.ID, &conv.CustomerID, &conv.AccountID, &conv.ClinicID, &conv.Status,
		&conv.Escalated, &conv.Preview, &conv.UnreadCount, &conv.LastMessageAt,
		&conv.CreatedAt, &conv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns a clinic's conversations, most recent first.
func (s *PostgresStore) ListConversations(ctx context.Context, clinicID string, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, customer_id, account_id, clinic_id, status, escalated,
		       preview, unread_count, last_message_at, created_at, updated_at
		FROM conversations
		WHERE clinic_id = $1
		ORDER BY last_message_at DESC
		LIMIT $2
	`, clinicID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv := &Conversation{}
		if err := rows.Scan(
			&conv.ID, &conv.CustomerID, &conv.AccountID, &conv.ClinicID, &conv.Status,
			&conv.Escalated, &conv.Preview, &conv.UnreadCount, &conv.LastMessageAt,
			&conv.CreatedAt, &conv.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// MarkConversationEscalated flags a conversation for human handoff.
func (s *PostgresStore) MarkConversationEscalated(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET escalated = TRUE, status = $1, updated_at = $2 WHERE id = $3
	`, ConversationWaiting, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("marking conversation escalated: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchConversation updates a conversation's preview and activity timestamp.
func (s *PostgresStore) TouchConversation(ctx context.Context, id, preview string) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		UPDATE conversations SET preview = $1, last_message_at = $2, updated_at = $3 WHERE id = $4
	`, Preview(preview), now, now, id)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	return nil
}

// SaveMessage appends a message to a conversation.
func (s *PostgresStore) SaveMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.ContentType == "" {
		msg.ContentType = ContentText
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_type, content_type, content, external_message_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, msg.ID, msg.ConversationID, msg.SenderType, msg.ContentType,
		msg.Content, msg.ExternalMessageID, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// ListMessages returns a conversation's messages in chronological order.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, sender_type, content_type, content, external_message_id, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
		LIMIT $2
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
func (s *PostgresStore) SaveUsage(ctx context.Context, usage *UsageEvent) error {
	if usage.ID == "" {
		usage.ID = uuid.New().String()
	}
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_events (id, conversation_id, request_id, stage, model, actual_model,
			prompt_tokens, completion_tokens, latency_ms, success, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, usage.ID, usage.ConversationID, usage.RequestID, usage.Stage, usage.Model,
		usage.ActualModel, usage.PromptTokens, usage.CompletionTokens,
		usage.LatencyMS, usage.Success, usage.Error, usage.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting usage: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
