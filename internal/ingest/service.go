// ABOUTME: Inbound webhook processing: verify, persist, broadcast, schedule reply
// ABOUTME: Reply generation and delivery run detached from the webhook request

package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/halcyon-health/relay/internal/broadcast"
	"github.com/halcyon-health/relay/internal/deliver"
	"github.com/halcyon-health/relay/internal/metrics"
	"github.com/halcyon-health/relay/internal/platform"
	"github.com/halcyon-health/relay/internal/respond"
	"github.com/halcyon-health/relay/internal/store"
)

const historyLimit = 30

// Ingest-time authentication failures. Both reject the webhook before any
// side effect happens.
var (
	ErrVerificationFailed = errors.New("webhook verification failed")
	ErrAccountInactive    = errors.New("account is inactive")
)

// Responder generates a reply for one persisted inbound message.
// Satisfied by respond.Orchestrator.
type Responder interface {
	Respond(ctx context.Context, req *respond.Request) (*respond.Result, error)
}

// Enqueuer schedules outbound deliveries. Satisfied by any deliver.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *deliver.Job) error
}

// Notifier publishes dashboard events. Satisfied by broadcast.Fanout.
type Notifier interface {
	Publish(ctx context.Context, event *broadcast.Event)
}

// Adapters resolves platform adapters by name.
type Adapters interface {
	Get(name string) (platform.Adapter, error)
}

// Service processes verified webhooks. Persistence happens inside the
// request; response generation and delivery run in a detached goroutine
// with its own context so webhook latency stays platform-friendly.
type Service struct {
	store    store.Store
	adapters Adapters
	respond  Responder
	queue    Enqueuer
	notifier Notifier
	logger   *slog.Logger

	// background builds the detached context for reply work. Tests swap it
	// to keep goroutines observable.
	background func() context.Context
	// done is invoked when a background task finishes. Tests use it to wait.
	done func()
}

func NewService(st store.Store, adapters Adapters, responder Responder, queue Enqueuer, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      st,
		adapters:   adapters,
		respond:    responder,
		queue:      queue,
		notifier:   notifier,
		logger:     logger.With("component", "ingest"),
		background: context.Background,
		done:       func() {},
	}
}

// HandleWebhook runs the full ingest sequence for one webhook delivery and
// returns how many messages were persisted. Verification precedes parsing;
// a verification failure has no side effects. A malformed payload is zero
// messages, not an error.
func (s *Service) HandleWebhook(ctx context.Context, platformName, accountID string, body []byte, header http.Header) (int, error) {
	account, adapter, err := s.authenticate(ctx, platformName, accountID)
	if err != nil {
		return 0, err
	}

	if !adapter.VerifyWebhook(body, header, account.WebhookSecret) {
		metrics.WebhooksReceived.WithLabelValues(platformName, "rejected").Inc()
		return 0, fmt.Errorf("account %s: %w", accountID, ErrVerificationFailed)
	}

	msgs, err := adapter.ParseWebhook(account, body)
	if err != nil {
		return 0, fmt.Errorf("parsing webhook for account %s: %w", accountID, err)
	}
	if len(msgs) == 0 {
		metrics.WebhooksReceived.WithLabelValues(platformName, "malformed").Inc()
		return 0, nil
	}
	metrics.WebhooksReceived.WithLabelValues(platformName, "ok").Inc()

	persisted := 0
	for _, msg := range msgs {
		msg.AccountID = account.ID
		msg.ClinicID = account.ClinicID

		result, err := s.store.RecordInbound(ctx, msg)
		if err != nil {
			return persisted, fmt.Errorf("recording inbound message: %w", err)
		}
		persisted++
		metrics.MessagesIngested.WithLabelValues(platformName).Inc()

		s.notifier.Publish(ctx, broadcast.NewMessageEvent(
			account.ClinicID,
			result.Conversation.ID,
			result.Message.ID,
			platformName,
			store.SenderCustomer,
			result.Conversation.Preview,
		))

		go s.respondAndDeliver(account, result)
	}
	return persisted, nil
}

// authenticate loads the account and adapter for a webhook path. An
// account registered for a different platform is treated as unknown.
func (s *Service) authenticate(ctx context.Context, platformName, accountID string) (*store.Account, platform.Adapter, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading account %s: %w", accountID, err)
	}
	if account.Platform != platformName {
		return nil, nil, fmt.Errorf("account %s: %w", accountID, store.ErrNotFound)
	}
	if !account.Active {
		return nil, nil, fmt.Errorf("account %s: %w", accountID, ErrAccountInactive)
	}
	adapter, err := s.adapters.Get(platformName)
	if err != nil {
		return nil, nil, err
	}
	return account, adapter, nil
}

// Challenge answers a platform's GET webhook-registration handshake.
// ok is false when the platform has no handshake or the token mismatches.
func (s *Service) Challenge(ctx context.Context, platformName, accountID string, query url.Values) (string, bool, error) {
	account, adapter, err := s.authenticate(ctx, platformName, accountID)
	if err != nil {
		return "", false, err
	}
	challenger, ok := adapter.(platform.Challenger)
	if !ok {
		return "", false, nil
	}
	challenge, ok := challenger.HandleChallenge(query, account.WebhookSecret)
	return challenge, ok, nil
}

// respondAndDeliver is the detached background task for one inbound
// message. It owns its own context; a panic is recovered and logged at
// this boundary, never crashing the process.
func (s *Service) respondAndDeliver(account *store.Account, result *store.InboundResult) {
	defer s.done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic generating reply",
				"conversation_id", result.Conversation.ID,
				"panic", r)
		}
	}()

	ctx := s.background()
	conv := result.Conversation

	if adapter, err := s.adapters.Get(account.Platform); err == nil {
		// Best-effort typing indicator while the reply is generated
		if err := adapter.SendTyping(ctx, account, result.Customer.ExternalUserID); err != nil {
			s.logger.Debug("typing indicator failed", "error", err)
		}
	}

	history := s.loadHistory(ctx, conv.ID, result.Message.ID)
	res, err := s.respond.Respond(ctx, &respond.Request{
		Account:      account,
		Conversation: conv,
		History:      history,
		Inbound:      result.Message.Content,
		RequestID:    uuid.NewString(),
	})
	if err != nil {
		// No automatic reply; the conversation stays active for staff pickup
		s.logger.Error("reply generation failed, leaving conversation for staff",
			"conversation_id", conv.ID,
			"error", err)
		return
	}
	metrics.RepliesGenerated.WithLabelValues(res.Strategy).Inc()
	if res.Escalated {
		metrics.Escalations.Inc()
	}

	aiMsg := &store.Message{
		ConversationID: conv.ID,
		SenderType:     store.SenderAI,
		ContentType:    store.ContentText,
		Content:        res.Reply,
	}
	if err := s.store.SaveMessage(ctx, aiMsg); err != nil {
		s.logger.Error("failed to save reply", "conversation_id", conv.ID, "error", err)
		return
	}
	if err := s.store.TouchConversation(ctx, conv.ID, res.Reply); err != nil {
		s.logger.Warn("failed to update conversation preview", "conversation_id", conv.ID, "error", err)
	}

	s.notifier.Publish(ctx, broadcast.NewMessageEvent(
		account.ClinicID,
		conv.ID,
		aiMsg.ID,
		account.Platform,
		store.SenderAI,
		store.Preview(res.Reply),
	))

	job := deliver.NewJob(aiMsg.ID, conv.ID, account.ClinicID, account.ID, account.Platform, result.Customer.ExternalUserID, res.Reply)
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.logger.Error("failed to enqueue delivery",
			"conversation_id", conv.ID,
			"message_id", aiMsg.ID,
			"error", err)
	}
}

// loadHistory returns the conversation transcript excluding the message
// being answered, which travels separately as the inbound text.
func (s *Service) loadHistory(ctx context.Context, conversationID, inboundMessageID string) []*store.Message {
	msgs, err := s.store.ListMessages(ctx, conversationID, historyLimit)
	if err != nil {
		s.logger.Warn("failed to load history, replying without it",
			"conversation_id", conversationID,
			"error", err)
		return nil
	}
	out := msgs[:0]
	for _, m := range msgs {
		if m.ID != inboundMessageID {
			out = append(out, m)
		}
	}
	return out
}
