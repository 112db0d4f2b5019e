// ABOUTME: Tests for the ingest service and webhook handlers
// ABOUTME: Covers verification fail-closed, zero-message payloads and background replies

package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-health/relay/internal/broadcast"
	"github.com/halcyon-health/relay/internal/deliver"
	"github.com/halcyon-health/relay/internal/platform"
	"github.com/halcyon-health/relay/internal/resilience"
	"github.com/halcyon-health/relay/internal/respond"
	"github.com/halcyon-health/relay/internal/store"
)

// fakeResponder scripts the orchestrator.
type fakeResponder struct {
	result *respond.Result
	err    error
	calls  int
}

func (f *fakeResponder) Respond(_ context.Context, _ *respond.Request) (*respond.Result, error) {
	f.calls++
	return f.result, f.err
}

type captureNotifier struct {
	mu     sync.Mutex
	events []*broadcast.Event
}

func (n *captureNotifier) Publish(_ context.Context, event *broadcast.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *captureNotifier) byType(eventType string) []*broadcast.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*broadcast.Event
	for _, e := range n.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

const testSecret = "hook-secret"

// quietAdapter suppresses real outbound calls (typing indicators) while
// keeping the adapter's verification and parsing behavior.
type quietAdapter struct {
	platform.Adapter
}

func (quietAdapter) SendTyping(context.Context, *store.Account, string) error { return nil }

func testRegistry() *platform.Registry {
	client := platform.NewClient(time.Second, resilience.NewRegistry(5, time.Minute),
		resilience.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}, nil)
	registry := platform.NewRegistry(client)
	for _, name := range registry.Platforms() {
		adapter, _ := registry.Get(name)
		registry.Register(name, quietAdapter{adapter})
	}
	return registry
}

func telegramAccount() *store.Account {
	return &store.Account{
		ID:            "acct-1",
		ClinicID:      "clinic-1",
		Platform:      platform.Telegram,
		Active:        true,
		WebhookSecret: testSecret,
		AccessToken:   "bot-token",
		PersonaName:   "Yuna",
	}
}

type fixture struct {
	service   *Service
	store     *store.MemStore
	queue     *deliver.MemQueue
	notifier  *captureNotifier
	responder *fakeResponder
	wg        *sync.WaitGroup
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemStore()
	mem.PutAccount(telegramAccount())

	queue := deliver.NewMemQueue()
	notifier := &captureNotifier{}
	responder := &fakeResponder{result: &respond.Result{Reply: "we are open 10am-7pm", Strategy: "pipeline"}}

	svc := NewService(mem, testRegistry(), responder, queue, notifier, nil)

	wg := &sync.WaitGroup{}
	svc.background = context.Background
	svc.done = wg.Done

	return &fixture{service: svc, store: mem, queue: queue, notifier: notifier, responder: responder, wg: wg}
}

func telegramUpdate(text string) []byte {
	return []byte(`{
		"update_id": 1,
		"message": {
			"message_id": 77,
			"from": {"id": 555, "first_name": "Hana"},
			"chat": {"id": 555, "type": "private"},
			"date": 1700000000,
			"text": "` + text + `"
		}
	}`)
}

func signedHeader() http.Header {
	h := http.Header{}
	h.Set("X-Telegram-Bot-Api-Secret-Token", testSecret)
	return h
}

func TestHandleWebhook_PersistsBroadcastsAndSchedulesReply(t *testing.T) {
	f := newFixture(t)

	f.wg.Add(1)
	count, err := f.service.HandleWebhook(t.Context(), platform.Telegram, "acct-1", telegramUpdate("hello"), signedHeader())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	f.wg.Wait()

	// Inbound and AI reply both broadcast
	newMessages := f.notifier.byType(broadcast.EventNewMessage)
	require.Len(t, newMessages, 2)
	assert.Equal(t, store.SenderCustomer, newMessages[0].SenderType)
	assert.Equal(t, store.SenderAI, newMessages[1].SenderType)
	assert.Equal(t, "clinic-1", newMessages[0].ClinicID)

	// The reply was persisted and queued for delivery
	assert.Equal(t, 1, f.responder.calls)
	job, err := f.queue.Dequeue(t.Context(), 0)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "we are open 10am-7pm", job.Text)
	assert.Equal(t, "555", job.RecipientID)
	assert.Equal(t, platform.Telegram, job.Platform)

	msgs, err := f.store.ListMessages(t.Context(), job.ConversationID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.SenderAI, msgs[1].SenderType)
}

func TestHandleWebhook_BadSignatureHasNoSideEffects(t *testing.T) {
	f := newFixture(t)

	header := http.Header{}
	header.Set("X-Telegram-Bot-Api-Secret-Token", "wrong")
	_, err := f.service.HandleWebhook(t.Context(), platform.Telegram, "acct-1", telegramUpdate("hello"), header)
	assert.ErrorIs(t, err, ErrVerificationFailed)

	assert.Zero(t, f.store.CustomerCount())
	assert.Empty(t, f.notifier.events)
	assert.Zero(t, f.responder.calls)
}

func TestHandleWebhook_InactiveAccountRejected(t *testing.T) {
	f := newFixture(t)
	acct := telegramAccount()
	acct.Active = false
	f.store.PutAccount(acct)

	_, err := f.service.HandleWebhook(t.Context(), platform.Telegram, "acct-1", telegramUpdate("hello"), signedHeader())
	assert.ErrorIs(t, err, ErrAccountInactive)
	assert.Zero(t, f.store.CustomerCount())
}

func TestHandleWebhook_PlatformMismatchIsNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.HandleWebhook(t.Context(), platform.Line, "acct-1", []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHandleWebhook_MalformedPayloadIsZeroMessages(t *testing.T) {
	f := newFixture(t)

	count, err := f.service.HandleWebhook(t.Context(), platform.Telegram, "acct-1", []byte(`{"update_id": 9}`), signedHeader())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, f.store.CustomerCount())
	assert.Zero(t, f.responder.calls)
}

func TestHandleWebhook_ResponderFailureLeavesConversationActive(t *testing.T) {
	f := newFixture(t)
	f.responder.result = nil
	f.responder.err = errors.New("every model down")

	f.wg.Add(1)
	_, err := f.service.HandleWebhook(t.Context(), platform.Telegram, "acct-1", telegramUpdate("hello"), signedHeader())
	require.NoError(t, err)
	f.wg.Wait()

	// No reply queued, no AI broadcast, conversation still active
	job, err := f.queue.Dequeue(t.Context(), 0)
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Len(t, f.notifier.byType(broadcast.EventNewMessage), 1)

	convs, err := f.store.ListConversations(t.Context(), "clinic-1", 0)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, store.ConversationActive, convs[0].Status)
}

func TestHandleWebhook_PanicInBackgroundTaskIsContained(t *testing.T) {
	f := newFixture(t)
	f.responder.result = nil // Respond returns (nil, nil); using the result panics

	f.wg.Add(1)
	_, err := f.service.HandleWebhook(t.Context(), platform.Telegram, "acct-1", telegramUpdate("hello"), signedHeader())
	require.NoError(t, err)
	f.wg.Wait()

	// The panic was recovered; the inbound message survived
	assert.Equal(t, 1, f.store.CustomerCount())
}

func TestReceive_HTTPStatusMapping(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.service, nil)
	r := chi.NewRouter()
	h.Mount(r)

	cases := []struct {
		name   string
		path   string
		header http.Header
		body   string
		status int
	}{
		{"unknown account", "/webhooks/telegram/nope", signedHeader(), `{}`, http.StatusNotFound},
		{"unknown platform", "/webhooks/msn/acct-1", signedHeader(), `{}`, http.StatusNotFound},
		{"bad signature", "/webhooks/telegram/acct-1", http.Header{}, `{}`, http.StatusForbidden},
		{"malformed payload", "/webhooks/telegram/acct-1", signedHeader(), `not json`, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(tc.body))
			req.Header = tc.header
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestVerify_ChallengeHandshake(t *testing.T) {
	mem := store.NewMemStore()
	mem.PutAccount(&store.Account{
		ID:            "acct-m",
		ClinicID:      "clinic-1",
		Platform:      platform.Messenger,
		Active:        true,
		WebhookSecret: "verify-token",
	})
	client := platform.NewClient(time.Second, resilience.NewRegistry(5, time.Minute),
		resilience.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}, nil)
	svc := NewService(mem, platform.NewRegistry(client), &fakeResponder{}, deliver.NewMemQueue(), &captureNotifier{}, nil)
	h := NewHandler(svc, nil)
	r := chi.NewRouter()
	h.Mount(r)

	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/messenger/acct-m?hub.mode=subscribe&hub.verify_token=verify-token&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet,
		"/webhooks/messenger/acct-m?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
