// ABOUTME: Tests for the usage-tracking model wrapper
// ABOUTME: Verifies exactly one usage event per call, on success and failure

package model

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-health/relay/internal/store"
)

type fakeInvoker struct {
	calls int
	resp  openai.ChatCompletionResponse
	err   error
}

func (f *fakeInvoker) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls++
	return f.resp, f.err
}

func textResponse(model, content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Model: model,
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}},
		},
		Usage: openai.Usage{PromptTokens: 120, CompletionTokens: 45},
	}
}

func newTestTracker(invoker *fakeInvoker, sink UsageSink) *Tracker {
	tr := NewTracker(NewClientWithInvoker(invoker, "gpt-4o-mini"), sink, nil)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	tr.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * 250 * time.Millisecond)
	}
	return tr
}

func TestTracker_RecordsOneEventPerSuccessfulCall(t *testing.T) {
	invoker := &fakeInvoker{resp: textResponse("gpt-4o-mini-2024-07-18", "hello")}
	mem := store.NewMemStore()
	tr := newTestTracker(invoker, mem)

	resp, err := tr.Complete(t.Context(), Call{
		ConversationID: "conv-1",
		RequestID:      "req-1",
		Stage:          "extract",
		Request:        openai.ChatCompletionRequest{},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Choices[0].Message.Content)
	assert.Equal(t, 1, invoker.calls)

	events := mem.UsageEvents()
	require.Len(t, events, 1)
	event := events[0]
	assert.True(t, event.Success)
	assert.Equal(t, "extract", event.Stage)
	assert.Equal(t, "conv-1", event.ConversationID)
	assert.Equal(t, "gpt-4o-mini", event.Model)
	assert.Equal(t, "gpt-4o-mini-2024-07-18", event.ActualModel)
	assert.Equal(t, 120, event.PromptTokens)
	assert.Equal(t, 45, event.CompletionTokens)
	assert.Equal(t, int64(250), event.LatencyMS)
	assert.Empty(t, event.Error)
}

func TestTracker_FailureStillRecordsEventAndReturnsOriginalError(t *testing.T) {
	callErr := errors.New("upstream exploded: " + strings.Repeat("x", 600))
	invoker := &fakeInvoker{err: callErr}
	mem := store.NewMemStore()
	tr := newTestTracker(invoker, mem)

	_, err := tr.Complete(t.Context(), Call{ConversationID: "conv-1", Stage: "style"})
	assert.ErrorIs(t, err, callErr)

	events := mem.UsageEvents()
	require.Len(t, events, 1)
	event := events[0]
	assert.False(t, event.Success)
	assert.Len(t, event.Error, errMaxLen)
	assert.Empty(t, event.ActualModel)
	assert.Zero(t, event.PromptTokens)
}

func TestTracker_EmptyChoicesIsAnError(t *testing.T) {
	invoker := &fakeInvoker{resp: openai.ChatCompletionResponse{Model: "gpt-4o-mini"}}
	mem := store.NewMemStore()
	tr := newTestTracker(invoker, mem)

	_, err := tr.Text(t.Context(), Call{ConversationID: "conv-1", Stage: "extract"})
	assert.ErrorIs(t, err, ErrEmptyResponse)

	events := mem.UsageEvents()
	require.Len(t, events, 1)
	assert.False(t, events[0].Success)
}

func TestTracker_SinkFailureDoesNotFailTheCall(t *testing.T) {
	invoker := &fakeInvoker{resp: textResponse("gpt-4o-mini", "fine")}
	mem := store.NewMemStore()
	mem.SaveUsageErr = errors.New("disk full")
	tr := newTestTracker(invoker, mem)

	text, err := tr.Text(t.Context(), Call{ConversationID: "conv-1", Stage: "extract"})
	require.NoError(t, err)
	assert.Equal(t, "fine", text)
}
