// ABOUTME: Usage-tracking wrapper around the model client
// ABOUTME: Records one usage event per invocation, success or not

package model

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/halcyon-health/relay/internal/metrics"
	"github.com/halcyon-health/relay/internal/store"
)

// errMaxLen bounds the error text stored on a failed usage event.
const errMaxLen = 500

// Call carries the accounting identity for one model invocation.
type Call struct {
	ConversationID string
	RequestID      string
	Stage          string
	Request        openai.ChatCompletionRequest
}

// UsageSink is the slice of the store the tracker writes to.
type UsageSink interface {
	SaveUsage(ctx context.Context, event *store.UsageEvent) error
}

// Tracker invokes the model client and persists exactly one usage event
// for every call. A failed call still produces an event; the original
// error is returned untouched.
type Tracker struct {
	client *Client
	sink   UsageSink
	logger *slog.Logger

	now   func() time.Time
	newID func() string
}

func NewTracker(client *Client, sink UsageSink, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		client: client,
		sink:   sink,
		logger: logger.With("component", "model"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Complete runs the call through the underlying client and records usage.
// Persistence failures are logged and never surfaced to the caller.
func (t *Tracker) Complete(ctx context.Context, call Call) (openai.ChatCompletionResponse, error) {
	start := t.now()
	resp, err := t.client.Complete(ctx, call.Request)
	if err == nil && len(resp.Choices) == 0 {
		err = ErrEmptyResponse
	}
	latency := t.now().Sub(start)
	metrics.ModelLatency.WithLabelValues(call.Stage).Observe(latency.Seconds())

	requested := call.Request.Model
	if requested == "" {
		requested = t.client.defaultModel
	}
	event := &store.UsageEvent{
		ID:             t.newID(),
		ConversationID: call.ConversationID,
		RequestID:      call.RequestID,
		Stage:          call.Stage,
		Model:          requested,
		LatencyMS:      latency.Milliseconds(),
		Success:        err == nil,
		CreatedAt:      start,
	}
	if err != nil {
		event.Error = truncate(err.Error(), errMaxLen)
	} else {
		event.ActualModel = resp.Model
		event.PromptTokens = resp.Usage.PromptTokens
		event.CompletionTokens = resp.Usage.CompletionTokens
	}

	if saveErr := t.sink.SaveUsage(ctx, event); saveErr != nil {
		t.logger.Warn("failed to record usage event",
			"stage", call.Stage,
			"conversation_id", call.ConversationID,
			"error", saveErr)
	}

	return resp, err
}

// Text is a convenience for single-answer stages: it returns the first
// choice's content.
func (t *Tracker) Text(ctx context.Context, call Call) (string, error) {
	resp, err := t.Complete(ctx, call)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
