// ABOUTME: Thin chat-completion client over the OpenAI-compatible API
// ABOUTME: Supports custom base URLs so self-hosted gateways can serve the same surface

package model

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

// ErrEmptyResponse means the provider returned no choices.
var ErrEmptyResponse = errors.New("model returned no choices")

// Invoker is the completion surface we need from the provider SDK.
// *openai.Client satisfies it.
type Invoker interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client wraps the provider SDK with a configured default model.
type Client struct {
	inner        Invoker
	defaultModel string
}

func NewClient(apiKey, baseURL, defaultModel string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if defaultModel == "" {
		defaultModel = openai.GPT4oMini
	}
	return &Client{inner: openai.NewClientWithConfig(cfg), defaultModel: defaultModel}
}

// NewClientWithInvoker exists for tests and alternate providers.
func NewClientWithInvoker(inner Invoker, defaultModel string) *Client {
	return &Client{inner: inner, defaultModel: defaultModel}
}

// Complete sends one chat completion request, filling in the default model
// when the request leaves it blank.
func (c *Client) Complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if req.Model == "" {
		req.Model = c.defaultModel
	}
	return c.inner.CreateChatCompletion(ctx, req)
}
