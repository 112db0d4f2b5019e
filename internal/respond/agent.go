// ABOUTME: Tool-using agent strategy with a bounded reasoning loop
// ABOUTME: Call model, execute requested tools, repeat until a text answer

package respond

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/halcyon-health/relay/internal/model"
	"github.com/halcyon-health/relay/internal/store"
)

const (
	agentMaxIterations = 6
	agentMaxTokens     = 1024
	agentTemperature   = 0.7
)

// ErrAgentExhausted means the agent hit its iteration bound without
// producing a final text answer.
var ErrAgentExhausted = errors.New("agent reached iteration limit without an answer")

// ModelClient is the slice of the usage tracker the strategies call.
type ModelClient interface {
	Complete(ctx context.Context, call model.Call) (openai.ChatCompletionResponse, error)
	Text(ctx context.Context, call model.Call) (string, error)
}

// Request carries everything one reply generation needs.
type Request struct {
	Account      *store.Account
	Conversation *store.Conversation
	History      []*store.Message
	Inbound      string
	RequestID    string
}

// Agent answers with tool support. Each loop turn sends the running
// transcript plus tool definitions; tool calls are executed and their
// results appended until the model answers in plain text.
type Agent struct {
	model         ModelClient
	tools         *ToolRegistry
	logger        *slog.Logger
	maxIterations int
}

func NewAgent(client ModelClient, tools *ToolRegistry, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		model:         client,
		tools:         tools,
		logger:        logger.With("component", "agent"),
		maxIterations: agentMaxIterations,
	}
}

func (a *Agent) Reply(ctx context.Context, req *Request) (string, error) {
	messages := transcript(agentSystemPrompt(req.Account), req.History, req.Inbound)
	defs := a.tools.Definitions()

	for iteration := 0; iteration < a.maxIterations; iteration++ {
		resp, err := a.model.Complete(ctx, model.Call{
			ConversationID: req.Conversation.ID,
			RequestID:      req.RequestID,
			Stage:          "agent",
			Request: openai.ChatCompletionRequest{
				Messages:    messages,
				Tools:       defs,
				MaxTokens:   agentMaxTokens,
				Temperature: agentTemperature,
			},
		})
		if err != nil {
			return "", fmt.Errorf("agent iteration %d: %w", iteration+1, err)
		}

		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			if strings.TrimSpace(msg.Content) == "" {
				return "", fmt.Errorf("agent iteration %d: empty answer", iteration+1)
			}
			return msg.Content, nil
		}

		messages = append(messages, msg)
		for _, tc := range msg.ToolCalls {
			result, toolErr := a.tools.Execute(ctx, req.Account, tc.Function.Name, tc.Function.Arguments)
			if toolErr != nil {
				// The model sees the failure and can answer around it
				result = "tool error: " + toolErr.Error()
				a.logger.Warn("tool execution failed",
					"tool", tc.Function.Name,
					"conversation_id", req.Conversation.ID,
					"error", toolErr)
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}

	return "", ErrAgentExhausted
}

func agentSystemPrompt(account *store.Account) string {
	var b strings.Builder
	persona := account.PersonaName
	if persona == "" {
		persona = "the clinic assistant"
	}
	fmt.Fprintf(&b, "You are %s, the consultation assistant for a medical aesthetics clinic. ", persona)
	fmt.Fprintf(&b, "Answer in %s. ", languageName(account.Language))
	b.WriteString("Use the available tools to look up clinic information, capture booking requests, and surface promotions. ")
	b.WriteString("Only state medical facts you can ground in the clinic's knowledge base. ")
	b.WriteString("Never mention internal figures such as margins or material costs. ")
	b.WriteString("If you cannot help, say a staff member will follow up.")
	return b.String()
}

// transcript builds the provider message list from stored history plus the
// new inbound text.
func transcript(system string, history []*store.Message, inbound string) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: system,
	})
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.SenderType == store.SenderAI || m.SenderType == store.SenderStaff {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: inbound,
	})
	return messages
}

func languageName(code string) string {
	switch code {
	case "ko":
		return "Korean"
	case "ja":
		return "Japanese"
	case "th":
		return "Thai"
	case "zh":
		return "Chinese"
	case "", "en":
		return "English"
	default:
		return code
	}
}
