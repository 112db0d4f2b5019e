// ABOUTME: Three-stage reply pipeline: extract facts, restyle, layer sales
// ABOUTME: Stages run strictly in sequence and each is one model call

package respond

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/halcyon-health/relay/internal/model"
	"github.com/halcyon-health/relay/internal/store"
)

const pipelineMaxTokens = 1024

// Pipeline generates a reply in three fixed stages. No stage is skipped
// and no stage runs in parallel: each consumes the previous stage's text.
type Pipeline struct {
	model  ModelClient
	logger *slog.Logger
}

func NewPipeline(client ModelClient, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		model:  client,
		logger: logger.With("component", "pipeline"),
	}
}

func (p *Pipeline) Reply(ctx context.Context, req *Request) (string, error) {
	facts, err := p.stage(ctx, req, "extract", extractPrompt(req.Account), req.Inbound)
	if err != nil {
		return "", fmt.Errorf("extract stage: %w", err)
	}

	styled, err := p.stage(ctx, req, "style", stylePrompt(req.Account), facts)
	if err != nil {
		return "", fmt.Errorf("style stage: %w", err)
	}

	final, err := p.stage(ctx, req, "sales", salesPrompt(req.Account), styled)
	if err != nil {
		return "", fmt.Errorf("sales stage: %w", err)
	}

	return final, nil
}

// stage is one pure (text, context) -> text model call.
func (p *Pipeline) stage(ctx context.Context, req *Request, name, system, input string) (string, error) {
	return p.model.Text(ctx, model.Call{
		ConversationID: req.Conversation.ID,
		RequestID:      req.RequestID,
		Stage:          name,
		Request: openai.ChatCompletionRequest{
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: input},
			},
			MaxTokens:   pipelineMaxTokens,
			Temperature: 0.3,
		},
	})
}

func extractPrompt(account *store.Account) string {
	var b strings.Builder
	b.WriteString("Extract the medical facts needed to answer the customer message below.\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Use ONLY facts present in the knowledge excerpt and clinic manual supplied here. If the answer is not covered, say so.\n")
	b.WriteString("- NEVER include internal-only figures: margins, material costs, supplier terms.\n")
	b.WriteString("- Output a plain list of facts, no styling, no greeting.\n\n")
	b.WriteString("Knowledge excerpt:\n")
	b.WriteString(account.KnowledgeText)
	b.WriteString("\n\nClinic manual:\n")
	b.WriteString(account.ManualText)
	return b.String()
}

func stylePrompt(account *store.Account) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rewrite the fact list below as a reply to the customer in %s.\n", languageName(account.Language))
	b.WriteString("Every fact must appear in the reply unchanged in meaning. Do not add facts. Do not drop facts.\n")
	fmt.Fprintf(&b, "Tone: %s. Emoji use: %s.\n", formalityName(account.Tone.Formality), emojiName(account.Tone.EmojiLevel))
	if len(account.Tone.PreferredPhrase) > 0 {
		fmt.Fprintf(&b, "Prefer phrasings like: %s.\n", strings.Join(account.Tone.PreferredPhrase, "; "))
	}
	if len(account.Tone.AvoidedPhrase) > 0 {
		fmt.Fprintf(&b, "Never use: %s.\n", strings.Join(account.Tone.AvoidedPhrase, "; "))
	}
	return b.String()
}

func salesPrompt(account *store.Account) string {
	var b strings.Builder
	b.WriteString("Refine the reply below by weaving in at most one relevant suggestion from the clinic's sales context.\n")
	b.WriteString("Keep every existing sentence's meaning. Do not expose internal prioritization or scoring.\n")
	b.WriteString("If nothing fits naturally, return the reply unchanged.\n\n")
	writeList := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		b.WriteString(title + ": " + strings.Join(items, ", ") + "\n")
	}
	writeList("Top procedures", account.Sales.TopProcedures)
	writeList("Promotions", account.Sales.Promotions)
	writeList("Cross-sell options", account.Sales.CrossSells)
	return b.String()
}

func formalityName(v string) string {
	switch v {
	case "casual":
		return "casual and friendly"
	case "formal":
		return "formal and respectful"
	default:
		return "polite"
	}
}

func emojiName(v string) string {
	switch v {
	case "heavy":
		return "frequent"
	case "light":
		return "occasional"
	default:
		return "none"
	}
}
