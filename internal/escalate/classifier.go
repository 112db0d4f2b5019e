// ABOUTME: Two-tier urgency classifier for inbound customer messages
// ABOUTME: Keyword scan first, optional model classification second

package escalate

import (
	"context"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/halcyon-health/relay/internal/model"
)

// Level is the urgency of an inbound message.
type Level int

const (
	LevelNone Level = iota
	LevelMonitor
	LevelEscalate
)

func (l Level) String() string {
	switch l {
	case LevelMonitor:
		return "monitor"
	case LevelEscalate:
		return "escalate"
	default:
		return "none"
	}
}

const classifierPrompt = `You triage messages sent to a medical aesthetics clinic.
Rate the urgency of the customer message below.
Answer with a single digit and nothing else:
0 = routine inquiry
1 = worth monitoring (dissatisfaction, mild symptoms)
2 = needs a human now (medical emergency, severe reaction, legal threat)

Customer message:
`

// Completer is the model surface the classifier needs.
type Completer interface {
	Text(ctx context.Context, call model.Call) (string, error)
}

// Classifier detects urgent messages. Tier 1 is a substring scan over
// every configured language's keyword list; the customer's own language
// is deliberately not used to narrow the scan. Tier 2 asks the model
// only when the caller requests deep analysis and tier 1 found nothing.
type Classifier struct {
	keywords map[string][]string
	model    Completer
}

// NewClassifier lowercases the keyword lists once up front. A nil
// completer disables tier 2.
func NewClassifier(keywords map[string][]string, completer Completer) *Classifier {
	lowered := make(map[string][]string, len(keywords))
	for lang, list := range keywords {
		out := make([]string, 0, len(list))
		for _, kw := range list {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				out = append(out, kw)
			}
		}
		lowered[lang] = out
	}
	return &Classifier{keywords: lowered, model: completer}
}

// DefaultKeywords covers the launch languages. Clinics can override the
// lists per deployment in config.
func DefaultKeywords() map[string][]string {
	return map[string][]string{
		"en": {"emergency", "severe pain", "bleeding", "allergic reaction", "can't breathe", "infection", "lawsuit", "sue you", "refund now"},
		"ko": {"응급", "부작용", "출혈", "알레르기", "염증", "심한 통증", "고소", "환불"},
		"ja": {"緊急", "副作用", "出血", "アレルギー", "激痛", "訴訟", "返金"},
		"th": {"ฉุกเฉิน", "เลือดออก", "แพ้", "ติดเชื้อ", "ปวดมาก"},
	}
}

// Classify returns the urgency of text. A keyword hit in any language
// returns LevelEscalate without touching the model. When the model call
// fails the caller gets LevelNone alongside the error.
func (c *Classifier) Classify(ctx context.Context, conversationID, requestID, text string, deep bool) (Level, error) {
	lowered := strings.ToLower(text)
	for _, list := range c.keywords {
		for _, kw := range list {
			if strings.Contains(lowered, kw) {
				return LevelEscalate, nil
			}
		}
	}

	if !deep || c.model == nil {
		return LevelNone, nil
	}

	answer, err := c.model.Text(ctx, model.Call{
		ConversationID: conversationID,
		RequestID:      requestID,
		Stage:          "escalation",
		Request: openai.ChatCompletionRequest{
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: classifierPrompt + text},
			},
			MaxTokens:   4,
			Temperature: 0,
		},
	})
	if err != nil {
		return LevelNone, err
	}
	return parseLevel(answer), nil
}

// parseLevel reads the first recognized digit in the model's answer.
// Anything else means no escalation.
func parseLevel(answer string) Level {
	for _, r := range answer {
		switch r {
		case '0':
			return LevelNone
		case '1':
			return LevelMonitor
		case '2':
			return LevelEscalate
		}
	}
	return LevelNone
}
