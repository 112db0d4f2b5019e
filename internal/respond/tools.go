// ABOUTME: Tool registry for the agent strategy
// ABOUTME: Built-in tools answer from the account's own consultation context

package respond

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/halcyon-health/relay/internal/store"
)

// maxLookupMatches bounds how many knowledge lines one lookup returns.
const maxLookupMatches = 8

// Tool is one callable capability exposed to the agent.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, account *store.Account, args map[string]any) (string, error)
}

// ToolRegistry holds the agent's tools and executes them by name.
type ToolRegistry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *slog.Logger
}

func NewToolRegistry(logger *slog.Logger) *ToolRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolRegistry{
		tools:  make(map[string]Tool),
		logger: logger.With("component", "tools"),
	}
}

// DefaultToolRegistry registers the built-in consultation tools.
func DefaultToolRegistry(logger *slog.Logger) *ToolRegistry {
	r := NewToolRegistry(logger)
	r.Register(&knowledgeLookupTool{})
	r.Register(&bookingRequestTool{})
	r.Register(&promotionsTool{})
	return r
}

func (r *ToolRegistry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	r.logger.Debug("registered tool", "name", t.Name())
}

// Definitions returns the registered tools as provider function definitions.
func (r *ToolRegistry) Definitions() []openai.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]openai.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute parses the raw JSON arguments and runs the named tool.
func (r *ToolRegistry) Execute(ctx context.Context, account *store.Account, name, rawArgs string) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}

	args := map[string]any{}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return "", fmt.Errorf("parsing arguments for %s: %w", name, err)
		}
	}
	return t.Execute(ctx, account, args)
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

// toolParameters builds a JSON Schema parameters object.
func toolParameters(properties map[string]map[string]any, required []string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// knowledgeLookupTool searches the account's knowledge excerpt and clinic
// manual for lines matching a query.
type knowledgeLookupTool struct{}

func (*knowledgeLookupTool) Name() string { return "lookup_knowledge" }

func (*knowledgeLookupTool) Description() string {
	return "Search the clinic's knowledge base and operations manual for information about procedures, aftercare, and policies."
}

func (*knowledgeLookupTool) Parameters() map[string]any {
	return toolParameters(map[string]map[string]any{
		"query": {"type": "string", "description": "Search terms, e.g. a procedure name or topic"},
	}, []string{"query"})
}

func (*knowledgeLookupTool) Execute(_ context.Context, account *store.Account, args map[string]any) (string, error) {
	query := strings.ToLower(strings.TrimSpace(argString(args, "query")))
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	terms := strings.Fields(query)
	var matches []string
	for _, line := range strings.Split(account.KnowledgeText+"\n"+account.ManualText, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lowered := strings.ToLower(line)
		for _, term := range terms {
			if strings.Contains(lowered, term) {
				matches = append(matches, line)
				break
			}
		}
		if len(matches) == maxLookupMatches {
			break
		}
	}
	if len(matches) == 0 {
		return "No matching entries found.", nil
	}
	return strings.Join(matches, "\n"), nil
}

// bookingRequestTool captures a booking request for staff follow-up. There
// is no live calendar integration; staff confirm every slot.
type bookingRequestTool struct{}

func (*bookingRequestTool) Name() string { return "request_booking" }

func (*bookingRequestTool) Description() string {
	return "Record the customer's preferred appointment slot so clinic staff can confirm it. Use when the customer wants to book or reschedule."
}

func (*bookingRequestTool) Parameters() map[string]any {
	return toolParameters(map[string]map[string]any{
		"procedure":      {"type": "string", "description": "The procedure the customer wants"},
		"preferred_time": {"type": "string", "description": "The customer's preferred date and time, in their own words"},
	}, []string{"preferred_time"})
}

func (*bookingRequestTool) Execute(_ context.Context, _ *store.Account, args map[string]any) (string, error) {
	when := argString(args, "preferred_time")
	if when == "" {
		return "", fmt.Errorf("preferred_time is required")
	}
	procedure := argString(args, "procedure")
	if procedure == "" {
		procedure = "a consultation"
	}
	return fmt.Sprintf("Booking request noted: %s at %s. Staff will confirm availability with the customer shortly.", procedure, when), nil
}

// promotionsTool surfaces the clinic's current promotional context.
type promotionsTool struct{}

func (*promotionsTool) Name() string { return "list_promotions" }

func (*promotionsTool) Description() string {
	return "List the clinic's featured procedures, current promotions, and related treatment options."
}

func (*promotionsTool) Parameters() map[string]any {
	return toolParameters(map[string]map[string]any{}, nil)
}

func (*promotionsTool) Execute(_ context.Context, account *store.Account, _ map[string]any) (string, error) {
	var b strings.Builder
	writeList := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		b.WriteString(title + ":\n")
		for _, item := range items {
			b.WriteString("- " + item + "\n")
		}
	}
	writeList("Featured procedures", account.Sales.TopProcedures)
	writeList("Current promotions", account.Sales.Promotions)
	writeList("Often combined with", account.Sales.CrossSells)
	if b.Len() == 0 {
		return "No promotional information configured.", nil
	}
	return b.String(), nil
}
