// ABOUTME: Response orchestrator: escalation check, then agent with pipeline fallback
// ABOUTME: ESCALATE is a hard short-circuit returning a fixed handoff template

package respond

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/halcyon-health/relay/internal/broadcast"
	"github.com/halcyon-health/relay/internal/escalate"
)

// escalationTemplate is the only reply an escalated conversation gets from
// the system. Only the persona name varies.
const escalationTemplate = "This is %s. I've shared your message with our medical team right away, and a staff member will contact you shortly. If this is urgent, please call the clinic directly."

// Escalator is the store slice the orchestrator needs.
type Escalator interface {
	MarkConversationEscalated(ctx context.Context, id string) error
}

// Notifier publishes dashboard events. Satisfied by broadcast.Fanout.
type Notifier interface {
	Publish(ctx context.Context, event *broadcast.Event)
}

// Result is one generated reply plus how it was decided.
type Result struct {
	Reply     string
	Level     escalate.Level
	Escalated bool
	Strategy  string // "template", "agent" or "pipeline"
}

// Orchestrator decides how to answer an inbound message. Escalation is
// always evaluated first; when the level is ESCALATE neither generation
// strategy runs. Otherwise the agent answers when configured, falling back
// silently to the pipeline on any agent error.
type Orchestrator struct {
	classifier *escalate.Classifier
	agent      *Agent // nil disables the agent strategy
	pipeline   *Pipeline
	store      Escalator
	notifier   Notifier
	deep       bool
	logger     *slog.Logger
}

func NewOrchestrator(classifier *escalate.Classifier, agent *Agent, pipeline *Pipeline, esc Escalator, notifier Notifier, deepAnalysis bool, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		classifier: classifier,
		agent:      agent,
		pipeline:   pipeline,
		store:      esc,
		notifier:   notifier,
		deep:       deepAnalysis,
		logger:     logger.With("component", "orchestrator"),
	}
}

func (o *Orchestrator) Respond(ctx context.Context, req *Request) (*Result, error) {
	level, err := o.classifier.Classify(ctx, req.Conversation.ID, req.RequestID, req.Inbound, o.deep)
	if err != nil {
		// Classification trouble must not block the reply; the keyword
		// tier already ran, so proceed as non-urgent.
		o.logger.Warn("escalation classification failed, treating as none",
			"conversation_id", req.Conversation.ID,
			"error", err)
	}

	if level == escalate.LevelEscalate {
		return o.escalateConversation(ctx, req, level)
	}

	if o.agent != nil {
		reply, agentErr := o.agent.Reply(ctx, req)
		if agentErr == nil {
			return &Result{Reply: reply, Level: level, Strategy: "agent"}, nil
		}
		o.logger.Warn("agent strategy failed, falling back to pipeline",
			"conversation_id", req.Conversation.ID,
			"error", agentErr)
	}

	reply, err := o.pipeline.Reply(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("generating reply: %w", err)
	}
	return &Result{Reply: reply, Level: level, Strategy: "pipeline"}, nil
}

func (o *Orchestrator) escalateConversation(ctx context.Context, req *Request, level escalate.Level) (*Result, error) {
	if err := o.store.MarkConversationEscalated(ctx, req.Conversation.ID); err != nil {
		// The customer still gets the handoff template; staff are reached
		// through the event below even if the flag write failed.
		o.logger.Error("failed to mark conversation escalated",
			"conversation_id", req.Conversation.ID,
			"error", err)
	}
	if o.notifier != nil {
		o.notifier.Publish(ctx, broadcast.EscalatedEvent(req.Account.ClinicID, req.Conversation.ID))
	}

	persona := req.Account.PersonaName
	if persona == "" {
		persona = "the clinic team"
	}
	return &Result{
		Reply:     fmt.Sprintf(escalationTemplate, persona),
		Level:     level,
		Escalated: true,
		Strategy:  "template",
	}, nil
}
