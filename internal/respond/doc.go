// Package respond generates AI replies to inbound customer messages.
//
// # Overview
//
// The Orchestrator is the single entry point. For each inbound message it
// runs escalation classification first; an ESCALATE result short-circuits
// everything else and returns a fixed handoff template with only the
// account's persona name substituted. Otherwise one of two strategies
// produces the reply:
//
//   - Agent: a tool-using loop over the model's function-calling API, with
//     a bounded number of iterations. Enabled per deployment.
//   - Pipeline: a strict three-stage sequence. Stage one extracts the facts
//     relevant to the question from the account's knowledge and manual
//     excerpts. Stage two restyles those facts into the account's language
//     and tone, preserving every fact. Stage three layers at most one sales
//     suggestion on top.
//
// Any agent failure falls back silently to the pipeline. A pipeline failure
// produces no reply at all; the conversation is left for staff.
//
// # Tools
//
// The agent's tools live in a ToolRegistry: knowledge lookup, booking
// request capture, and current promotions. Tools receive the account so
// every lookup is scoped to one clinic.
//
// # Usage
//
//	orch := respond.NewOrchestrator(classifier, agent, pipeline, store, fanout, deep, logger)
//	result, err := orch.Respond(ctx, req)
package respond
