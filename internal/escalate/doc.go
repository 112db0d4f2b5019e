// Package escalate classifies inbound messages for medical urgency.
//
// Tier one is a keyword scan over every configured language's list; any
// hit escalates immediately without a model call. Tier two, used only
// when deep analysis is enabled and tier one found nothing, asks the
// model for a single digit and maps it to an escalation level. Anything
// unrecognized means no escalation: the classifier fails quiet, never
// loud.
package escalate
