// Package model wraps the OpenAI-compatible chat client with usage
// accounting. Every invocation, successful or not, records exactly one
// UsageEvent with latency, token counts and the model actually served.
package model
