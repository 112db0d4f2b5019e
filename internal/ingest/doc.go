// Package ingest processes inbound platform webhooks.
//
// The Service authenticates the account, verifies the webhook signature
// before reading any payload content, parses, and persists each message in
// one transactional scope. The HTTP response is sent as soon as persistence
// finishes; classification, reply generation and delivery scheduling run in
// a detached background task with its own context, recovered at the task
// boundary so a panic there can never take down the webhook listener.
package ingest
