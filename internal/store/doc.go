// Package store persists accounts, customers, conversations, messages and
// model usage. Two implementations back the Store interface: Postgres via
// pgx for multi-process deployments and SQLite via modernc for single-node
// and tests. MemStore is the in-package fake used by unit tests.
package store
