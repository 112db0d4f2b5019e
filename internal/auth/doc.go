// Package auth verifies dashboard JWTs and attaches staff claims to
// request contexts. Token issuance lives outside this service; relayctl
// can mint tokens from the shared secret for operations use.
package auth
