// Package gateway assembles the relay process: store, queue, platform
// adapters, response orchestration and the HTTP surface (webhooks,
// dashboard API, SSE event stream, health and metrics).
package gateway
