// Package broadcast fans events out to clinic dashboard connections.
//
// The Hub delivers events to subscribers within one process: buffered
// channels, non-blocking publish that drops for slow subscribers, and
// automatic unsubscribe on context cancellation. Fanout layers a shared
// Redis pub/sub channel per clinic on top so every process's dashboards
// see every event. When the shared publish fails, delivery degrades to
// the local hub and the error is swallowed: notification failures never
// fail message processing.
package broadcast
