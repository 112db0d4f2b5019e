// Package deliver sends generated replies back to chat platforms.
//
// # Overview
//
// Replies are enqueued as DeliveryJobs and drained by a Worker. The Queue
// interface has two implementations: a Redis-backed queue (ready list,
// delayed ZSET, capped dead-letter list) shared between processes, and an
// in-memory queue for tests and single-process deployments.
//
// # Retry semantics
//
// A transient send failure requeues the job with an exponentially growing
// delay until the configured attempt budget is exhausted, after which the
// job is dead-lettered and exactly one delivery_failed event is broadcast.
// Non-transient failures dead-letter immediately. A send refused because
// the platform's circuit breaker is open parks the job without consuming
// an attempt: breaker downtime is not the job's fault.
//
// Jobs carry no ordering guarantee relative to each other.
package deliver
