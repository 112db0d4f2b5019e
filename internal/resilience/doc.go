// Package resilience provides circuit breakers and retry policies for
// outbound platform calls. Breakers are per named resource, held in an
// explicitly constructed Registry; state is process-local.
package resilience
