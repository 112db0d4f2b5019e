// ABOUTME: Per-resource circuit breaker with CLOSED/OPEN/HALF_OPEN states
// ABOUTME: Registry holds one breaker per named external dependency, constructed at process start

package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned when a breaker rejects a call without invoking
// the wrapped function. Callers can detect it with errors.Is and avoid
// counting the rejection against their own retry budget.
var ErrBreakerOpen = errors.New("circuit breaker open")

// Breaker states
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// Breaker protects one named external dependency. State is process-local:
// independent processes may hold different state for the same dependency.
type Breaker struct {
	mu               sync.Mutex
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration
	failureCount     int
	lastFailure      time.Time
	open             bool
	probing          bool
	logger           *slog.Logger
	now              func() time.Time
}

// NewBreaker creates a breaker for the named resource.
func NewBreaker(name string, failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	return &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		logger:           slog.Default().With("component", "breaker", "resource", name),
		now:              time.Now,
	}
}

// State reports the breaker's current state.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return StateClosed
	}
	if b.now().Sub(b.lastFailure) >= b.recoveryTimeout {
		return StateHalfOpen
	}
	return StateOpen
}

// Do invokes fn through the breaker. While OPEN, the call is rejected with
// ErrBreakerOpen without invoking fn. After the recovery timeout one probe
// is allowed through; its success closes the breaker, its failure re-opens
// it immediately.
func (b *Breaker) Do(fn func() error) error {
	// isProbe marks whether THIS call holds the half-open probe slot; a
	// call admitted before the breaker opened must not touch it on return.
	isProbe := false

	b.mu.Lock()
	if b.open {
		if b.now().Sub(b.lastFailure) < b.recoveryTimeout {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		if b.probing {
			// Another caller already holds the half-open probe
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.probing = true
		isProbe = true
		b.logger.Info("breaker half-open, allowing probe")
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failureCount++
		b.lastFailure = b.now()
		if isProbe {
			// Failed probe re-opens immediately
			b.probing = false
			b.logger.Warn("probe failed, breaker re-opened", "error", err)
		} else if !b.open && b.failureCount >= b.failureThreshold {
			b.open = true
			b.logger.Warn("breaker opened",
				"failures", b.failureCount,
				"recovery_timeout", b.recoveryTimeout,
			)
		}
		return err
	}

	if isProbe {
		b.probing = false
		b.logger.Info("probe succeeded, breaker closed")
	}
	b.open = false
	b.failureCount = 0
	return nil
}

// FailureCount reports the consecutive failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// Registry holds one breaker per named resource. It replaces module-level
// singletons: construct one at process start and pass it to every call site.
type Registry struct {
	mu               sync.Mutex
	breakers         map[string]*Breaker
	failureThreshold int
	recoveryTimeout  time.Duration
}

// NewRegistry creates a breaker registry with shared thresholds.
func NewRegistry(failureThreshold int, recoveryTimeout time.Duration) *Registry {
	return &Registry{
		breakers:         make(map[string]*Breaker),
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
	}
}

// Get returns the breaker for the named resource, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = NewBreaker(name, r.failureThreshold, r.recoveryTimeout)
		r.breakers[name] = b
	}
	return b
}

// Do invokes fn through the named resource's breaker.
func (r *Registry) Do(name string, fn func() error) error {
	return r.Get(name).Do(fn)
}

// States reports the state of every breaker the registry has handed out.
func (r *Registry) States() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make(map[string]string, len(r.breakers))
	for name, b := range r.breakers {
		states[name] = b.State()
	}
	return states
}
