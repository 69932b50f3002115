// Package breaker implements a per-host circuit breaker: a three-state
// machine (closed/open/half-open) that fails fast after repeated errors and
// probes for recovery after a cooldown, protecting the remote pool from
// hammering a host that is already down.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/ehrlich-b/termgate/internal/gatewayerr"
)

type state int

const (
	closed state = iota
	open
	halfOpen
)

// Config mirrors the tunables named in spec.md §4.3.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// DefaultConfig returns the documented defaults: 5 failures to open, 2
// successes to close, 60s cooldown.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 60 * time.Second}
}

// Breaker guards one remote host. Its state lock is held only in the short
// critical sections before and after the protected operation runs — never
// across the operation itself.
type Breaker struct {
	cfg Config

	mu       sync.Mutex
	st       state
	failures int
	successes int
	openedAt time.Time
}

// New constructs a Breaker in the Closed(0) state.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, st: closed}
}

// Call consults and transitions the breaker's state, runs op only when
// admission is granted, and records the outcome afterward. It implements
// the transition table in spec.md §4.3 exactly.
func (b *Breaker) Call(ctx context.Context, op func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := op(ctx)
	b.recordOutcome(err)
	return err
}

// admit applies the Open→HalfOpen timeout transition and rejects the call
// outright while genuinely Open.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case open:
		if time.Since(b.openedAt) > b.cfg.Timeout {
			b.st = halfOpen
			b.successes = 0
			return nil
		}
		return gatewayerr.ErrBreakerOpen
	default:
		return nil
	}
}

func (b *Breaker) recordOutcome(opErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if opErr == nil {
		switch b.st {
		case halfOpen:
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				b.st = closed
				b.failures = 0
			}
		default:
			b.st = closed
			b.failures = 0
		}
		return
	}

	switch b.st {
	case closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.st = open
			b.openedAt = time.Now()
		}
	case halfOpen:
		b.st = open
		b.openedAt = time.Now()
	}
}

// IsOpen reports whether the breaker is currently rejecting calls, for
// monitoring/diagnostics.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st == open
}

// Registry is a lazily-populated, process-lifetime map of Breaker by host
// name, guarded by its own mutex — distinct from any individual Breaker's
// state lock.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the Breaker for host, creating it in the Closed state on
// first use.
func (r *Registry) Get(host string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[host]
	if !ok {
		b = New(r.cfg)
		r.breakers[host] = b
	}
	return b
}
