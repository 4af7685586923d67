// Package resilience classifies upstream failures and provides the retry
// and circuit-breaking used around the CRM, ads platform, LLM and store.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// State is a breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrBreakerOpen rejects calls while the upstream is considered down.
var ErrBreakerOpen = eris.New("circuit breaker is open")

// Breaker opens after Threshold consecutive outages and, once Cooldown has
// passed, lets one probe through to decide whether to close again.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	trips     func(error) bool
	now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithThreshold sets the consecutive outages that open the breaker.
// Values below 1 keep the default of 5.
func WithThreshold(n int) BreakerOption {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithCooldown sets how long the breaker stays open. Non-positive values
// keep the default of 30s.
func WithCooldown(d time.Duration) BreakerOption {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithTripFunc replaces Trips as the outage test.
func WithTripFunc(f func(error) bool) BreakerOption {
	return func(b *Breaker) { b.trips = f }
}

// NewBreaker returns a closed breaker for the named service.
func NewBreaker(name string, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		name:      name,
		threshold: 5,
		cooldown:  30 * time.Second,
		trips:     Trips,
		now:       time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Trips counts upstream outages. Rate limits, cancellation and client
// errors leave the breaker alone.
func Trips(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if _, ok := IsRateLimited(err); ok {
		return false
	}
	return IsTransient(err) || IsUnavailable(err)
}

// State reports the current position. An open breaker past its cooldown
// reads as half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	b.set(StateClosed)
}

// Call runs fn through b. A nil breaker calls fn directly.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if b == nil {
		return fn(ctx)
	}
	var zero T
	probe, err := b.admit()
	if err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.record(err, probe)
	return val, err
}

// admit reports whether the call is the half-open probe.
func (b *Breaker) admit() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false, ErrBreakerOpen
		}
		b.set(StateHalfOpen)
	}
	if b.probing {
		return false, ErrBreakerOpen
	}
	b.probing = true
	return true, nil
}

func (b *Breaker) record(err error, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
	}
	if !b.trips(err) {
		b.failures = 0
		if probe {
			b.set(StateClosed)
		}
		return
	}

	b.failures++
	if probe || (b.state == StateClosed && b.failures >= b.threshold) {
		b.openedAt = b.now()
		b.set(StateOpen)
	}
}

func (b *Breaker) set(to State) {
	if b.state == to {
		return
	}
	zap.L().Info("circuit breaker state change",
		zap.String("service", b.name),
		zap.Stringer("from", b.state),
		zap.Stringer("to", to),
	)
	b.state = to
}
