package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy describes how a failed call is retried. Delays double from Base
// up to Cap.
type Policy struct {
	// Attempts counts every try, the first included. Values below 1 mean 1.
	Attempts int
	Base     time.Duration
	Cap      time.Duration
	// Jitter spreads each delay by ±Jitter of itself.
	Jitter float64
	// Retryable reports whether err deserves another try. Nil means
	// IsTransient.
	Retryable func(err error) bool
	// OnRetry runs before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// TransientPolicy retries network and 5xx failures three times with
// jittered backoff from 500ms.
func TransientPolicy() Policy {
	return Policy{
		Attempts: 3,
		Base:     500 * time.Millisecond,
		Cap:      30 * time.Second,
		Jitter:   0.25,
	}
}

// RateLimitPolicy retries only rate-limit errors on the fixed schedule
// base, 2·base, 4·base... for retries extra attempts.
func RateLimitPolicy(base time.Duration, retries int) Policy {
	return Policy{
		Attempts: retries + 1,
		Base:     base,
		Cap:      base << retries,
		Retryable: func(err error) bool {
			_, ok := IsRateLimited(err)
			return ok
		},
	}
}

// Delay is the wait after the given zero-based failed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.Base << attempt
	if p.Cap > 0 && (d > p.Cap || d <= 0) {
		d = p.Cap
	}
	if p.Jitter > 0 {
		d += time.Duration((rand.Float64()*2 - 1) * p.Jitter * float64(d))
	}
	return max(d, 0)
}

// Retry calls fn until it succeeds, returns a non-retryable error, runs out
// of attempts or ctx ends. The last error is returned as is.
func Retry[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	attempts := max(p.Attempts, 1)

	for attempt := 0; ; attempt++ {
		val, err := fn(ctx)
		if err == nil || attempt+1 >= attempts || ctx.Err() != nil || !retryable(err) {
			return val, err
		}

		wait := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, wait, err)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return val, err
		case <-timer.C:
		}
	}
}

// LogRetries returns an OnRetry hook that logs at warn.
func LogRetries(service, operation string) func(int, time.Duration, error) {
	return func(attempt int, wait time.Duration, err error) {
		zap.L().Warn("retrying",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
}
