// Package retry executes fetch requests under an injected retry policy and
// circuit breaker. The policy is a plain value so tests can shrink attempt
// budgets and drive backoff sleeps through a fake clock.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the source's circuit breaker rejects the
// request without attempting it. Not retried.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Policy describes how transient source failures are retried.
type Policy struct {
	// MaxAttempts is the total attempt budget, including the first try.
	MaxAttempts int

	// Backoff returns the delay before the next try after a failed attempt.
	// attempt starts at 1.
	Backoff func(attempt int) time.Duration

	// Clock drives backoff sleeps. Tests inject a fake to avoid real delays.
	Clock clockwork.Clock

	// OnRetry, when set, is invoked before each backoff sleep.
	OnRetry func(attempt int, err error)
}

// DefaultPolicy is the source fetch policy: 3 attempts total with a
// 2*attempt-second delay between attempts.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff: func(attempt int) time.Duration {
			return time.Duration(2*attempt) * time.Second
		},
		Clock: clockwork.NewRealClock(),
	}
}

// Do runs fn under the policy, routing each attempt through the circuit
// breaker when one is supplied. It retries any attempt error except context
// cancellation and an open breaker, and returns the last error once the
// attempt budget is exhausted.
func Do[T any](ctx context.Context, p Policy, cb *gobreaker.CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if p.MaxAttempts < 1 {
		return zero, errors.New("retry: MaxAttempts must be at least 1")
	}
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		result, err := execute(ctx, cb, fn)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}

		lastErr = err
		if attempt == p.MaxAttempts {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if !sleep(ctx, clock, p.Backoff(attempt)) {
			return zero, ctx.Err()
		}
	}

	return zero, fmt.Errorf("all %d attempts failed: %w", p.MaxAttempts, lastErr)
}

func execute[T any](ctx context.Context, cb *gobreaker.CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	if cb == nil {
		return fn(ctx)
	}

	result, err := cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

// sleep blocks for d on the given clock. Returns false if the context was
// cancelled first.
func sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-clock.After(d):
		return true
	}
}

// NewBreaker creates the per-source circuit breaker used by the fetch
// adapters: trip after repeated consecutive failures, half-open probe after
// two minutes.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})
}
