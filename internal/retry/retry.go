package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 200 * time.Millisecond
	defaultMaxDelay    = 5 * time.Second
)

// Options controls the backoff executor. Zero values fall back to defaults.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool

	// RandFloat and Sleep are injectable for deterministic tests.
	RandFloat func() float64
	Sleep     func(ctx context.Context, d time.Duration) error
}

func (o Options) normalized() Options {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = defaultBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = defaultMaxDelay
	}
	if o.RandFloat == nil {
		o.RandFloat = rand.Float64
	}
	if o.Sleep == nil {
		o.Sleep = sleepWithContext
	}
	return o
}

// PermanentError marks a failure that further attempts cannot heal.
// Do stops immediately and reports the wrapped error.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do gives up without consuming the remaining
// attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// RetryAfterError carries a provider-imposed pause for the next
// attempt, typically parsed from a 429 response.
type RetryAfterError struct {
	Err   error
	After time.Duration
}

func (e *RetryAfterError) Error() string { return e.Err.Error() }

func (e *RetryAfterError) Unwrap() error { return e.Err }

// RetryAfter attaches a pause hint to err. Do paces the next attempt
// with the larger of the hint and the backoff delay.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return &RetryAfterError{Err: err, After: after}
}

// Result is the discriminated outcome of a retried operation.
type Result[T any] struct {
	OK       bool
	Data     T
	Err      error
	Attempts int
}

// Do runs op up to MaxAttempts times, backing off between attempts.
// It returns on the first success and never swallows the final error.
// Per-attempt timeouts are the operation's responsibility.
func Do[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) Result[T] {
	opts = opts.normalized()
	if ctx == nil {
		ctx = context.Background()
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		attempts = attempt

		data, err := op(ctx)
		if err == nil {
			return Result[T]{OK: true, Data: data, Attempts: attempt}
		}
		lastErr = err

		var permanent *PermanentError
		if errors.As(err, &permanent) {
			lastErr = permanent.Err
			break
		}

		if attempt == opts.MaxAttempts {
			break
		}

		delay := ComputeDelay(attempt, opts.BaseDelay, opts.MaxDelay)
		if opts.Jitter {
			// Uniform [0.5, 1.0) factor spreads retries from tenants
			// hammering the same provider.
			delay = time.Duration(float64(delay) * (0.5 + 0.5*opts.RandFloat()))
		}
		var hint *RetryAfterError
		if errors.As(err, &hint) && hint.After > delay {
			delay = hint.After
		}
		if err := opts.Sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	var zero T
	return Result[T]{OK: false, Data: zero, Err: lastErr, Attempts: attempts}
}

// ComputeDelay returns min(base * 2^(attempt-1), max) without jitter.
func ComputeDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = defaultBaseDelay
	}
	if max <= 0 {
		max = defaultMaxDelay
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
