package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/librescoot/inverter-link/pkg/protocol"
)

// RetryPolicy is the bounded exponential-backoff retry used within a
// single job: on a recoverable error, sleep delay, multiply it by
// Multiplier, and try again, up to MaxRetries attempts total. Non-recoverable errors are
// returned immediately without consuming a retry.
type RetryPolicy struct {
	MaxRetries int
	InitialBackoff time.Duration
	Multiplier float64

	// sleep is overridable in tests to avoid real waits.
	sleep func(context.Context, time.Duration) error
}

// DefaultRetryPolicy matches the protocol's documented defaults: 10
// attempts, 100ms initial backoff, doubling each time.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     10,
		InitialBackoff: 100 * time.Millisecond,
		Multiplier:     2,
	}
}

// ErrRetriesExhausted is terminal: it wraps the last recoverable cause
// once the retry budget runs out.
type ErrRetriesExhausted struct {
	Attempts int
	Cause    error
}

func (e *ErrRetriesExhausted) Error() string {
	return fmt.Sprintf("pipeline: retries exhausted after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *ErrRetriesExhausted) Unwrap() error { return e.Cause }

// Run invokes attempt until it succeeds, returns a non-recoverable
// error, or the retry budget is exhausted.
func (p RetryPolicy) Run(ctx context.Context, attempt func(ctx context.Context) (any, error)) (any, error) {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	delay := p.InitialBackoff
	var lastErr error

	tries := p.MaxRetries
	if tries <= 0 {
		tries = 1
	}

	for attemptNum := 1; attemptNum <= tries; attemptNum++ {
		value, err := attempt(ctx)
		if err == nil {
			return value, nil
		}
		if !protocol.IsRecoverable(err) {
			return nil, err
		}
		lastErr = err

		if attemptNum == tries {
			break
		}
		if serr := sleep(ctx, delay); serr != nil {
			return nil, serr
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
	}

	return nil, &ErrRetriesExhausted{Attempts: tries, Cause: lastErr}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
