// Package retry wraps a single adapter call with failure classification and
// exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/Cstannahill/farm-framework/core"
)

// Policy configures retries around one adapter call.
type Policy struct {
	// MaxAttempts includes the initial attempt.
	MaxAttempts int

	// BaseDelay is the first backoff; attempt n sleeps BaseDelay * 2^n.
	BaseDelay time.Duration

	// Admit requests fresh admission before each attempt. A retried call is
	// a new admission event, not a continuation of the old one.
	Admit func(ctx context.Context) error

	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns the stock three-attempt, one-second-base policy.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second}
}

// Do runs fn with admission, classification, and backoff. RateLimited and
// 5xx Upstream failures retry; everything else surfaces immediately.
// Exhausting attempts surfaces the last error.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultPolicy().MaxAttempts
	}
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultPolicy().BaseDelay
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, base<<uint(attempt-1)); err != nil {
				return core.WrapError(err, core.ErrCanceled)
			}
		}

		if p.Admit != nil {
			if err := p.Admit(ctx); err != nil {
				if ctx.Err() != nil {
					return core.WrapError(err, core.ErrCanceled)
				}
				return err
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return core.WrapError(ctx.Err(), core.ErrCanceled)
		}
		if !core.IsRetryable(err) {
			return err
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
