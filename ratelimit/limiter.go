// Package ratelimit enforces per-provider request-rate and token-rate
// budgets over a trailing one-minute window before an outbound call is
// permitted.
package ratelimit

import (
	"context"
	"time"
)

// Window is the trailing interval budgets are measured over.
const Window = time.Minute

// Config sets the per-minute budgets for one provider.
type Config struct {
	RequestsPerMinute int
	TokensPerMinute   int
}

// DefaultConfig mirrors conservative cloud API tiers.
func DefaultConfig() Config {
	return Config{RequestsPerMinute: 60, TokensPerMinute: 40000}
}

type usageEvent struct {
	at     time.Time
	tokens int
}

// Status is a point-in-time view of window consumption.
type Status struct {
	RequestsUsed      int `json:"requests_used"`
	RequestsLimit     int `json:"requests_limit"`
	RequestsAvailable int `json:"requests_available"`
	TokensUsed        int `json:"tokens_used"`
	TokensLimit       int `json:"tokens_limit"`
	TokensAvailable   int `json:"tokens_available"`
}

// Limiter is the admission controller for a single provider. All waiters for
// that provider serialize against the one shared window; limiters are never
// shared across providers.
//
// The window is advisory: once a call is admitted its usage is recorded and
// never revoked, even if the call is later cancelled.
type Limiter struct {
	cfg Config

	// sem serializes window access without holding a lock across waits.
	sem chan struct{}

	requests []time.Time
	tokens   []usageEvent

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter builds a limiter for one provider.
func NewLimiter(cfg Config) *Limiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultConfig().RequestsPerMinute
	}
	if cfg.TokensPerMinute <= 0 {
		cfg.TokensPerMinute = DefaultConfig().TokensPerMinute
	}
	l := &Limiter{
		cfg:   cfg,
		sem:   make(chan struct{}, 1),
		now:   time.Now,
		sleep: sleepCtx,
	}
	l.sem <- struct{}{}
	return l
}

// Acquire blocks until both the request-count and token budgets have headroom
// over the trailing window, then records the usage and returns. On
// saturation it computes the minimal wait until the oldest window entry ages
// out, sleeps, and re-checks in a loop: other waiters may have consumed the
// freed headroom meanwhile. No FIFO fairness is guaranteed under sustained
// overload.
func (l *Limiter) Acquire(ctx context.Context, estimatedTokens int) error {
	if estimatedTokens < 0 {
		estimatedTokens = 0
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.sem:
		}

		now := l.now()
		l.prune(now)
		wait, ok := l.headroom(now, estimatedTokens)
		if ok {
			l.requests = append(l.requests, now)
			l.tokens = append(l.tokens, usageEvent{at: now, tokens: estimatedTokens})
			l.sem <- struct{}{}
			return nil
		}
		l.sem <- struct{}{}

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// headroom reports whether the budgets admit a call now; when they do not it
// returns the minimal wait until the saturating window entry expires. Callers
// must hold the semaphore.
func (l *Limiter) headroom(now time.Time, estimatedTokens int) (time.Duration, bool) {
	var wait time.Duration

	if len(l.requests) >= l.cfg.RequestsPerMinute {
		wait = l.requests[0].Add(Window).Sub(now)
	}

	used := 0
	for _, ev := range l.tokens {
		used += ev.tokens
	}
	if used+estimatedTokens > l.cfg.TokensPerMinute && len(l.tokens) > 0 {
		if w := l.tokens[0].at.Add(Window).Sub(now); w > wait {
			wait = w
		}
	}

	if wait <= 0 {
		return 0, true
	}
	return wait, false
}

// prune drops window entries older than the trailing interval. Callers must
// hold the semaphore.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-Window)
	i := 0
	for i < len(l.requests) && !l.requests[i].After(cutoff) {
		i++
	}
	l.requests = l.requests[i:]

	j := 0
	for j < len(l.tokens) && !l.tokens[j].at.After(cutoff) {
		j++
	}
	l.tokens = l.tokens[j:]
}

// Status returns the current window consumption.
func (l *Limiter) Status() Status {
	<-l.sem
	defer func() { l.sem <- struct{}{} }()

	now := l.now()
	l.prune(now)

	used := 0
	for _, ev := range l.tokens {
		used += ev.tokens
	}
	st := Status{
		RequestsUsed:  len(l.requests),
		RequestsLimit: l.cfg.RequestsPerMinute,
		TokensUsed:    used,
		TokensLimit:   l.cfg.TokensPerMinute,
	}
	st.RequestsAvailable = max(0, st.RequestsLimit-st.RequestsUsed)
	st.TokensAvailable = max(0, st.TokensLimit-st.TokensUsed)
	return st
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
