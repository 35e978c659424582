// Package ratelimit caps API requests per second for one worker.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limiter throttles one worker's outbound requests to a requests-per-second ceiling.
// Burst is fixed at 1 so grants are spaced evenly and no rolling one-second
// window sees more than ceil(rps) of them.
type Limiter struct {
	limiter *rate.Limiter
	rps     float64
}

// New creates a limiter for maxRPS requests per second. maxRPS <= 0 disables limiting.
func New(maxRPS float64) *Limiter {
	if maxRPS <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(maxRPS), 1),
		rps:     maxRPS,
	}
}

// Acquire blocks until another request may be issued, or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}
	if err := l.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Wait refuses up front when the deadline is closer than the next grant
		return fmt.Errorf("rate limit wait: %w", context.DeadlineExceeded)
	}
	return nil
}

// Enabled reports whether a ceiling is in force.
func (l *Limiter) Enabled() bool {
	return l != nil && l.rps > 0
}

// RPS returns the configured ceiling, 0 when disabled.
func (l *Limiter) RPS() float64 {
	if l == nil {
		return 0
	}
	return l.rps
}
