package walker

import (
	"context"
	"math"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/ytcomments/internal/metrics"
	"github.com/ternarybob/ytcomments/internal/youtube"
)

// RetryConfig controls how transient fetch errors are retried.
type RetryConfig struct {
	MaxAttempts int // total attempts per request, including the first
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultRetryConfig retries a request five times over roughly half a minute.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts: 5,
	InitialWait: time.Second,
	MaxWait:     30 * time.Second,
	Multiplier:  2.0,
}

func (rc RetryConfig) normalized() RetryConfig {
	if rc.MaxAttempts < 1 {
		rc.MaxAttempts = 1
	}
	if rc.Multiplier < 1 {
		rc.Multiplier = 1
	}
	if rc.MaxWait <= 0 {
		rc.MaxWait = DefaultRetryConfig.MaxWait
	}
	return rc
}

// backoff returns the wait before retry number attempt (0-based), never less
// than the server's Retry-After hint.
func (rc RetryConfig) backoff(attempt int, retryAfter time.Duration) time.Duration {
	wait := time.Duration(float64(rc.InitialWait) * math.Pow(rc.Multiplier, float64(attempt)))
	if wait > rc.MaxWait {
		wait = rc.MaxWait
	}
	if retryAfter > wait {
		wait = retryAfter
	}
	return wait
}

// retryDo calls fn until it succeeds, fails with a non-transient error, or
// MaxAttempts is used up. Only youtube.TransientFetchError is retried.
func retryDo[T any](ctx context.Context, rc RetryConfig, logger arbor.ILogger, m *metrics.Metrics, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < rc.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !youtube.IsTransient(err) {
			return zero, err
		}

		if attempt+1 < rc.MaxAttempts {
			wait := rc.backoff(attempt, youtube.RetryAfter(err))
			m.IncRetry()
			logger.Warn().
				Str("op", op).
				Int("attempt", attempt+1).
				Int("max_attempts", rc.MaxAttempts).
				Dur("wait", wait).
				Err(err).
				Msg("Transient fetch error, retrying")

			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			}
		}
	}
	return zero, lastErr
}
