package youtube

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// TransientFetchError is a failure worth retrying: network errors, timeouts,
// 5xx, 429 and quota/rate-limit signals.
type TransientFetchError struct {
	Endpoint   string
	StatusCode int           // 0 for transport errors
	Reason     string        // API error reason, when present
	RetryAfter time.Duration // server hint, 0 when absent
	Err        error
}

func (e *TransientFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient API error on %s (status %d, reason %q): %v", e.Endpoint, e.StatusCode, e.Reason, e.Err)
	}
	return fmt.Sprintf("transient API error on %s: %v", e.Endpoint, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// FatalFetchError is a non-retryable failure: bad credential, forbidden,
// comments disabled, video not found.
type FatalFetchError struct {
	Endpoint   string
	StatusCode int
	Reason     string
	Err        error
}

func (e *FatalFetchError) Error() string {
	return fmt.Sprintf("fatal API error on %s (status %d, reason %q): %v", e.Endpoint, e.StatusCode, e.Reason, e.Err)
}

func (e *FatalFetchError) Unwrap() error { return e.Err }

// IsTransient reports whether err carries a TransientFetchError.
func IsTransient(err error) bool {
	var t *TransientFetchError
	return errors.As(err, &t)
}

// IsFatal reports whether err carries a FatalFetchError.
func IsFatal(err error) bool {
	var f *FatalFetchError
	return errors.As(err, &f)
}

// RetryAfter returns the server's retry hint carried by err, if any.
func RetryAfter(err error) time.Duration {
	var t *TransientFetchError
	if errors.As(err, &t) {
		return t.RetryAfter
	}
	return 0
}

// quota and throttling reasons are reported with 403 but clear up with time
var transientReasons = map[string]bool{
	"quotaExceeded":         true,
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"backendError":          true,
}

// classifyStatus maps a non-200 response to a typed error.
func classifyStatus(endpoint string, resp *http.Response, apiErr *apiErrorBody) error {
	reason := ""
	message := http.StatusText(resp.StatusCode)
	if apiErr != nil {
		reason = apiErr.reason()
		if apiErr.Error.Message != "" {
			message = apiErr.Error.Message
		}
	}
	cause := errors.New(message)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500,
		resp.StatusCode == http.StatusForbidden && transientReasons[reason]:
		return &TransientFetchError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Reason:     reason,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        cause,
		}
	default:
		return &FatalFetchError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Reason:     reason,
			Err:        cause,
		}
	}
}

// classifyTransport maps an http.Client error. Caller cancellation is passed
// through untouched; everything else on the wire is transient.
func classifyTransport(ctx context.Context, endpoint string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransientFetchError{Endpoint: endpoint, Err: fmt.Errorf("request timed out: %w", err)}
	}
	return &TransientFetchError{Endpoint: endpoint, Err: err}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
