package providers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// HTTPError carries a non-200 provider response.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// Retryable reports whether the status warrants another attempt.
func (e *HTTPError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// RetryConfig controls provider-level retry of transient failures.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// RetryDo runs fn with exponential backoff on retryable HTTP errors.
// Non-HTTP errors and non-retryable statuses fail immediately.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	delay := cfg.BaseDelay
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		httpErr, ok := err.(*HTTPError)
		if !ok || !httpErr.Retryable() || attempt == cfg.MaxAttempts {
			return zero, err
		}

		wait := delay
		if httpErr.RetryAfter > 0 {
			wait = httpErr.RetryAfter
		}
		if wait > cfg.MaxDelay {
			wait = cfg.MaxDelay
		}
		slog.Warn("provider: retrying after transient error",
			"status", httpErr.Status, "attempt", attempt, "wait", wait)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
	}
	return zero, lastErr
}

// ParseRetryAfter reads a Retry-After header value in seconds.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
