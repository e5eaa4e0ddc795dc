package llm

import (
	"context"
	"strings"
	"time"
)

// RetryPolicy controls exponential backoff for rate-limited provider calls.
// Only errors that look like rate limiting (HTTP 429, quota messages) are
// retried; everything else fails immediately.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3
	MaxAttempts int

	// BaseDelay is the delay before the first retry. Each subsequent retry
	// doubles the delay. Default: 2 seconds.
	BaseDelay time.Duration

	// MaxDelay caps the backoff delay. Default: 30 seconds.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns the policy used by all built-in clients.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 2 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	return p
}

// Do executes fn, retrying with exponential backoff when the error is
// retryable. The context cancels pending backoff sleeps.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	p = p.normalized()

	var lastErr error
	delay := p.BaseDelay
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func isRetryable(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate") ||
		strings.Contains(msg, "quota")
}
