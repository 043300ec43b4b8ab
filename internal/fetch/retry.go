package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenk/backoff"
)

// RetryConfig controls how often a failed fetch is repeated.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64 // randomization factor, 0.0 to 1.0
}

// DefaultRetryConfig returns the retry settings used for repository fetches.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		JitterFraction: 0.1,
	}
}

// isTransient reports whether a fetch error may go away on its own.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrUpstreamDown):
		return true
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNotModified), errors.Is(err, ErrBadURL):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	var se *statusError
	return !errors.As(err, &se)
}

// newBackOff returns the delay schedule for one fetch. Retries are bounded by
// MaxRetries, not by elapsed time.
func (c *RetryConfig) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialBackoff
	b.MaxInterval = c.MaxBackoff
	b.RandomizationFactor = c.JitterFraction
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retry runs fn until it succeeds, fails permanently or runs out of retries.
func (c *RetryConfig) retry(ctx context.Context, operation string, fn func() error) error {
	b := c.newBackOff()
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isTransient(lastErr) {
			return lastErr
		}
		if attempt >= c.MaxRetries {
			break
		}
		if err := sleep(ctx, b.NextBackOff()); err != nil {
			return fmt.Errorf("%s: %w (retry cancelled)", operation, lastErr)
		}
	}
	return fmt.Errorf("%s: %w (after %d retries)", operation, lastErr, c.MaxRetries)
}
