// Package retry implements bounded exponential backoff for provider calls.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config holds retry behavior.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// Retryable classifies an error as transient. When it returns false the
	// error is surfaced immediately without further attempts. The default
	// retries everything.
	Retryable func(error) bool
}

// Option is a functional option for retry configuration.
type Option func(*Config)

// Do executes op with exponential backoff between failed attempts. Only
// errors classified retryable are attempted again; the final error is
// wrapped with the attempt count. Context cancellation is honored between
// attempts, never mid-call.
func Do(ctx context.Context, op func() error, opts ...Option) error {
	cfg := &Config{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Retryable:    func(error) bool { return true },
	}
	for _, opt := range opts {
		opt(cfg)
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !cfg.Retryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("cancelled after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return fmt.Errorf("giving up after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// WithMaxAttempts caps the total number of attempts, including the first.
func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

// WithInitialDelay sets the delay before the second attempt.
func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) { c.InitialDelay = d }
}

// WithMaxDelay caps the backoff delay.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) { c.MaxDelay = d }
}

// WithRetryable sets the transient-error classifier.
func WithRetryable(f func(error) bool) Option {
	return func(c *Config) {
		if f != nil {
			c.Retryable = f
		}
	}
}
