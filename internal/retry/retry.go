// Package retry wraps an operation with exponential backoff.
package retry

import (
	"context"
	"time"
)

// Config controls Do. Zero values are replaced with defaults.
type Config struct {
	MaxAttempts int           // including the first; default 3
	BaseDelay   time.Duration // default 1s
	MaxDelay    time.Duration // cap on the backoff; default 60s
	// Retryable decides whether an error is worth retrying. nil = retry all.
	Retryable func(error) bool
	// OnRetry, if set, is called before each sleep with the attempt number
	// (1-based), the error, and the delay about to be slept.
	OnRetry func(attempt int, err error, delay time.Duration)
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 60 * time.Second
	}
}

// Do invokes fn up to cfg.MaxAttempts times. After a retryable failure on
// attempt k it sleeps min(BaseDelay·2^(k-1), MaxDelay), honoring ctx
// cancellation during the sleep. The final error is returned unwrapped.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg.applyDefaults()
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		delay := cfg.BaseDelay << (attempt - 1)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr, delay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}
