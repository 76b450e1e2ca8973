// Package utils holds small helpers shared across the gateway: the retry
// policy used for outbound deliveries and extended duration parsing.
package utils

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// RetryConfig describes an exponential backoff schedule.
//
// The delay before attempt n (n >= 2) is InitialDelay * BackoffFactor^(n-2),
// capped at MaxDelay. No wait follows the final attempt.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first one
	MaxAttempts int

	// InitialDelay is the wait between the first and second attempt
	InitialDelay time.Duration

	// MaxDelay caps exponential growth; zero means uncapped
	MaxDelay time.Duration

	// BackoffFactor multiplies the delay after each failed attempt
	BackoffFactor float64

	// JitterFactor adds up to this fraction of the delay at random (0.0-1.0)
	JitterFactor float64

	// RetryableErrors decides whether an error is worth another attempt.
	// If nil, all errors are retried.
	RetryableErrors func(error) bool
}

// DefaultRetryConfig is the webhook delivery schedule: five attempts with
// waits of 1s, 2s, 4s and 8s between them.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  time.Second,
		BackoffFactor: 2.0,
	}
}

// Validate reports configuration that cannot produce a schedule
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.InitialDelay < 0 {
		return fmt.Errorf("initial delay must not be negative")
	}
	if c.BackoffFactor < 1 {
		return fmt.Errorf("backoff factor must be >= 1, got %v", c.BackoffFactor)
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		return fmt.Errorf("jitter factor must be between 0 and 1, got %v", c.JitterFactor)
	}
	return nil
}

// DelayAfter returns the wait that follows failed attempt n (1-based).
// It is zero for the final attempt.
func (c RetryConfig) DelayAfter(attempt int) time.Duration {
	if attempt < 1 || attempt >= c.MaxAttempts {
		return 0
	}
	delay := time.Duration(float64(c.InitialDelay) * math.Pow(c.BackoffFactor, float64(attempt-1)))
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	if c.JitterFactor > 0 {
		jitter := time.Duration(float64(delay) * c.JitterFactor)
		delay += time.Duration(randomInt64n(int64(jitter)))
	}
	return delay
}

// Schedule lists every wait between attempts, mostly for logging
func (c RetryConfig) Schedule() []time.Duration {
	if c.MaxAttempts <= 1 {
		return nil
	}
	out := make([]time.Duration, 0, c.MaxAttempts-1)
	for n := 1; n < c.MaxAttempts; n++ {
		out = append(out, c.DelayAfter(n))
	}
	return out
}

// RetryWithBackoff calls fn until it succeeds, the attempts run out, the error
// is not retryable, or ctx is done. fn receives the 1-based attempt number.
//
// Returns nil on success, the error itself when it is not retryable,
// "retry cancelled" when ctx ends during a wait, and "max retries exceeded"
// wrapping the last error otherwise.
func RetryWithBackoff(ctx context.Context, config RetryConfig, fn func(attempt int) error) error {
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if config.RetryableErrors != nil && !config.RetryableErrors(err) {
			return err
		}
		if attempt == config.MaxAttempts {
			break
		}

		timer := time.NewTimer(config.DelayAfter(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// randomInt64n returns a random int64 in [0, n), or 0 when n <= 0
func randomInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return time.Now().UnixNano() % n
	}
	return int64(binary.BigEndian.Uint64(buf[:])>>1) % n
}
