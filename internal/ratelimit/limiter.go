// Package ratelimit provides the per-caller fixed-window limiter used by the
// federation gate and a general attempt limiter with progressive delay and
// lockout.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"federation-gateway/internal/circuitbreaker"
	"federation-gateway/internal/common/logging"
	"federation-gateway/internal/kv"
)

type Limiter struct {
	store   kv.Store
	breaker *circuitbreaker.Breaker
	config  *Config
	logger  logging.Logger
}

type Config struct {
	DefaultLimit  int           `json:"default_limit"`
	DefaultWindow time.Duration `json:"default_window"`
	Enabled       bool          `json:"enabled"`
	// StoreTimeout bounds each store call so a degraded store cannot stall requests
	StoreTimeout time.Duration `json:"store_timeout"`
}

// DefaultConfig allows 100 requests per caller per minute
func DefaultConfig() *Config {
	return &Config{
		DefaultLimit:  100,
		DefaultWindow: time.Minute,
		Enabled:       true,
		StoreTimeout:  500 * time.Millisecond,
	}
}

type Result struct {
	Limited    bool          `json:"limited"`
	Count      int64         `json:"count"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after"`
	ResetTime  time.Time     `json:"reset_time"`
}

// NewLimiter creates a fixed-window limiter. breaker may be nil.
func NewLimiter(store kv.Store, breaker *circuitbreaker.Breaker, config *Config, logger logging.Logger) *Limiter {
	if config == nil {
		config = DefaultConfig()
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = 100
	}
	if config.DefaultWindow <= 0 {
		config.DefaultWindow = time.Minute
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = 500 * time.Millisecond
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Limiter{
		store:   store,
		breaker: breaker,
		config:  config,
		logger:  logger,
	}
}

func counterKey(callerKey string) string {
	return fmt.Sprintf("rate_limit:%s", callerKey)
}

// CheckAndIncrement counts one request for callerKey in the current window.
// The limiter fails open: if the store cannot be reached the request is
// allowed and a warning is logged.
func (l *Limiter) CheckAndIncrement(ctx context.Context, callerKey string, limit int, window time.Duration) Result {
	allowed := Result{Limit: limit, Remaining: limit, ResetTime: time.Now().Add(window)}
	if !l.config.Enabled {
		return allowed
	}

	var count int64
	incr := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, l.config.StoreTimeout)
		defer cancel()
		n, err := l.store.IncrementWithExpiry(ctx, counterKey(callerKey), window)
		count = n
		return err
	}

	var err error
	if l.breaker != nil {
		err = l.breaker.Execute(ctx, incr)
	} else {
		err = incr(ctx)
	}
	if err != nil {
		l.logger.WithContext(ctx).Warn("Rate limit store unavailable, allowing request",
			logging.Field{Key: "caller", Value: callerKey},
			logging.Field{Key: "error", Value: err.Error()},
		)
		return allowed
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	result := Result{
		Count:     count,
		Limit:     limit,
		Remaining: remaining,
		ResetTime: allowed.ResetTime,
	}
	if count > int64(limit) {
		result.Limited = true
		result.RetryAfter = window
	}
	return result
}

// Check applies the default limit and window
func (l *Limiter) Check(ctx context.Context, callerKey string) Result {
	return l.CheckAndIncrement(ctx, callerKey, l.config.DefaultLimit, l.config.DefaultWindow)
}

// Headers returns the X-RateLimit-* headers describing r
func (r Result) Headers() map[string]string {
	return map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(r.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(r.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(r.ResetTime.Unix(), 10),
	}
}
