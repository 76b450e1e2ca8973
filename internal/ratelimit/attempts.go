package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"federation-gateway/internal/common/logging"
	"federation-gateway/internal/kv"
)

// Category groups attempts that share a policy
type Category string

const (
	CategoryAuth     Category = "auth"
	CategoryAPI      Category = "api"
	CategoryRecovery Category = "recovery"
)

// Policy bounds failed attempts per identifier
type Policy struct {
	// MaxAttempts is the number of failures tolerated per window
	MaxAttempts int           `json:"max_attempts"`
	Window      time.Duration `json:"window"`
	Lockout     time.Duration `json:"lockout"`
}

// DefaultPolicies returns the built-in per-category policies
func DefaultPolicies() map[Category]Policy {
	return map[Category]Policy{
		CategoryAuth:     {MaxAttempts: 5, Window: 15 * time.Minute, Lockout: 15 * time.Minute},
		CategoryAPI:      {MaxAttempts: 100, Window: time.Minute, Lockout: time.Minute},
		CategoryRecovery: {MaxAttempts: 3, Window: time.Hour, Lockout: time.Hour},
	}
}

// DefaultDelaySchedule is the delay imposed after the 1st, 2nd, ... failure.
// Failures beyond the schedule use the last entry.
var DefaultDelaySchedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// Decision is the outcome of an attempt check
type Decision struct {
	Allowed    bool
	Failures   int64
	Delay      time.Duration
	RetryAfter time.Duration
}

// AttemptLimiter tracks failed attempts per category and identifier.
// Identifiers with recent failures are slowed down by the delay schedule;
// once failures inside the window exceed MaxAttempts the identifier is
// locked out.
type AttemptLimiter struct {
	store    kv.Store
	policies map[Category]Policy
	schedule []time.Duration
	logger   logging.Logger
}

// NewAttemptLimiter creates an attempt limiter. Nil policies or schedule use the defaults.
func NewAttemptLimiter(store kv.Store, policies map[Category]Policy, schedule []time.Duration, logger logging.Logger) *AttemptLimiter {
	if policies == nil {
		policies = DefaultPolicies()
	}
	if schedule == nil {
		schedule = DefaultDelaySchedule
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &AttemptLimiter{
		store:    store,
		policies: policies,
		schedule: schedule,
		logger:   logger,
	}
}

func attemptsKey(c Category, id string) string {
	return fmt.Sprintf("attempts:%s:%s", c, id)
}

func lockoutKey(c Category, id string) string {
	return fmt.Sprintf("lockout:%s:%s", c, id)
}

func (a *AttemptLimiter) policy(c Category) (Policy, error) {
	p, ok := a.policies[c]
	if !ok {
		return Policy{}, fmt.Errorf("unknown attempt category %q", c)
	}
	return p, nil
}

// Check reports whether identifier may attempt an action in category and
// how long it must wait first
func (a *AttemptLimiter) Check(ctx context.Context, c Category, identifier string) (Decision, error) {
	p, err := a.policy(c)
	if err != nil {
		return Decision{}, err
	}

	if locked, retryAfter, err := a.lockedOut(ctx, c, identifier, p); err != nil {
		return Decision{}, err
	} else if locked {
		return Decision{Allowed: false, RetryAfter: retryAfter}, nil
	}

	failures, err := a.failures(ctx, c, identifier)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: true, Failures: failures, Delay: a.delayFor(failures)}, nil
}

// RecordFailure counts a failed attempt and locks the identifier out once
// failures exceed the policy's MaxAttempts
func (a *AttemptLimiter) RecordFailure(ctx context.Context, c Category, identifier string) (Decision, error) {
	p, err := a.policy(c)
	if err != nil {
		return Decision{}, err
	}

	failures, err := a.store.IncrementWithExpiry(ctx, attemptsKey(c, identifier), p.Window)
	if err != nil {
		return Decision{}, err
	}

	if failures > int64(p.MaxAttempts) {
		if err := a.store.SetWithTTL(ctx, lockoutKey(c, identifier), []byte("1"), p.Lockout); err != nil {
			return Decision{}, err
		}
		_ = a.store.Delete(ctx, attemptsKey(c, identifier))
		a.logger.WithContext(ctx).Warn("Identifier locked out after repeated failures",
			logging.Field{Key: "category", Value: string(c)},
			logging.Field{Key: "identifier", Value: identifier},
			logging.Field{Key: "failures", Value: failures},
			logging.Field{Key: "lockout", Value: p.Lockout.String()},
		)
		return Decision{Allowed: false, Failures: failures, RetryAfter: p.Lockout}, nil
	}

	return Decision{Allowed: true, Failures: failures, Delay: a.delayFor(failures)}, nil
}

// Reset clears failures for identifier after a successful action. An active
// lockout is left in place.
func (a *AttemptLimiter) Reset(ctx context.Context, c Category, identifier string) error {
	return a.store.Delete(ctx, attemptsKey(c, identifier))
}

// Unlock clears both failures and any lockout for identifier
func (a *AttemptLimiter) Unlock(ctx context.Context, c Category, identifier string) error {
	if err := a.store.Delete(ctx, lockoutKey(c, identifier)); err != nil {
		return err
	}
	return a.Reset(ctx, c, identifier)
}

// Wait blocks for the decision's delay or until ctx is done
func Wait(ctx context.Context, d Decision) error {
	if d.Delay <= 0 {
		return nil
	}
	timer := time.NewTimer(d.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (a *AttemptLimiter) lockedOut(ctx context.Context, c Category, id string, p Policy) (bool, time.Duration, error) {
	ttl, err := a.store.TTL(ctx, lockoutKey(c, id))
	if errors.Is(err, kv.ErrNotFound) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	if ttl <= 0 {
		ttl = p.Lockout
	}
	return true, ttl, nil
}

func (a *AttemptLimiter) failures(ctx context.Context, c Category, id string) (int64, error) {
	raw, err := a.store.Get(ctx, attemptsKey(c, id))
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (a *AttemptLimiter) delayFor(failures int64) time.Duration {
	if failures <= 0 || len(a.schedule) == 0 {
		return 0
	}
	idx := int(failures - 1)
	if idx >= len(a.schedule) {
		idx = len(a.schedule) - 1
	}
	return a.schedule[idx]
}
