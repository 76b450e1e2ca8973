// Package kv defines the key-value store the federation layer keeps its
// counters, idempotency records and lockouts in.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired
var ErrNotFound = errors.New("kv: key not found")

// Store is an atomic key-value store with per-key expiry.
//
// IncrementWithExpiry must be atomic: concurrent increments of one key never
// lose updates, and the expiry is only set when the key is created so a
// fixed window cannot be extended by later increments.
type Store interface {
	IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Health(ctx context.Context) error
	Close() error
}
