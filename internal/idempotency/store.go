// Package idempotency stores the outcome of mutating federation requests so
// a retried request with the same Idempotency-Key replays the first response
// instead of running the handler again.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"federation-gateway/internal/kv"
)

// Outcome classifies a request against existing records
type Outcome int

const (
	// Fresh means no record exists for the key
	Fresh Outcome = iota
	// Replay means a record with the same body hash exists
	Replay
	// Conflict means the key was used with a different body
	Conflict
)

func (o Outcome) String() string {
	switch o {
	case Fresh:
		return "fresh"
	case Replay:
		return "replay"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Key scopes a client idempotency token to a route and a caller so tokens
// never collide across partners or endpoints
type Key struct {
	Route       string
	CallerKeyID string
	ClientKey   string
}

func (k Key) digest() string {
	h := sha256.New()
	h.Write([]byte(k.Route))
	h.Write([]byte{0})
	h.Write([]byte(k.CallerKeyID))
	h.Write([]byte{0})
	h.Write([]byte(k.ClientKey))
	return hex.EncodeToString(h.Sum(nil))
}

func (k Key) recordKey() string { return "idempotency:" + k.digest() }
func (k Key) lockKey() string   { return "idempotency-lock:" + k.digest() }

// StoredResponse is the response replayed for a repeated request
type StoredResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
}

// Record is the persisted idempotency entry
type Record struct {
	RequestHash string         `json:"request_hash"`
	Response    StoredResponse `json:"response"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Result is returned by Check
type Result struct {
	Outcome  Outcome
	Response *StoredResponse
}

const (
	DefaultTTL     = 24 * time.Hour
	DefaultLockTTL = 30 * time.Second
)

// Store keeps idempotency records in a kv.Store. Expiry is left to the
// store's TTL.
type Store struct {
	kv      kv.Store
	ttl     time.Duration
	lockTTL time.Duration
}

// NewStore creates an idempotency store. Zero durations use the defaults.
func NewStore(store kv.Store, ttl, lockTTL time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &Store{kv: store, ttl: ttl, lockTTL: lockTTL}
}

// HashBody returns the hex SHA-256 of a request body
func HashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Check looks up key and compares the stored body hash with body
func (s *Store) Check(ctx context.Context, key Key, body []byte) (Result, error) {
	raw, err := s.kv.Get(ctx, key.recordKey())
	if errors.Is(err, kv.ErrNotFound) {
		return Result{Outcome: Fresh}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to read idempotency record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Result{}, fmt.Errorf("failed to decode idempotency record: %w", err)
	}

	if rec.RequestHash != HashBody(body) {
		return Result{Outcome: Conflict}, nil
	}
	resp := rec.Response
	return Result{Outcome: Replay, Response: &resp}, nil
}

// Record persists the response for key. An existing record is never
// overwritten; the first recorded outcome wins.
func (s *Store) Record(ctx context.Context, key Key, body []byte, resp StoredResponse) error {
	data, err := json.Marshal(Record{
		RequestHash: HashBody(body),
		Response:    resp,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode idempotency record: %w", err)
	}
	if _, err := s.kv.SetIfAbsent(ctx, key.recordKey(), data, s.ttl); err != nil {
		return fmt.Errorf("failed to write idempotency record: %w", err)
	}
	return nil
}

// Acquire takes the in-flight lock for key. It returns false if another
// request holding the same key is still executing.
func (s *Store) Acquire(ctx context.Context, key Key) (bool, error) {
	ok, err := s.kv.SetIfAbsent(ctx, key.lockKey(), []byte("1"), s.lockTTL)
	if err != nil {
		return false, fmt.Errorf("failed to acquire idempotency lock: %w", err)
	}
	return ok, nil
}

// Release drops the in-flight lock for key
func (s *Store) Release(ctx context.Context, key Key) error {
	return s.kv.Delete(ctx, key.lockKey())
}
