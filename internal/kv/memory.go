package kv

import (
	"context"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore is an in-process Store backed by patrickmn/go-cache.
// Expired entries are swept by the go-cache janitor every cleanupInterval.
type MemoryStore struct {
	mu    sync.Mutex
	cache *gocache.Cache
}

// NewMemoryStore creates an in-process store
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	return &MemoryStore{
		cache: gocache.New(gocache.NoExpiration, cleanupInterval),
	}
}

func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}

// IncrementWithExpiry increments a counter, creating it with ttl when absent
func (m *MemoryStore) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.cache.Add(key, int64(1), expiration(ttl)); err == nil {
		return 1, nil
	}
	// Increment keeps the expiry set by Add
	n, err := m.cache.IncrementInt64(key, 1)
	if err != nil {
		// the entry expired or holds a non-counter value; start a new window
		m.cache.Set(key, int64(1), expiration(ttl))
		return 1, nil
	}
	return n, nil
}

// Get returns the value stored at key
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, found := m.cache.Get(key)
	if !found {
		return nil, ErrNotFound
	}
	switch val := v.(type) {
	case []byte:
		out := make([]byte, len(val))
		copy(out, val)
		return out, nil
	case int64:
		return []byte(strconv.FormatInt(val, 10)), nil
	default:
		return nil, ErrNotFound
	}
}

// SetWithTTL stores value at key, replacing any existing value
func (m *MemoryStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Set(key, cloneBytes(value), expiration(ttl))
	return nil
}

// SetIfAbsent stores value only when key does not exist
func (m *MemoryStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.cache.Add(key, cloneBytes(value), expiration(ttl)); err != nil {
		return false, nil
	}
	return true, nil
}

// TTL returns the remaining lifetime of key, 0 when it never expires
func (m *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	_, exp, found := m.cache.GetWithExpiration(key)
	if !found {
		return 0, ErrNotFound
	}
	if exp.IsZero() {
		return 0, nil
	}
	return time.Until(exp), nil
}

// Delete removes key
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Delete(key)
	return nil
}

// Exists reports whether key holds a live value
func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	_, found := m.cache.Get(key)
	return found, nil
}

// Health always succeeds for the in-process store
func (m *MemoryStore) Health(ctx context.Context) error {
	return nil
}

// Close drops all entries
func (m *MemoryStore) Close() error {
	m.cache.Flush()
	return nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
