package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"federation-gateway/internal/circuitbreaker"
	"federation-gateway/internal/common/logging"
	"federation-gateway/internal/kv"
)

type unavailableStore struct {
	kv.Store
	calls int
	mu    sync.Mutex
}

func (s *unavailableStore) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return 0, errors.New("dial tcp: connection refused")
}

type recordingLogger struct {
	logging.Logger
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Warn(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *recordingLogger) WithContext(ctx context.Context) logging.Logger { return l }

func newTestLimiter(store kv.Store) *Limiter {
	return NewLimiter(store, nil, DefaultConfig(), &recordingLogger{})
}

func TestNewLimiter_Defaults(t *testing.T) {
	l := NewLimiter(kv.NewMemoryStore(time.Minute), nil, nil, &recordingLogger{})
	assert.Equal(t, 100, l.config.DefaultLimit)
	assert.Equal(t, time.Minute, l.config.DefaultWindow)
	assert.True(t, l.config.Enabled)
}

func TestLimiter_CheckAndIncrement(t *testing.T) {
	ctx := context.Background()

	t.Run("limit plus one is limited", func(t *testing.T) {
		l := newTestLimiter(kv.NewMemoryStore(time.Minute))

		for i := 1; i <= 100; i++ {
			res := l.CheckAndIncrement(ctx, "org_1", 100, time.Minute)
			require.False(t, res.Limited, "request %d", i)
			assert.Equal(t, 100-i, res.Remaining)
		}

		res := l.CheckAndIncrement(ctx, "org_1", 100, time.Minute)
		assert.True(t, res.Limited)
		assert.Equal(t, int64(101), res.Count)
		assert.Equal(t, 0, res.Remaining)
		assert.Equal(t, time.Minute, res.RetryAfter)
	})

	t.Run("callers are isolated", func(t *testing.T) {
		l := newTestLimiter(kv.NewMemoryStore(time.Minute))

		for i := 0; i < 3; i++ {
			l.CheckAndIncrement(ctx, "org_a", 2, time.Minute)
		}
		assert.True(t, l.CheckAndIncrement(ctx, "org_a", 2, time.Minute).Limited)
		assert.False(t, l.CheckAndIncrement(ctx, "org_b", 2, time.Minute).Limited)
	})

	t.Run("no lost updates under concurrency", func(t *testing.T) {
		l := newTestLimiter(kv.NewMemoryStore(time.Minute))

		var wg sync.WaitGroup
		var mu sync.Mutex
		limited := 0
		for i := 0; i < 150; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if l.CheckAndIncrement(ctx, "org_c", 100, time.Minute).Limited {
					mu.Lock()
					limited++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 50, limited)
	})

	t.Run("window resets", func(t *testing.T) {
		l := newTestLimiter(kv.NewMemoryStore(time.Minute))

		l.CheckAndIncrement(ctx, "org_d", 1, 100*time.Millisecond)
		assert.True(t, l.CheckAndIncrement(ctx, "org_d", 1, 100*time.Millisecond).Limited)

		time.Sleep(150 * time.Millisecond)
		assert.False(t, l.CheckAndIncrement(ctx, "org_d", 1, 100*time.Millisecond).Limited)
	})

	t.Run("disabled never limits", func(t *testing.T) {
		store := &unavailableStore{}
		l := NewLimiter(store, nil, &Config{DefaultLimit: 1, DefaultWindow: time.Minute, Enabled: false}, &recordingLogger{})

		for i := 0; i < 5; i++ {
			assert.False(t, l.Check(ctx, "org").Limited)
		}
		assert.Equal(t, 0, store.calls)
	})
}

func TestLimiter_FailsOpen(t *testing.T) {
	logger := &recordingLogger{}
	l := NewLimiter(&unavailableStore{}, nil, DefaultConfig(), logger)

	for i := 0; i < 200; i++ {
		assert.False(t, l.Check(context.Background(), "org_1").Limited)
	}
	assert.NotEmpty(t, logger.warns)
	assert.Contains(t, logger.warns[0], "allowing request")
}

func TestLimiter_BreakerSkipsStoreWhenOpen(t *testing.T) {
	store := &unavailableStore{}
	logger := &recordingLogger{}
	breaker := circuitbreaker.New("rate-limit-store", circuitbreaker.Config{
		MaxFailures:           3,
		Timeout:               time.Hour,
		MaxConcurrentRequests: 1,
	}, logger)
	l := NewLimiter(store, breaker, DefaultConfig(), logger)

	for i := 0; i < 10; i++ {
		assert.False(t, l.Check(context.Background(), "org_1").Limited)
	}
	assert.Equal(t, 3, store.calls)
	assert.True(t, breaker.IsOpen())
}

func TestResult_Headers(t *testing.T) {
	reset := time.Unix(1700000000, 0)
	h := Result{Limit: 100, Remaining: 7, ResetTime: reset}.Headers()
	assert.Equal(t, "100", h["X-RateLimit-Limit"])
	assert.Equal(t, "7", h["X-RateLimit-Remaining"])
	assert.Equal(t, "1700000000", h["X-RateLimit-Reset"])
}
