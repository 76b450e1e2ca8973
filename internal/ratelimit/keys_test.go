package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"federation-gateway/internal/kv"
)

func requestFrom(remote string, headers map[string]string) *http.Request {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = remote
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestClientIP_IgnoresForwardingHeadersFromUntrustedPeers(t *testing.T) {
	var untrusting *ClientIPResolver
	res, err := NewClientIPResolver([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	headers := map[string]string{
		"X-Forwarded-For": "203.0.113.7",
		"X-Real-IP":       "203.0.113.8",
	}
	for _, r := range []*ClientIPResolver{untrusting, res} {
		assert.Equal(t, "192.0.2.1", r.ClientIP(requestFrom("192.0.2.1:5555", headers)))
	}
	assert.Equal(t, "192.0.2.1", res.ClientIP(requestFrom("192.0.2.1", nil)))
}

func TestClientIP_TrustedProxy(t *testing.T) {
	res, err := NewClientIPResolver([]string{"10.0.0.0/8", " 192.168.1.5 "})
	require.NoError(t, err)

	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"no headers", "10.0.0.1:5555", nil, "10.0.0.1"},
		{"real ip", "10.0.0.1:5555", map[string]string{"X-Real-IP": "203.0.113.2"}, "203.0.113.2"},
		{"single hop", "10.0.0.1:5555", map[string]string{"X-Forwarded-For": "203.0.113.9"}, "203.0.113.9"},
		{"spoofed prefix is skipped", "10.0.0.1:5555", map[string]string{"X-Forwarded-For": "198.51.100.1, 203.0.113.9"}, "203.0.113.9"},
		{"trusted hops are skipped", "192.168.1.5:80", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.3"}, "203.0.113.9"},
		{"all hops trusted", "10.0.0.1:5555", map[string]string{"X-Forwarded-For": "10.0.0.4, 10.0.0.3"}, "10.0.0.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, res.ClientIP(requestFrom(tt.remote, tt.headers)))
		})
	}
}

func TestNewClientIPResolver_Invalid(t *testing.T) {
	_, err := NewClientIPResolver([]string{"not-an-ip"})
	assert.Error(t, err)
	_, err = NewClientIPResolver([]string{"10.0.0.0/99"})
	assert.Error(t, err)

	res, err := NewClientIPResolver([]string{"", "::1"})
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::1", res.ClientIP(requestFrom("[::1]:443", map[string]string{"X-Forwarded-For": "2001:db8::1"})))
}

func TestClientIP_RotatingHeaderDoesNotEvadeLockout(t *testing.T) {
	ctx := context.Background()
	a := NewAttemptLimiter(kv.NewMemoryStore(time.Minute), map[Category]Policy{
		CategoryAuth: {MaxAttempts: 5, Window: time.Minute, Lockout: time.Minute},
	}, nil, &recordingLogger{})
	var res *ClientIPResolver

	for i := 0; i < 6; i++ {
		r := requestFrom("192.0.2.1:4000", map[string]string{"X-Forwarded-For": fmt.Sprintf("203.0.113.%d", i)})
		_, err := a.RecordFailure(ctx, CategoryAuth, res.ClientIP(r))
		require.NoError(t, err)
	}

	d, err := a.Check(ctx, CategoryAuth, "192.0.2.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	victim := requestFrom("203.0.113.0:4000", nil)
	d, err = a.Check(ctx, CategoryAuth, res.ClientIP(victim))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
