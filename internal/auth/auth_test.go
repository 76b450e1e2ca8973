package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"federation-gateway/internal/common/errors"
	"federation-gateway/internal/kv"
	"federation-gateway/internal/ratelimit"
	"federation-gateway/internal/testutil"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

func newTokenService(t *testing.T) *TokenService {
	t.Helper()
	svc, err := NewTokenService(testSigningKey, "federation-gateway", time.Hour)
	require.NoError(t, err)
	return svc
}

func TestNewTokenService_ShortKey(t *testing.T) {
	_, err := NewTokenService("short", "iss", time.Hour)
	assert.Error(t, err)
}

func TestTokenRoundTrip(t *testing.T) {
	svc := newTokenService(t)
	token, err := svc.CreateToken(Identity{UserID: "u_1", Email: "ops@example.com", Role: RoleAdmin})
	require.NoError(t, err)

	id, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u_1", id.UserID)
	assert.Equal(t, "ops@example.com", id.Email)
	assert.Equal(t, RoleAdmin, id.Role)
}

func TestValidateToken_Rejections(t *testing.T) {
	svc := newTokenService(t)

	t.Run("expired", func(t *testing.T) {
		past := *svc
		past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		token, err := past.CreateToken(Identity{UserID: "u_1", Role: RoleAdmin})
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := NewTokenService("another-key-another-key-another-k", "federation-gateway", time.Hour)
		require.NoError(t, err)
		token, _ := other.CreateToken(Identity{UserID: "u_1", Role: RoleAdmin})
		_, err = svc.ValidateToken(token)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other, _ := NewTokenService(testSigningKey, "someone-else", time.Hour)
		token, _ := other.CreateToken(Identity{UserID: "u_1", Role: RoleAdmin})
		_, err := svc.ValidateToken(token)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("none algorithm", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "u_1", Issuer: "federation-gateway"})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = svc.ValidateToken(signed)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.ValidateToken("not-a-token")
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})
}

func serveAdmin(m *Middleware, header string) *httptest.ResponseRecorder {
	handler := m.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := GetIdentity(r.Context())
		w.Header().Set("X-Test-User", id.UserID)
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/dead-letters", nil)
	req.RemoteAddr = "192.0.2.10:4000"
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func codeOf(t *testing.T, rr *httptest.ResponseRecorder) string {
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body["error"].(string)
}

func TestRequireAdmin(t *testing.T) {
	svc := newTokenService(t)
	m := NewMiddleware(svc, nil, testutil.NewRecordingLogger())

	admin, _ := svc.CreateToken(Identity{UserID: "u_admin", Role: RoleAdmin})
	viewer, _ := svc.CreateToken(Identity{UserID: "u_viewer", Role: "viewer"})

	rr := serveAdmin(m, "Bearer "+admin)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "u_admin", rr.Header().Get("X-Test-User"))

	rr = serveAdmin(m, "bearer "+admin)
	assert.Equal(t, http.StatusOK, rr.Code, "scheme is case-insensitive")

	rr = serveAdmin(m, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, errors.CodeUnauthorized, codeOf(t, rr))

	rr = serveAdmin(m, "Basic dXNlcjpwYXNz")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = serveAdmin(m, "Bearer "+viewer)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRequireAdmin_LocksOutRepeatedFailures(t *testing.T) {
	store := kv.NewMemoryStore(time.Minute)
	defer store.Close()
	policies := map[ratelimit.Category]ratelimit.Policy{
		ratelimit.CategoryAPI: {MaxAttempts: 3, Window: time.Minute, Lockout: time.Minute},
	}
	attempts := ratelimit.NewAttemptLimiter(store, policies, []time.Duration{0}, testutil.NewRecordingLogger())
	svc := newTokenService(t)
	m := NewMiddleware(svc, attempts, testutil.NewRecordingLogger())

	for i := 0; i < 4; i++ {
		assert.Equal(t, http.StatusUnauthorized, serveAdmin(m, "Bearer bogus").Code)
	}

	admin, _ := svc.CreateToken(Identity{UserID: "u_admin", Role: RoleAdmin})
	rr := serveAdmin(m, "Bearer "+admin)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, errors.CodeTooManyAttempts, codeOf(t, rr))
}

func TestRequireAdmin_ClientAddressBehindTrustedProxy(t *testing.T) {
	store := kv.NewMemoryStore(time.Minute)
	defer store.Close()
	policies := map[ratelimit.Category]ratelimit.Policy{
		ratelimit.CategoryAPI: {MaxAttempts: 1, Window: time.Minute, Lockout: time.Minute},
	}
	attempts := ratelimit.NewAttemptLimiter(store, policies, []time.Duration{0}, testutil.NewRecordingLogger())
	res, err := ratelimit.NewClientIPResolver([]string{"192.0.2.0/24"})
	require.NoError(t, err)
	svc := newTokenService(t)
	m := NewMiddleware(svc, attempts, testutil.NewRecordingLogger(), WithClientIPResolver(res))
	admin, _ := svc.CreateToken(Identity{UserID: "u_admin", Role: RoleAdmin})

	serve := func(forwardedFor, header string) int {
		handler := m.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		req := httptest.NewRequest(http.MethodGet, "/api/dead-letters", nil)
		req.RemoteAddr = "192.0.2.10:4000"
		req.Header.Set("X-Forwarded-For", forwardedFor)
		req.Header.Set("Authorization", header)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusUnauthorized, serve("203.0.113.1", "Bearer bogus"))
	assert.Equal(t, http.StatusUnauthorized, serve("203.0.113.1", "Bearer bogus"))
	assert.Equal(t, http.StatusTooManyRequests, serve("203.0.113.1", "Bearer "+admin))
	assert.Equal(t, http.StatusOK, serve("203.0.113.2", "Bearer "+admin))
}
