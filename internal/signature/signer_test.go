package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimestamp = "2025-03-01T12:00:00.000Z"

func TestSign(t *testing.T) {
	t.Run("matches hand-computed hmac", func(t *testing.T) {
		mac := hmac.New(sha256.New, []byte("s3cret"))
		mac.Write([]byte("POST /federation/escalation " + testTimestamp))
		want := "sha256:" + hex.EncodeToString(mac.Sum(nil))

		assert.Equal(t, want, Sign("POST", "/federation/escalation", testTimestamp, "s3cret"))
	})

	t.Run("deterministic", func(t *testing.T) {
		a := Sign("GET", "/federation/ping", testTimestamp, "k")
		b := Sign("GET", "/federation/ping", testTimestamp, "k")
		assert.Equal(t, a, b)
		assert.True(t, strings.HasPrefix(a, Prefix))
		assert.Len(t, a, len(Prefix)+64)
	})

	t.Run("method is case-sensitive", func(t *testing.T) {
		assert.NotEqual(t,
			Sign("POST", "/x", testTimestamp, "k"),
			Sign("post", "/x", testTimestamp, "k"))
	})

	t.Run("empty path is signable", func(t *testing.T) {
		sig := Sign("GET", "", testTimestamp, "k")
		assert.True(t, Verify("GET", "", testTimestamp, sig, "k"))
	})

	t.Run("query is part of the signature", func(t *testing.T) {
		assert.NotEqual(t,
			Sign("GET", "/x?a=1&b=2", testTimestamp, "k"),
			Sign("GET", "/x?b=2&a=1", testTimestamp, "k"))
	})

	t.Run("long secrets are not truncated", func(t *testing.T) {
		long := strings.Repeat("a", 4096)
		assert.NotEqual(t,
			Sign("GET", "/x", testTimestamp, long),
			Sign("GET", "/x", testTimestamp, long+"b"))
	})
}

func TestVerify(t *testing.T) {
	sig := Sign("POST", "/federation/escalation?x=1", testTimestamp, "s3cret")

	tests := []struct {
		name      string
		method    string
		path      string
		timestamp string
		candidate string
		secret    string
		want      bool
	}{
		{"valid", "POST", "/federation/escalation?x=1", testTimestamp, sig, "s3cret", true},
		{"wrong secret", "POST", "/federation/escalation?x=1", testTimestamp, sig, "other", false},
		{"wrong method", "PUT", "/federation/escalation?x=1", testTimestamp, sig, "s3cret", false},
		{"wrong path", "POST", "/federation/escalation", testTimestamp, sig, "s3cret", false},
		{"wrong timestamp", "POST", "/federation/escalation?x=1", "2025-03-01T12:00:01.000Z", sig, "s3cret", false},
		{"truncated candidate", "POST", "/federation/escalation?x=1", testTimestamp, sig[:len(sig)-1], "s3cret", false},
		{"missing prefix", "POST", "/federation/escalation?x=1", testTimestamp, strings.TrimPrefix(sig, Prefix), "s3cret", false},
		{"empty candidate", "POST", "/federation/escalation?x=1", testTimestamp, "", "s3cret", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Verify(tt.method, tt.path, tt.timestamp, tt.candidate, tt.secret))
		})
	}
}

func TestSignPayload(t *testing.T) {
	body := []byte(`{"type":"escalation.created"}`)
	sig := SignPayload(body, "hook-secret")

	assert.True(t, VerifyPayload(body, sig, "hook-secret"))
	assert.False(t, VerifyPayload(append(body, ' '), sig, "hook-secret"))
	assert.False(t, VerifyPayload(body, sig, "other"))
}

func TestIsTimestampValid(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		candidate string
		want      bool
	}{
		{"exact", "2025-03-01T12:00:00Z", true},
		{"fractional seconds", "2025-03-01T12:00:00.123Z", true},
		{"299s past", "2025-03-01T11:55:01Z", true},
		{"300s past", "2025-03-01T11:55:00Z", true},
		{"301s past", "2025-03-01T11:54:59Z", false},
		{"300s future", "2025-03-01T12:05:00Z", true},
		{"301s future", "2025-03-01T12:05:01Z", false},
		{"offset zone", "2025-03-01T13:00:00+01:00", true},
		{"garbage", "not-a-date", false},
		{"empty", "", false},
		{"missing zone", "2025-03-01T12:00:00", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTimestampValid(tt.candidate, now, DefaultTolerance))
		})
	}
}

func TestFormatTimestamp_RoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 250*int(time.Millisecond), time.FixedZone("x", 3600))
	formatted := FormatTimestamp(now)
	assert.Equal(t, "2025-03-01T11:00:00.250Z", formatted)

	parsed, err := ParseTimestamp(formatted)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(now))
}

func TestSignRequest(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	req := httptest.NewRequest("POST", "/federation/escalation?source=cli", nil)
	creds := Credentials{KeyID: "partner-a", Secret: "s3cret", OrgID: "org_1"}

	SignRequest(req, creds, now)

	assert.Equal(t, "partner-a", req.Header.Get(HeaderKeyID))
	assert.Equal(t, "org_1", req.Header.Get(HeaderOrg))
	assert.Equal(t, FormatTimestamp(now), req.Header.Get(HeaderTimestamp))
	assert.True(t, Verify("POST", "/federation/escalation?source=cli",
		req.Header.Get(HeaderTimestamp), req.Header.Get(HeaderSignature), "s3cret"))
}
