package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"federation-gateway/internal/signature"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSign(t *testing.T) {
	out, err := run(t, "sign", "-X", "post", "-p", "/federation/escalation", "-k", "partner-a", "-o", "org_1",
		"-s", "s3cret", "--timestamp", "2025-06-01T12:00:00Z")
	require.NoError(t, err)

	want := signature.Sign("POST", "/federation/escalation", "2025-06-01T12:00:00Z", "s3cret")
	assert.Contains(t, out, "X-Provider-KeyId: partner-a\n")
	assert.Contains(t, out, "X-Provider-Timestamp: 2025-06-01T12:00:00Z\n")
	assert.Contains(t, out, "X-Provider-Signature: "+want+"\n")
	assert.Contains(t, out, "X-Provider-Org: org_1\n")
}

func TestSign_SecretFromEnv(t *testing.T) {
	t.Setenv("FEDSIGN_SECRET", "")
	_, err := run(t, "sign", "-p", "/x", "-k", "k", "-o", "o")
	assert.ErrorContains(t, err, "signing secret is required")

	t.Setenv("FEDSIGN_SECRET", "from-env")
	out, err := run(t, "sign", "-p", "/x", "-k", "k", "-o", "o", "--json", "--timestamp", "2025-06-01T12:00:00Z")
	require.NoError(t, err)
	assert.Contains(t, out, signature.Sign("GET", "/x", "2025-06-01T12:00:00Z", "from-env"))
}

func TestVerify(t *testing.T) {
	ts := "2025-06-01T12:00:00Z"
	sig := signature.Sign("GET", "/federation/ping", ts, "s3cret")

	out, err := run(t, "verify", "-p", "/federation/ping", "-t", ts, "--signature", sig, "-s", "s3cret", "--tolerance", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "signature: ok")

	out, err = run(t, "verify", "-p", "/federation/ping", "-t", ts, "--signature", sig, "-s", "other", "--tolerance", "0")
	assert.Error(t, err)
	assert.Contains(t, out, "signature: INVALID")

	_, err = run(t, "verify", "-p", "/federation/ping", "-t", ts, "--signature", sig, "-s", "s3cret")
	assert.ErrorContains(t, err, "outside")
}

func TestSend(t *testing.T) {
	var got *http.Request
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.Header().Set("X-Correlation-Id", "corr-1")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"escalationId":"e1","status":"created"}`)
	}))
	defer srv.Close()

	out, err := run(t, "send", srv.URL+"/federation/escalation", "-X", "POST", "-k", "partner-a", "-o", "org_1",
		"-s", "s3cret", "-d", `{"subject":"x","severity":"low"}`, "--idempotency-key", "idem-1")
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "idem-1", got.Header.Get(signature.HeaderIdempotencyKey))
	assert.Equal(t, `{"subject":"x","severity":"low"}`, body)
	assert.True(t, signature.Verify("POST", "/federation/escalation",
		got.Header.Get(signature.HeaderTimestamp), got.Header.Get(signature.HeaderSignature), "s3cret"))
	assert.True(t, strings.HasPrefix(out, "201 Created"))
	assert.Contains(t, out, "X-Correlation-Id: corr-1")
	assert.Contains(t, out, `"escalationId":"e1"`)
}
