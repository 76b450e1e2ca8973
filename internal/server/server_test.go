package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_StartAndShutdown(t *testing.T) {
	srv := New(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}), "0", "", "")

	require.NoError(t, srv.Start())
	require.NotEmpty(t, srv.Addr())

	resp, err := http.Get("http://" + srv.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case err, ok := <-srv.Errors():
		assert.False(t, ok, "unexpected serve error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("errors channel was not closed after shutdown")
	}
}

func TestServer_StartBindError(t *testing.T) {
	first := New(http.NotFoundHandler(), "0", "", "")
	require.NoError(t, first.Start())
	defer first.Shutdown(context.Background())

	_, port, err := net.SplitHostPort(first.Addr())
	require.NoError(t, err)
	second := New(http.NotFoundHandler(), port, "", "")
	assert.Error(t, second.Start())
}
