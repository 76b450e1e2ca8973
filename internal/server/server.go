package server

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"federation-gateway/internal/common/logging"
)

// Server represents an HTTP server
type Server struct {
	srv      *http.Server
	tlsCert  string
	tlsKey   string
	listener net.Listener
	errCh    chan error
}

// New creates a new server instance. port may be "0" to pick a free port.
func New(handler http.Handler, port, tlsCert, tlsKey string) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              ":" + port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		tlsCert: tlsCert,
		tlsKey:  tlsKey,
		errCh:   make(chan error, 1),
	}
}

// Start binds the listener and serves in the background. Bind errors are
// returned; later serve errors are delivered on Errors.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.listener = ln

	serve := func() error { return s.srv.Serve(ln) }
	if s.tlsCert != "" && s.tlsKey != "" {
		s.srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		serve = func() error { return s.srv.ServeTLS(ln, s.tlsCert, s.tlsKey) }
	}

	go func() {
		if err := serve(); err != nil && err != http.ErrServerClosed {
			logging.Error("HTTP server stopped unexpectedly", err)
			s.errCh <- err
		}
		close(s.errCh)
	}()

	logging.Info("HTTP server listening",
		logging.Field{Key: "addr", Value: ln.Addr().String()},
		logging.Field{Key: "tls", Value: s.srv.TLSConfig != nil},
	)
	return nil
}

// Addr returns the bound address once Start has succeeded
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Errors reports a serve failure and is closed when serving stops
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
