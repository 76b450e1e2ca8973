package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"federation-gateway/internal/common/errors"
	"federation-gateway/internal/common/logging"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Logging logs every HTTP request with method, path, status, duration and
// the correlation id placed on the context by the audit middleware.
func Logging(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			// The correlation id is assigned further down the chain, so it is
			// read back from the response header.
			next.ServeHTTP(wrapped, r)

			fields := []logging.Field{
				{Key: "method", Value: r.Method},
				{Key: "path", Value: r.URL.Path},
				{Key: "status", Value: wrapped.statusCode},
				{Key: "duration_ms", Value: time.Since(start).Milliseconds()},
				{Key: "remote_addr", Value: r.RemoteAddr},
			}
			if id := w.Header().Get("X-Correlation-Id"); id != "" {
				fields = append(fields, logging.Field{Key: "correlation_id", Value: id})
			}
			if r.URL.RawQuery != "" {
				fields = append(fields, logging.Field{Key: "query", Value: r.URL.RawQuery})
			}
			if ua := r.Header.Get("User-Agent"); ua != "" {
				fields = append(fields, logging.Field{Key: "user_agent", Value: ua})
			}

			switch {
			case wrapped.statusCode >= 500:
				logger.Error("HTTP request completed", nil, fields...)
			case wrapped.statusCode >= 400:
				logger.Warn("HTTP request completed", fields...)
			default:
				logger.Info("HTTP request completed", fields...)
			}
		})
	}
}

// Recoverer turns a panic into a 500 InternalError body. It sits inside the
// audit middleware, which still observes the failed request.
func Recoverer(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.WithContext(r.Context()).Error("Handler panicked", fmt.Errorf("%v", rec),
					logging.Field{Key: "stack", Value: string(debug.Stack())},
				)
				errors.NewProtocolError(http.StatusInternalServerError, errors.CodeInternal, "internal server error").WriteJSON(w)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
