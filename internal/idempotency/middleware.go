package idempotency

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"federation-gateway/internal/audit"
	"federation-gateway/internal/common/errors"
	"federation-gateway/internal/common/logging"
)

// HeaderKey is the client-supplied idempotency token header
const HeaderKey = "Idempotency-Key"

// HeaderReplayed marks responses served from a stored record
const HeaderReplayed = "Idempotent-Replayed"

// CallerFunc returns the verified caller key id for a request
type CallerFunc func(r *http.Request) string

func requiresKey(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// Middleware enforces Idempotency-Key on mutating requests. It must run
// behind the federation gate so the caller is known and the body is bounded.
// Store failures reject the request.
func Middleware(store *Store, caller CallerFunc, logger logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !requiresKey(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			log := logger.WithContext(ctx)

			token := r.Header.Get(HeaderKey)
			if token == "" {
				audit.SetErrorCode(ctx, errors.CodeValidation)
				errors.NewProtocolError(http.StatusBadRequest, errors.CodeValidation, "Idempotency-Key header is required for this request").
					WithDetails(HeaderKey + " header is required").
					WriteJSON(w)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				errors.NewProtocolError(http.StatusBadRequest, errors.CodeValidation, "failed to read request body").WriteJSON(w)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := Key{Route: r.Method + " " + r.URL.Path, CallerKeyID: caller(r), ClientKey: token}

			// The first lookup answers replays without touching the lock. It is
			// repeated once the lock is held, since another request with the
			// same key may have completed in between.
			res, err := store.Check(ctx, key, body)
			if err != nil {
				log.Error("Idempotency check failed", err)
				audit.SetErrorCode(ctx, errors.CodeInternal)
				errors.WriteError(w, err)
				return
			}
			if writeOutcome(w, r, res, key, log) {
				return
			}

			acquired, err := store.Acquire(ctx, key)
			if err != nil {
				log.Error("Idempotency lock failed", err)
				audit.SetErrorCode(ctx, errors.CodeInternal)
				errors.WriteError(w, err)
				return
			}
			if !acquired {
				audit.SetErrorCode(ctx, errors.CodeIdempotencyInProgress)
				errors.NewProtocolError(http.StatusConflict, errors.CodeIdempotencyInProgress,
					"a request with this Idempotency-Key is still being processed").WriteJSON(w)
				return
			}
			release := func() {
				if err := store.Release(context.WithoutCancel(ctx), key); err != nil {
					log.Warn("Failed to release idempotency lock", logging.Field{Key: "error", Value: err.Error()})
				}
			}

			res, err = store.Check(ctx, key, body)
			if err != nil {
				release()
				log.Error("Idempotency check failed", err)
				audit.SetErrorCode(ctx, errors.CodeInternal)
				errors.WriteError(w, err)
				return
			}
			if writeOutcome(w, r, res, key, log) {
				release()
				return
			}
			defer release()

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status < 200 || rec.status >= 300 {
				return
			}
			stored := StoredResponse{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			}
			if err := store.Record(context.WithoutCancel(ctx), key, body, stored); err != nil {
				log.Error("Failed to record idempotent response", err, logging.Field{Key: "route", Value: key.Route})
			}
		})
	}
}

// writeOutcome answers a Replay or Conflict and reports whether it did
func writeOutcome(w http.ResponseWriter, r *http.Request, res Result, key Key, log logging.Logger) bool {
	ctx := r.Context()
	switch res.Outcome {
	case Replay:
		log.Debug("Replaying stored response", logging.Field{Key: "route", Value: key.Route})
		audit.AddDetail(ctx, "idempotentReplay", true)
		writeStored(w, res.Response)
		return true
	case Conflict:
		log.Warn("Idempotency key reused with a different body",
			logging.Field{Key: "route", Value: key.Route},
		)
		audit.SetErrorCode(ctx, errors.CodeIdempotencyConflict)
		errors.NewProtocolError(http.StatusConflict, errors.CodeIdempotencyConflict,
			"Idempotency-Key was already used with a different request body").WriteJSON(w)
		return true
	}
	return false
}

func writeStored(w http.ResponseWriter, resp *StoredResponse) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.Header().Set(HeaderReplayed, "true")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// recorder tees the handler response so it can be stored
type recorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *recorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
