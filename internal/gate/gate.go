// Package gate implements the federation protocol gate: every inbound partner
// request passes header, timestamp, rate-limit, signature and body-size checks
// before any business handler runs.
package gate

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"time"

	"federation-gateway/internal/audit"
	"federation-gateway/internal/common/errors"
	"federation-gateway/internal/common/logging"
	"federation-gateway/internal/kv"
	"federation-gateway/internal/ratelimit"
	"federation-gateway/internal/signature"
)

// DefaultMaxBodyBytes is the largest accepted request body
const DefaultMaxBodyBytes int64 = 1 << 20

// Config tunes the gate
type Config struct {
	ClockSkewTolerance time.Duration
	RateLimit          int
	RateWindow         time.Duration
	MaxBodyBytes       int64
	// ReplayCacheEnabled rejects a verified signature seen again within
	// twice the clock skew tolerance.
	ReplayCacheEnabled bool
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		ClockSkewTolerance: signature.DefaultTolerance,
		RateLimit:          100,
		RateWindow:         time.Minute,
		MaxBodyBytes:       DefaultMaxBodyBytes,
	}
}

// Stage names a step of the gate pipeline, used in logs
type Stage string

const (
	StageHeaders   Stage = "headers"
	StageTimestamp Stage = "timestamp"
	StageRateLimit Stage = "rate_limit"
	StageSignature Stage = "signature"
	StageBodySize  Stage = "body_size"
)

// Gate authenticates and throttles federation requests
type Gate struct {
	config   Config
	keys     KeyRegistry
	limiter  *ratelimit.Limiter
	attempts *ratelimit.AttemptLimiter
	replay   kv.Store
	clientIP *ratelimit.ClientIPResolver
	logger   logging.Logger
	now      func() time.Time
}

// Option customises a Gate
type Option func(*Gate)

// WithAttemptLimiter slows down and locks out client addresses that keep
// presenting bad keys or signatures
func WithAttemptLimiter(a *ratelimit.AttemptLimiter) Option {
	return func(g *Gate) { g.attempts = a }
}

// WithClientIPResolver sets which proxies may report the client address
// that attempt limits are keyed by. Without it the connection address is used.
func WithClientIPResolver(res *ratelimit.ClientIPResolver) Option {
	return func(g *Gate) { g.clientIP = res }
}

// WithReplayStore sets the store used by the replay cache
func WithReplayStore(store kv.Store) Option {
	return func(g *Gate) { g.replay = store }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// New creates a gate
func New(config Config, keys KeyRegistry, limiter *ratelimit.Limiter, logger logging.Logger, opts ...Option) *Gate {
	defaults := DefaultConfig()
	if config.ClockSkewTolerance <= 0 {
		config.ClockSkewTolerance = defaults.ClockSkewTolerance
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaults.RateLimit
	}
	if config.RateWindow <= 0 {
		config.RateWindow = defaults.RateWindow
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	g := &Gate{
		config:  config,
		keys:    keys,
		limiter: limiter,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) reject(w http.ResponseWriter, r *http.Request, stage Stage, pe *errors.ProtocolError) {
	ctx := r.Context()
	audit.SetErrorCode(ctx, pe.Code)
	g.logger.WithContext(ctx).Warn("Federation request rejected",
		logging.Field{Key: "stage", Value: string(stage)},
		logging.Field{Key: "code", Value: pe.Code},
		logging.Field{Key: "path", Value: r.URL.Path},
		logging.Field{Key: "org", Value: r.Header.Get(signature.HeaderOrg)},
	)
	pe.WriteJSON(w)
}

// Middleware runs the gate in front of next
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		keyID := r.Header.Get(signature.HeaderKeyID)
		ts := r.Header.Get(signature.HeaderTimestamp)
		sig := r.Header.Get(signature.HeaderSignature)
		org := r.Header.Get(signature.HeaderOrg)

		var missing []string
		for _, h := range []struct{ name, value string }{
			{signature.HeaderKeyID, keyID},
			{signature.HeaderTimestamp, ts},
			{signature.HeaderSignature, sig},
			{signature.HeaderOrg, org},
		} {
			if h.value == "" {
				missing = append(missing, h.name)
			}
		}
		if len(missing) > 0 {
			g.reject(w, r, StageHeaders, errors.MissingHeaders(missing...))
			return
		}

		if !signature.IsTimestampValid(ts, g.now(), g.config.ClockSkewTolerance) {
			g.reject(w, r, StageTimestamp, errors.InvalidTimestamp())
			return
		}

		if g.limiter != nil {
			res := g.limiter.CheckAndIncrement(ctx, org, g.config.RateLimit, g.config.RateWindow)
			for k, v := range res.Headers() {
				w.Header().Set(k, v)
			}
			if res.Limited {
				g.reject(w, r, StageRateLimit, errors.RateLimitExceeded(res.RetryAfter))
				return
			}
		}

		if pe := g.verify(ctx, r, keyID, ts, sig, org); pe != nil {
			g.reject(w, r, StageSignature, pe)
			return
		}

		if pe := g.limitBody(r); pe != nil {
			g.reject(w, r, StageBodySize, pe)
			return
		}

		caller := Caller{KeyID: keyID, OrgID: org}
		ctx = ContextWithCaller(ctx, caller)
		ctx = logging.ContextWithKeyID(ctx, keyID)
		audit.SetMachineActor(ctx, keyID, org)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// verify runs the signature stage, including the attempt guard and the
// optional replay cache
func (g *Gate) verify(ctx context.Context, r *http.Request, keyID, ts, sig, org string) *errors.ProtocolError {
	log := g.logger.WithContext(ctx)
	client := g.clientIP.ClientIP(r)

	var decision ratelimit.Decision
	if g.attempts != nil {
		d, err := g.attempts.Check(ctx, ratelimit.CategoryAuth, client)
		if err != nil {
			log.Warn("Attempt limiter unavailable, skipping attempt guard", logging.Field{Key: "error", Value: err.Error()})
		} else {
			decision = d
			if !d.Allowed {
				return errors.NewProtocolError(http.StatusTooManyRequests, errors.CodeTooManyAttempts,
					"too many failed authentication attempts").WithRetryAfter(d.RetryAfter)
			}
			if err := ratelimit.Wait(ctx, d); err != nil {
				return errors.NewProtocolError(http.StatusServiceUnavailable, errors.CodeTooManyAttempts,
					"request cancelled while throttled")
			}
		}
	}

	fail := func(pe *errors.ProtocolError) *errors.ProtocolError {
		if g.attempts == nil {
			return pe
		}
		d, err := g.attempts.RecordFailure(ctx, ratelimit.CategoryAuth, client)
		if err != nil {
			log.Warn("Failed to record authentication failure", logging.Field{Key: "error", Value: err.Error()})
			return pe
		}
		if !d.Allowed {
			log.Warn("Client locked out after repeated authentication failures",
				logging.Field{Key: "client", Value: client},
				logging.Field{Key: "failures", Value: d.Failures},
			)
		}
		return pe
	}

	key, err := g.keys.Lookup(ctx, keyID)
	if stderrors.Is(err, ErrUnknownKey) {
		return fail(errors.InvalidKey())
	}
	if err != nil {
		log.Error("Signing key registry unavailable", err)
		return errors.NewProtocolError(http.StatusServiceUnavailable, errors.CodeKeyRegistryUnavailable,
			"signing key registry is unavailable")
	}
	if key.OwnerOrgID != "" && key.OwnerOrgID != org {
		return fail(errors.InvalidKey())
	}

	if !signature.Verify(r.Method, signature.RequestTarget(r), ts, sig, key.Secret) {
		return fail(errors.InvalidSignature())
	}

	if g.attempts != nil && decision.Failures > 0 {
		if err := g.attempts.Reset(ctx, ratelimit.CategoryAuth, client); err != nil {
			log.Warn("Failed to reset authentication attempts", logging.Field{Key: "error", Value: err.Error()})
		}
	}

	if g.config.ReplayCacheEnabled && g.replay != nil {
		fresh, err := g.replay.SetIfAbsent(ctx, "nonce:"+sig, []byte(keyID), 2*g.config.ClockSkewTolerance)
		if err != nil {
			log.Error("Replay cache unavailable", err)
			return errors.NewProtocolError(http.StatusInternalServerError, errors.CodeInternal, "internal server error")
		}
		if !fresh {
			return errors.NewProtocolError(http.StatusUnauthorized, errors.CodeReplayedRequest,
				"request signature was already used")
		}
	}
	return nil
}

// limitBody rejects oversized bodies and leaves a re-readable copy on r
func (g *Gate) limitBody(r *http.Request) *errors.ProtocolError {
	limit := g.config.MaxBodyBytes
	if r.ContentLength > limit {
		return errors.PayloadTooLarge(limit)
	}
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	_ = r.Body.Close()
	if err != nil {
		return errors.NewProtocolError(http.StatusBadRequest, errors.CodeValidation, "failed to read request body")
	}
	if int64(len(body)) > limit {
		return errors.PayloadTooLarge(limit)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
	return nil
}
