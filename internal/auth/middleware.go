package auth

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"

	"federation-gateway/internal/audit"
	"federation-gateway/internal/common/errors"
	"federation-gateway/internal/common/logging"
	"federation-gateway/internal/ratelimit"
)

type identityKey struct{}

// GetIdentity returns the operator authenticated by RequireAdmin
func GetIdentity(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// ContextWithIdentity returns ctx carrying id
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// Middleware guards admin routes
type Middleware struct {
	tokens   *TokenService
	attempts *ratelimit.AttemptLimiter
	clientIP *ratelimit.ClientIPResolver
	logger   logging.Logger
}

// MiddlewareOption customises a Middleware
type MiddlewareOption func(*Middleware)

// WithClientIPResolver sets which proxies may report the client address.
// Without it failures are keyed by the connection address.
func WithClientIPResolver(res *ratelimit.ClientIPResolver) MiddlewareOption {
	return func(m *Middleware) { m.clientIP = res }
}

// NewMiddleware creates the admin guard. attempts may be nil.
func NewMiddleware(tokens *TokenService, attempts *ratelimit.AttemptLimiter, logger logging.Logger, opts ...MiddlewareOption) *Middleware {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	m := &Middleware{tokens: tokens, attempts: attempts, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func extractBearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func reject(w http.ResponseWriter, r *http.Request, pe *errors.ProtocolError) {
	audit.SetErrorCode(r.Context(), pe.Code)
	pe.WriteJSON(w)
}

// RequireAdmin rejects requests without a valid admin bearer token. Clients
// that keep failing are locked out by the attempt limiter.
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := m.logger.WithContext(ctx)
		client := m.clientIP.ClientIP(r)

		if m.attempts != nil {
			d, err := m.attempts.Check(ctx, ratelimit.CategoryAPI, client)
			if err != nil {
				log.Warn("Attempt limiter unavailable", logging.Field{Key: "error", Value: err.Error()})
			} else if !d.Allowed {
				reject(w, r, errors.NewProtocolError(http.StatusTooManyRequests, errors.CodeTooManyAttempts,
					"too many failed authentication attempts").WithRetryAfter(d.RetryAfter))
				return
			}
		}

		fail := func(message string) {
			if m.attempts != nil {
				if _, err := m.attempts.RecordFailure(ctx, ratelimit.CategoryAPI, client); err != nil {
					log.Warn("Failed to record authentication failure", logging.Field{Key: "error", Value: err.Error()})
				}
			}
			reject(w, r, errors.NewProtocolError(http.StatusUnauthorized, errors.CodeUnauthorized, message))
		}

		token, ok := extractBearerToken(r)
		if !ok {
			fail("missing bearer token")
			return
		}

		identity, err := m.tokens.ValidateToken(token)
		if err != nil {
			if stderrors.Is(err, ErrTokenExpired) {
				fail("token expired")
			} else {
				fail("invalid token")
			}
			return
		}
		if identity.Role != RoleAdmin {
			reject(w, r, errors.NewProtocolError(http.StatusForbidden, errors.CodeUnauthorized, "admin role required"))
			return
		}

		ctx = ContextWithIdentity(ctx, identity)
		ctx = logging.ContextWithUserID(ctx, identity.UserID)
		audit.SetUserActor(ctx, identity.UserID, identity.Email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
