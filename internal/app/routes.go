package app

import (
	"net/http"

	"federation-gateway/internal/auth"
	"federation-gateway/internal/common/errors"
	"federation-gateway/internal/common/logging"
	"federation-gateway/internal/gate"
	"federation-gateway/internal/handlers"
	"federation-gateway/internal/idempotency"
	"federation-gateway/internal/middleware"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"
)

// SetupRoutes configures all HTTP routes for the application. Every response,
// including 404 and 405, carries a correlation id and produces one audit event.
func (app *App) SetupRoutes(router *mux.Router, h *handlers.Handlers) {
	logger := app.Logger.WithFields(logging.Field{Key: "component", Value: "http"})
	chain := []mux.MiddlewareFunc{
		middleware.Logging(logger),
		app.Emitter.Middleware,
		middleware.Recoverer(logger),
	}
	router.Use(chain...)
	router.NotFoundHandler = wrap(http.HandlerFunc(notFound), chain)
	router.MethodNotAllowedHandler = wrap(http.HandlerFunc(methodNotAllowed), chain)

	// Health check (no auth required)
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	// Swagger UI (no auth required)
	router.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)

	// Federation endpoints: signed, rate limited, idempotent
	federation := router.PathPrefix("/federation").Subrouter()
	federation.Use(app.Gate.Middleware)
	federation.Use(idempotency.Middleware(app.Idempotency, gate.CallerKeyID, logger))
	federation.HandleFunc("/ping", h.Ping).Methods("GET")
	federation.HandleFunc("/escalation", h.CreateEscalation).Methods("POST")
	federation.HandleFunc("/escalation/{id}", h.GetEscalation).Methods("GET")

	// Admin endpoints require a JWT; they are not mounted without JWT_SECRET
	if app.Tokens == nil {
		return
	}
	admin := auth.NewMiddleware(app.Tokens, app.Attempts, logger, auth.WithClientIPResolver(app.ClientIP))
	api := router.PathPrefix("/api").Subrouter()
	api.Use(admin.RequireAdmin)
	api.HandleFunc("/dead-letters", h.ListDeadLetters).Methods("GET")
	api.HandleFunc("/dead-letters/{id}/replay", h.ReplayDeadLetter).Methods("POST")
	api.HandleFunc("/webhooks/{orgId}", h.PutWebhook).Methods("PUT")
	api.HandleFunc("/signing-keys/{keyId}", h.PutSigningKey).Methods("PUT")
	api.HandleFunc("/audit/events", h.ListAuditEvents).Methods("GET")
}

func wrap(h http.Handler, chain []mux.MiddlewareFunc) http.Handler {
	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i](h)
	}
	return h
}

func notFound(w http.ResponseWriter, r *http.Request) {
	errors.NewProtocolError(http.StatusNotFound, errors.CodeNotFound, "no route for "+r.URL.Path).WriteJSON(w)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	errors.NewProtocolError(http.StatusMethodNotAllowed, errors.CodeNotFound, "method not allowed").WriteJSON(w)
}
