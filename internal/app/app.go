package app

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"federation-gateway/internal/audit"
	"federation-gateway/internal/auth"
	"federation-gateway/internal/common/logging"
	"federation-gateway/internal/config"
	"federation-gateway/internal/crypto"
	"federation-gateway/internal/gate"
	"federation-gateway/internal/idempotency"
	"federation-gateway/internal/kv"
	"federation-gateway/internal/ratelimit"
	"federation-gateway/internal/storage"
	"federation-gateway/internal/webhook"

	"github.com/robfig/cron/v3"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	DB          *sql.DB
	Storage     storage.Storage
	Store       kv.Store
	SecretBox   *crypto.SecretBox
	Keys        *gate.CachedRegistry
	Limiter     *ratelimit.Limiter
	Attempts    *ratelimit.AttemptLimiter
	ClientIP    *ratelimit.ClientIPResolver
	Idempotency *idempotency.Store
	Gate        *gate.Gate
	Tokens      *auth.TokenService
	Emitter     *audit.Emitter
	AuditSink   audit.Sink
	Dispatcher  *webhook.Dispatcher
	Cron        *cron.Cron
	Logger      logging.Logger

	// HTTPClient is used for webhook delivery; nil builds the default client
	HTTPClient *http.Client
	// Now overrides time.Now in the gate and handlers
	Now func() time.Time
}

// Option supplies a dependency instead of building it from configuration
type Option func(*App)

// WithStorage uses s instead of opening the configured database
func WithStorage(s storage.Storage) Option {
	return func(app *App) { app.Storage = s }
}

// WithStore uses s instead of the configured key-value backend
func WithStore(s kv.Store) Option {
	return func(app *App) { app.Store = s }
}

// WithLogger replaces the global logger
func WithLogger(l logging.Logger) Option {
	return func(app *App) { app.Logger = l }
}

// WithClock overrides time.Now for timestamp checks and created times
func WithClock(now func() time.Time) Option {
	return func(app *App) { app.Now = now }
}

// WithHTTPClient sets the client used for webhook delivery
func WithHTTPClient(c *http.Client) Option {
	return func(app *App) { app.HTTPClient = c }
}

// New creates a new application instance with all dependencies
func New(cfg *config.Config, opts ...Option) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
		Now:    time.Now,
	}
	for _, opt := range opts {
		opt(app)
	}
	if err := app.initialize(); err != nil {
		app.Cleanup()
		return nil, err
	}
	return app, nil
}

// initialize wires components in order of dependency
func (app *App) initialize() error {
	if err := app.initializeEncryption(); err != nil {
		return err
	}
	if err := app.initializeStorage(); err != nil {
		return err
	}
	if err := app.initializeStore(); err != nil {
		return err
	}
	if err := app.initializeAuth(); err != nil {
		return err
	}
	app.initializeAudit()
	app.initializeDispatcher()
	return app.initializeGate()
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.AuditSink != nil {
		if err := app.AuditSink.Close(); err != nil {
			app.Logger.Warn("Error closing audit sink", logging.Field{Key: "error", Value: err.Error()})
		}
	}
	if app.Store != nil {
		app.Store.Close()
	}
	if app.Storage != nil {
		app.Storage.Close()
	}
}

// Shutdown stops background work: the maintenance scheduler and in-flight
// webhook deliveries. Deliveries cut short by ctx are dead-lettered.
func (app *App) Shutdown(ctx context.Context) error {
	if app.Cron != nil {
		select {
		case <-app.Cron.Stop().Done():
		case <-ctx.Done():
		}
	}
	if app.Dispatcher != nil {
		if err := app.Dispatcher.Close(ctx); err != nil {
			app.Logger.Warn("Webhook deliveries interrupted by shutdown", logging.Field{Key: "error", Value: err.Error()})
			return err
		}
		app.Logger.Info("Webhook dispatcher stopped")
	}
	return nil
}
