package app

import (
	"time"

	"federation-gateway/internal/audit"
	"federation-gateway/internal/circuitbreaker"
	"federation-gateway/internal/common/logging"
	"federation-gateway/internal/gate"
	"federation-gateway/internal/idempotency"
	"federation-gateway/internal/ratelimit"
)

// keyCacheTTL bounds how long a revoked signing key keeps working on
// replicas that did not serve the revocation.
const keyCacheTTL = 30 * time.Second

func (app *App) initializeGate() error {
	static, err := gate.ParseStaticKeys(app.Config.FederationKeys)
	if err != nil {
		return err
	}
	app.Keys = gate.NewCachedRegistry(gate.ChainRegistry{static, gate.NewStorageRegistry(app.Storage)}, keyCacheTTL)
	app.Logger.Info("Federation keys loaded", logging.Field{Key: "static_keys", Value: len(static)})

	breaker := circuitbreaker.New("kv-store", circuitbreaker.DefaultConfig(), app.Logger)
	app.Limiter = ratelimit.NewLimiter(app.Store, breaker, &ratelimit.Config{
		DefaultLimit:  app.Config.RateLimitDefault,
		DefaultWindow: app.Config.RateLimitWindow,
		Enabled:       app.Config.RateLimitEnabled,
	}, app.Logger.WithFields(logging.Field{Key: "component", Value: "ratelimit"}))
	app.Logger.Info("Rate limiting",
		logging.Field{Key: "enabled", Value: app.Config.RateLimitEnabled},
		logging.Field{Key: "limit", Value: app.Config.RateLimitDefault},
		logging.Field{Key: "window", Value: app.Config.RateLimitWindow.String()},
	)

	app.ClientIP, err = ratelimit.NewClientIPResolver(app.Config.TrustedProxies)
	if err != nil {
		return err
	}
	if len(app.Config.TrustedProxies) > 0 {
		app.Logger.Info("Forwarded client addresses honoured", logging.Field{Key: "trusted_proxies", Value: app.Config.TrustedProxies})
	}

	if app.Config.AttemptLimitEnabled {
		app.Attempts = ratelimit.NewAttemptLimiter(app.Store, nil, nil, app.Logger.WithFields(logging.Field{Key: "component", Value: "attempts"}))
	}

	app.Idempotency = idempotency.NewStore(app.Store, app.Config.IdempotencyTTL, 0)

	opts := []gate.Option{gate.WithClock(app.Now), gate.WithClientIPResolver(app.ClientIP)}
	if app.Attempts != nil {
		opts = append(opts, gate.WithAttemptLimiter(app.Attempts))
	}
	if app.Config.ReplayCacheEnabled {
		opts = append(opts, gate.WithReplayStore(app.Store))
	}
	app.Gate = gate.New(gate.Config{
		ClockSkewTolerance: app.Config.ClockSkewTolerance,
		RateLimit:          app.Config.RateLimitDefault,
		RateWindow:         app.Config.RateLimitWindow,
		MaxBodyBytes:       app.Config.MaxBodyBytes,
		ReplayCacheEnabled: app.Config.ReplayCacheEnabled,
	}, app.Keys, app.Limiter, app.Logger.WithFields(logging.Field{Key: "component", Value: "gate"}), opts...)
	return nil
}

func (app *App) initializeAudit() {
	logger := app.Logger.WithFields(logging.Field{Key: "component", Value: "audit"})
	app.AuditSink = audit.MultiSink{
		audit.NewLogSink(logger),
		audit.NewStoreSink(app.Storage, audit.StoreSinkConfig{}, logger),
	}
	app.Emitter = audit.NewEmitter(app.AuditSink, logger)
}
