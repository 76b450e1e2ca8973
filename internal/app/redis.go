package app

import (
	"time"

	"federation-gateway/internal/common/logging"
	"federation-gateway/internal/kv"
	"federation-gateway/internal/redis"
)

// initializeStore selects the key-value backend behind rate limits,
// attempt tracking and idempotency records.
func (app *App) initializeStore() error {
	if app.Store != nil {
		return nil
	}

	if app.Config.StoreBackend != "redis" {
		app.Store = kv.NewMemoryStore(time.Minute)
		app.Logger.Info("Key-value store: in-process (state is not shared between replicas)")
		return nil
	}

	client, err := redis.NewClient(&redis.Config{
		Address:   app.Config.RedisAddress,
		Password:  app.Config.RedisPassword,
		DB:        app.Config.RedisDB,
		PoolSize:  app.Config.RedisPoolSize,
		KeyPrefix: "fedgw:",
	})
	if err != nil {
		return err
	}

	app.Store = client
	app.Logger.Info("Key-value store: Redis", logging.Field{Key: "address", Value: app.Config.RedisAddress})
	return nil
}
