package app

import (
	"strings"
	"time"

	"federation-gateway/internal/common/http"
	"federation-gateway/internal/common/logging"
	"federation-gateway/internal/common/utils"
	"federation-gateway/internal/webhook"
)

func (app *App) initializeDispatcher() {
	cfg := webhook.DefaultConfig()
	cfg.Retry.MaxAttempts = app.Config.WebhookMaxAttempts
	cfg.Retry.InitialDelay = app.Config.WebhookBaseDelay
	cfg.AttemptTimeout = app.Config.WebhookAttemptTimeout
	cfg.MaxRPS = app.Config.WebhookMaxRPS

	client := app.HTTPClient
	if client == nil {
		client = http.NewHTTPClient()
	}
	app.Dispatcher = webhook.NewDispatcher(app.Storage, client, cfg, app.Logger.WithFields(logging.Field{Key: "component", Value: "webhook"}))
	app.Logger.Info("Webhook dispatcher ready",
		logging.Field{Key: "max_attempts", Value: cfg.Retry.MaxAttempts},
		logging.Field{Key: "retry_schedule", Value: formatSchedule(cfg.Retry.Schedule())},
		logging.Field{Key: "attempt_timeout", Value: utils.FormatDuration(cfg.AttemptTimeout)},
	)
}

// formatSchedule renders waits as "1s,2s,4s"
func formatSchedule(waits []time.Duration) string {
	parts := make([]string, len(waits))
	for i, w := range waits {
		parts[i] = utils.FormatDuration(w)
	}
	return strings.Join(parts, ",")
}
