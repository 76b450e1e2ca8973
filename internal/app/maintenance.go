package app

import (
	"context"
	"time"

	"federation-gateway/internal/audit"
	"federation-gateway/internal/common/logging"
	"federation-gateway/internal/common/utils"

	"github.com/robfig/cron/v3"
)

// StartMaintenance schedules the retention sweep
func (app *App) StartMaintenance() error {
	c := cron.New()
	if _, err := c.AddFunc(app.Config.MaintenanceSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		_ = app.RunRetention(ctx)
	}); err != nil {
		return err
	}
	c.Start()
	app.Cron = c
	app.Logger.Info("Maintenance scheduled",
		logging.Field{Key: "schedule", Value: app.Config.MaintenanceSchedule},
		logging.Field{Key: "audit_retention", Value: utils.FormatDuration(app.Config.AuditRetention)},
		logging.Field{Key: "dead_letter_retention", Value: utils.FormatDuration(app.Config.DeadLetterRetention)},
	)
	return nil
}

// RunRetention deletes audit events and settled dead letters older than
// their retention. The sweep is itself audited under a system actor.
func (app *App) RunRetention(ctx context.Context) error {
	return app.Emitter.Wrap(ctx, "maintenance.retention", func(ctx context.Context) error {
		now := app.Now()

		events, err := app.Storage.DeleteAuditEventsBefore(ctx, now.Add(-app.Config.AuditRetention))
		if err != nil {
			app.Logger.WithContext(ctx).Error("Audit retention sweep failed", err)
			return err
		}
		letters, err := app.Storage.DeleteDeadLettersBefore(ctx, now.Add(-app.Config.DeadLetterRetention))
		if err != nil {
			app.Logger.WithContext(ctx).Error("Dead letter retention sweep failed", err)
			return err
		}

		audit.AddDetail(ctx, "auditEventsDeleted", events)
		audit.AddDetail(ctx, "deadLettersDeleted", letters)
		app.Logger.WithContext(ctx).Info("Retention sweep complete",
			logging.Field{Key: "audit_events_deleted", Value: events},
			logging.Field{Key: "dead_letters_deleted", Value: letters},
		)
		return nil
	})
}
