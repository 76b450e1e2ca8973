package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"federation-gateway/internal/common/logging"
	"federation-gateway/internal/storage/sqlstore"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

func (app *App) initializeStorage() error {
	if app.Storage != nil {
		return nil
	}

	var (
		driver  string
		dsn     string
		dialect sqlstore.Dialect
	)
	switch app.Config.DatabaseType {
	case "postgres", "postgresql":
		app.Logger.Info("Database: PostgreSQL",
			logging.Field{Key: "host", Value: app.Config.PostgresHost},
			logging.Field{Key: "port", Value: app.Config.PostgresPort},
			logging.Field{Key: "database", Value: app.Config.PostgresDB},
		)
		driver, dsn, dialect = "pgx", app.Config.PostgresDSN(), sqlstore.DialectPostgres
	default:
		app.Logger.Info("Database: SQLite", logging.Field{Key: "path", Value: app.Config.DatabasePath})
		driver = "sqlite3"
		dsn = app.Config.DatabasePath + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
		dialect = sqlstore.DialectSQLite
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == sqlstore.DialectSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	store := sqlstore.New(db, dialect, app.SecretBox)
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	app.DB = db
	app.Storage = store
	return nil
}
