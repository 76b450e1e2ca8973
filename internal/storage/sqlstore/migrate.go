package sqlstore

import (
	"context"
	"fmt"
	"strings"
)

func (s *Store) migrations() []string {
	ts := s.dialect.timestampType()
	queries := []string{
		`CREATE TABLE IF NOT EXISTS signing_keys (
			key_id TEXT PRIMARY KEY,
			secret TEXT NOT NULL,
			owner_org_id TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at {ts} NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS webhook_registrations (
			org_id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			secret TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at {ts} NOT NULL,
			updated_at {ts} NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS escalations (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			subject TEXT NOT NULL,
			severity TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_by_key TEXT NOT NULL,
			created_at {ts} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_escalations_org ON escalations(org_id)`,
		`CREATE TABLE IF NOT EXISTS dead_letters (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			url TEXT NOT NULL,
			payload TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at {ts} NOT NULL,
			updated_at {ts} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dead_letters_status ON dead_letters(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			correlation_id TEXT NOT NULL,
			occurred_at {ts} NOT NULL,
			route TEXT NOT NULL,
			outcome TEXT NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_occurred ON audit_events(occurred_at)`,
	}
	for i, q := range queries {
		queries[i] = strings.ReplaceAll(q, "{ts}", ts)
	}
	return queries
}

// Migrate creates the schema if it does not exist
func (s *Store) Migrate(ctx context.Context) error {
	for _, query := range s.migrations() {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}
