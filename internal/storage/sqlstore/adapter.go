// Package sqlstore implements storage.Storage on database/sql for SQLite and
// PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"federation-gateway/internal/common/errors"
	"federation-gateway/internal/crypto"
	"federation-gateway/internal/storage"
)

// Store is a storage.Storage over a *sql.DB
type Store struct {
	db      *sql.DB
	dialect Dialect
	box     *crypto.SecretBox
}

var _ storage.Storage = (*Store)(nil)

// New wraps db. When box is non-nil, secrets are sealed before they are written.
func New(db *sql.DB, dialect Dialect, box *crypto.SecretBox) *Store {
	return &Store{db: db, dialect: dialect, box: box}
}

func (s *Store) q(query string) string {
	return s.dialect.Rebind(query)
}

func (s *Store) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) sealSecret(secret string) (string, error) {
	if s.box == nil {
		return secret, nil
	}
	return s.box.Seal(secret)
}

func (s *Store) openSecret(stored string) (string, error) {
	if !crypto.IsSealed(stored) {
		return stored, nil
	}
	if s.box == nil {
		return "", errors.ConfigError("stored secret is encrypted but no encryption key is configured")
	}
	return s.box.Open(stored)
}

func notFound(err error) error {
	if stderrors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

// Signing keys

func (s *Store) GetSigningKey(ctx context.Context, keyID string) (*storage.SigningKey, error) {
	var k storage.SigningKey
	var secret string
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT key_id, secret, owner_org_id, active, created_at FROM signing_keys WHERE key_id = ?`),
		keyID,
	).Scan(&k.KeyID, &secret, &k.OwnerOrgID, &k.Active, &k.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if k.Secret, err = s.openSecret(secret); err != nil {
		return nil, errors.InternalError("failed to open signing key secret", err)
	}
	return &k, nil
}

func (s *Store) UpsertSigningKey(ctx context.Context, key *storage.SigningKey) error {
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	secret, err := s.sealSecret(key.Secret)
	if err != nil {
		return errors.InternalError("failed to seal signing key secret", err)
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO signing_keys (key_id, secret, owner_org_id, active, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (key_id) DO UPDATE SET
			secret = excluded.secret,
			owner_org_id = excluded.owner_org_id,
			active = excluded.active`),
		key.KeyID, secret, key.OwnerOrgID, key.Active, key.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert signing key: %w", err)
	}
	return nil
}

// Webhook registrations

func (s *Store) GetWebhookRegistration(ctx context.Context, orgID string) (*storage.WebhookRegistration, error) {
	var r storage.WebhookRegistration
	var secret string
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT org_id, url, secret, enabled, created_at, updated_at FROM webhook_registrations WHERE org_id = ?`),
		orgID,
	).Scan(&r.OrgID, &r.URL, &secret, &r.Enabled, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if r.Secret, err = s.openSecret(secret); err != nil {
		return nil, errors.InternalError("failed to open webhook secret", err)
	}
	return &r, nil
}

func (s *Store) UpsertWebhookRegistration(ctx context.Context, reg *storage.WebhookRegistration) error {
	now := time.Now().UTC()
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = now
	}
	reg.UpdatedAt = now

	secret, err := s.sealSecret(reg.Secret)
	if err != nil {
		return errors.InternalError("failed to seal webhook secret", err)
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO webhook_registrations (org_id, url, secret, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id) DO UPDATE SET
			url = excluded.url,
			secret = excluded.secret,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`),
		reg.OrgID, reg.URL, secret, reg.Enabled, reg.CreatedAt.UTC(), reg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert webhook registration: %w", err)
	}
	return nil
}

// Escalations

func (s *Store) CreateEscalation(ctx context.Context, e *storage.Escalation) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO escalations (id, org_id, subject, severity, description, created_by_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.OrgID, e.Subject, e.Severity, e.Description, e.CreatedByKey, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create escalation: %w", err)
	}
	return nil
}

func (s *Store) GetEscalation(ctx context.Context, orgID, id string) (*storage.Escalation, error) {
	var e storage.Escalation
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, org_id, subject, severity, description, created_by_key, created_at
		FROM escalations WHERE org_id = ? AND id = ?`),
		orgID, id,
	).Scan(&e.ID, &e.OrgID, &e.Subject, &e.Severity, &e.Description, &e.CreatedByKey, &e.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

// Dead letters

const deadLetterColumns = `id, org_id, event_type, url, payload, attempts, last_error, status, created_at, updated_at`

func scanDeadLetter(row interface{ Scan(...interface{}) error }) (*storage.DeadLetter, error) {
	var d storage.DeadLetter
	err := row.Scan(&d.ID, &d.OrgID, &d.EventType, &d.URL, &d.Payload, &d.Attempts, &d.LastError, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) CreateDeadLetter(ctx context.Context, dl *storage.DeadLetter) error {
	now := time.Now().UTC()
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = now
	}
	dl.UpdatedAt = now
	if dl.Status == "" {
		dl.Status = storage.DeadLetterPending
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO dead_letters (`+deadLetterColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		dl.ID, dl.OrgID, dl.EventType, dl.URL, dl.Payload, dl.Attempts, dl.LastError, dl.Status, dl.CreatedAt.UTC(), dl.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create dead letter: %w", err)
	}
	return nil
}

func (s *Store) GetDeadLetter(ctx context.Context, id string) (*storage.DeadLetter, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+deadLetterColumns+` FROM dead_letters WHERE id = ?`), id)
	dl, err := scanDeadLetter(row)
	if err != nil {
		return nil, notFound(err)
	}
	return dl, nil
}

func (s *Store) ListDeadLetters(ctx context.Context, filter storage.DeadLetterFilter) ([]*storage.DeadLetter, error) {
	var where []string
	var args []interface{}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.OrgID != "" {
		where = append(where, "org_id = ?")
		args = append(args, filter.OrgID)
	}

	query := `SELECT ` + deadLetterColumns + ` FROM dead_letters`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var out []*storage.DeadLetter
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

func (s *Store) UpdateDeadLetter(ctx context.Context, dl *storage.DeadLetter) error {
	dl.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE dead_letters SET attempts = ?, last_error = ?, status = ?, updated_at = ? WHERE id = ?`),
		dl.Attempts, dl.LastError, dl.Status, dl.UpdatedAt, dl.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update dead letter: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteDeadLettersBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM dead_letters WHERE created_at < ? AND status <> ?`),
		before.UTC(), storage.DeadLetterPending)
	if err != nil {
		return 0, fmt.Errorf("failed to delete dead letters: %w", err)
	}
	return res.RowsAffected()
}

// Audit events

func (s *Store) InsertAuditEvents(ctx context.Context, records []*storage.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin audit batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.q(`
		INSERT INTO audit_events (id, correlation_id, occurred_at, route, outcome, payload)
		VALUES (?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare audit insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ID, r.CorrelationID, r.OccurredAt.UTC(), r.Route, r.Outcome, r.Payload); err != nil {
			return fmt.Errorf("failed to insert audit event %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListAuditEvents(ctx context.Context, limit, offset int) ([]*storage.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, correlation_id, occurred_at, route, outcome, payload
		FROM audit_events ORDER BY occurred_at DESC LIMIT ? OFFSET ?`),
		limitOrDefault(limit), offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var out []*storage.AuditRecord
	for rows.Next() {
		var r storage.AuditRecord
		if err := rows.Scan(&r.ID, &r.CorrelationID, &r.OccurredAt, &r.Route, &r.Outcome, &r.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteAuditEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM audit_events WHERE occurred_at < ?`), before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit events: %w", err)
	}
	return res.RowsAffected()
}

func limitOrDefault(limit int) int {
	if limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}
