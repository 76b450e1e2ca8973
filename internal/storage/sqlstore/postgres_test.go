package sqlstore

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"federation-gateway/internal/storage"
)

func TestDialect_Rebind(t *testing.T) {
	q := `SELECT a FROM t WHERE x = ? AND y = ? LIMIT ?`
	assert.Equal(t, q, DialectSQLite.Rebind(q))
	assert.Equal(t, `SELECT a FROM t WHERE x = $1 AND y = $2 LIMIT $3`, DialectPostgres.Rebind(q))
}

func newPostgresMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, DialectPostgres, nil), mock
}

func TestPostgres_Migrate(t *testing.T) {
	store, mock := newPostgresMock(t)

	for range store.migrations() {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())

	for _, q := range store.migrations() {
		assert.NotContains(t, q, "{ts}")
	}
	assert.Contains(t, store.migrations()[0], "TIMESTAMPTZ")
}

func TestPostgres_GetSigningKey(t *testing.T) {
	store, mock := newPostgresMock(t)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM signing_keys WHERE key_id = $1`)).
		WithArgs("partner-a").
		WillReturnRows(sqlmock.NewRows([]string{"key_id", "secret", "owner_org_id", "active", "created_at"}).
			AddRow("partner-a", "plain-secret", "org_1", true, created))

	key, err := store.GetSigningKey(context.Background(), "partner-a")
	require.NoError(t, err)
	assert.Equal(t, "plain-secret", key.Secret)
	assert.Equal(t, created, key.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetSigningKey_NotFound(t *testing.T) {
	store, mock := newPostgresMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM signing_keys`)).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"key_id", "secret", "owner_org_id", "active", "created_at"}))

	_, err := store.GetSigningKey(context.Background(), "ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPostgres_ListDeadLettersFilters(t *testing.T) {
	store, mock := newPostgresMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE status = $1 AND org_id = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`)).
		WithArgs("pending", "org_1", 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "org_id", "event_type", "url", "payload", "attempts", "last_error", "status", "created_at", "updated_at"}).
			AddRow("dl_1", "org_1", "escalation.created", "https://x", "{}", 5, "timeout", "pending", time.Now(), time.Now()))

	list, err := store.ListDeadLetters(context.Background(), storage.DeadLetterFilter{Status: "pending", OrgID: "org_1"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "dl_1", list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertAuditEventsRollsBack(t *testing.T) {
	store, mock := newPostgresMock(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO audit_events`))
	prep.ExpectExec().WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := store.InsertAuditEvents(context.Background(), []*storage.AuditRecord{{ID: "a1", OccurredAt: time.Now()}})
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
