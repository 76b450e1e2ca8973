package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"federation-gateway/internal/storage"
)

// MockStorage implements storage.Storage in memory for testing
type MockStorage struct {
	mu           sync.RWMutex
	signingKeys  map[string]*storage.SigningKey
	webhooks     map[string]*storage.WebhookRegistration
	escalations  map[string]*storage.Escalation
	deadLetters  map[string]*storage.DeadLetter
	auditRecords []*storage.AuditRecord

	// Control error injection
	ErrorOnMethod map[string]error
}

var _ storage.Storage = (*MockStorage)(nil)

// ErrStoreDown is returned by fakes simulating an unavailable backend
var ErrStoreDown = errors.New("store unavailable")

// NewMockStorage creates a new mock storage instance
func NewMockStorage() *MockStorage {
	return &MockStorage{
		signingKeys:   make(map[string]*storage.SigningKey),
		webhooks:      make(map[string]*storage.WebhookRegistration),
		escalations:   make(map[string]*storage.Escalation),
		deadLetters:   make(map[string]*storage.DeadLetter),
		ErrorOnMethod: make(map[string]error),
	}
}

// SetError makes every subsequent call to method fail with err
func (m *MockStorage) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrorOnMethod[method] = err
}

func (m *MockStorage) errFor(method string) error {
	return m.ErrorOnMethod[method]
}

func (m *MockStorage) Health(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errFor("Health")
}

func (m *MockStorage) Close() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errFor("Close")
}

// Signing keys

func (m *MockStorage) GetSigningKey(ctx context.Context, keyID string) (*storage.SigningKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.errFor("GetSigningKey"); err != nil {
		return nil, err
	}
	k, ok := m.signingKeys[keyID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *k
	return &copied, nil
}

func (m *MockStorage) UpsertSigningKey(ctx context.Context, key *storage.SigningKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errFor("UpsertSigningKey"); err != nil {
		return err
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	copied := *key
	m.signingKeys[key.KeyID] = &copied
	return nil
}

// Webhook registrations

func (m *MockStorage) GetWebhookRegistration(ctx context.Context, orgID string) (*storage.WebhookRegistration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.errFor("GetWebhookRegistration"); err != nil {
		return nil, err
	}
	r, ok := m.webhooks[orgID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *r
	return &copied, nil
}

func (m *MockStorage) UpsertWebhookRegistration(ctx context.Context, reg *storage.WebhookRegistration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errFor("UpsertWebhookRegistration"); err != nil {
		return err
	}
	now := time.Now().UTC()
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = now
	}
	reg.UpdatedAt = now
	copied := *reg
	m.webhooks[reg.OrgID] = &copied
	return nil
}

// Escalations

func (m *MockStorage) CreateEscalation(ctx context.Context, e *storage.Escalation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errFor("CreateEscalation"); err != nil {
		return err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	copied := *e
	m.escalations[e.ID] = &copied
	return nil
}

func (m *MockStorage) GetEscalation(ctx context.Context, orgID, id string) (*storage.Escalation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.errFor("GetEscalation"); err != nil {
		return nil, err
	}
	e, ok := m.escalations[id]
	if !ok || e.OrgID != orgID {
		return nil, storage.ErrNotFound
	}
	copied := *e
	return &copied, nil
}

// EscalationCount returns how many escalations were created
func (m *MockStorage) EscalationCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.escalations)
}

// Dead letters

func (m *MockStorage) CreateDeadLetter(ctx context.Context, dl *storage.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errFor("CreateDeadLetter"); err != nil {
		return err
	}
	now := time.Now().UTC()
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = now
	}
	dl.UpdatedAt = now
	if dl.Status == "" {
		dl.Status = storage.DeadLetterPending
	}
	copied := *dl
	m.deadLetters[dl.ID] = &copied
	return nil
}

func (m *MockStorage) GetDeadLetter(ctx context.Context, id string) (*storage.DeadLetter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.errFor("GetDeadLetter"); err != nil {
		return nil, err
	}
	dl, ok := m.deadLetters[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *dl
	return &copied, nil
}

func (m *MockStorage) ListDeadLetters(ctx context.Context, filter storage.DeadLetterFilter) ([]*storage.DeadLetter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.errFor("ListDeadLetters"); err != nil {
		return nil, err
	}

	var out []*storage.DeadLetter
	for _, dl := range m.deadLetters {
		if filter.Status != "" && dl.Status != filter.Status {
			continue
		}
		if filter.OrgID != "" && dl.OrgID != filter.OrgID {
			continue
		}
		copied := *dl
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MockStorage) UpdateDeadLetter(ctx context.Context, dl *storage.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errFor("UpdateDeadLetter"); err != nil {
		return err
	}
	existing, ok := m.deadLetters[dl.ID]
	if !ok {
		return storage.ErrNotFound
	}
	existing.Attempts = dl.Attempts
	existing.LastError = dl.LastError
	existing.Status = dl.Status
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MockStorage) DeleteDeadLettersBefore(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errFor("DeleteDeadLettersBefore"); err != nil {
		return 0, err
	}
	var n int64
	for id, dl := range m.deadLetters {
		if dl.Status != storage.DeadLetterPending && dl.CreatedAt.Before(before) {
			delete(m.deadLetters, id)
			n++
		}
	}
	return n, nil
}

// DeadLetters returns every stored dead letter regardless of status
func (m *MockStorage) DeadLetters() []*storage.DeadLetter {
	list, _ := m.ListDeadLetters(context.Background(), storage.DeadLetterFilter{})
	return list
}

// Audit events

func (m *MockStorage) InsertAuditEvents(ctx context.Context, records []*storage.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errFor("InsertAuditEvents"); err != nil {
		return err
	}
	for _, r := range records {
		copied := *r
		m.auditRecords = append(m.auditRecords, &copied)
	}
	return nil
}

func (m *MockStorage) ListAuditEvents(ctx context.Context, limit, offset int) ([]*storage.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.errFor("ListAuditEvents"); err != nil {
		return nil, err
	}

	out := make([]*storage.AuditRecord, 0, len(m.auditRecords))
	for i := len(m.auditRecords) - 1; i >= 0; i-- {
		copied := *m.auditRecords[i]
		out = append(out, &copied)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockStorage) DeleteAuditEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errFor("DeleteAuditEventsBefore"); err != nil {
		return 0, err
	}
	kept := m.auditRecords[:0]
	var n int64
	for _, r := range m.auditRecords {
		if r.OccurredAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.auditRecords = kept
	return n, nil
}

// AuditRecordCount returns how many audit records were inserted
func (m *MockStorage) AuditRecordCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.auditRecords)
}
