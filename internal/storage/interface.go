// Package storage defines the relational records the gateway reads and
// writes: signing keys, webhook registrations, escalations, dead letters and
// audit events.
package storage

import (
	"context"
	"time"

	"federation-gateway/internal/common/errors"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.NotFoundError("record")

// SigningKey is a partner credential. Secret is never logged.
type SigningKey struct {
	KeyID      string    `json:"key_id"`
	Secret     string    `json:"-"`
	OwnerOrgID string    `json:"owner_org_id"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// WebhookRegistration is an org's outbound callback endpoint
type WebhookRegistration struct {
	OrgID     string    `json:"org_id"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Escalation is created by partners through POST /federation/escalation
type Escalation struct {
	ID           string    `json:"id"`
	OrgID        string    `json:"org_id"`
	Subject      string    `json:"subject"`
	Severity     string    `json:"severity"`
	Description  string    `json:"description,omitempty"`
	CreatedByKey string    `json:"created_by_key"`
	CreatedAt    time.Time `json:"created_at"`
}

// Dead letter statuses
const (
	DeadLetterPending  = "pending"
	DeadLetterReplayed = "replayed"
	DeadLetterFailed   = "failed"
)

// DeadLetter is a webhook delivery that exhausted its attempts
type DeadLetter struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	EventType string    `json:"event_type"`
	URL       string    `json:"url"`
	Payload   string    `json:"payload"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeadLetterFilter narrows ListDeadLetters
type DeadLetterFilter struct {
	Status string
	OrgID  string
	Limit  int
	Offset int
}

// AuditRecord is a serialized audit event. Payload holds the redacted JSON event.
type AuditRecord struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	OccurredAt    time.Time `json:"occurred_at"`
	Route         string    `json:"route"`
	Outcome       string    `json:"outcome"`
	Payload       string    `json:"payload"`
}

type Storage interface {
	Health(ctx context.Context) error
	Close() error

	GetSigningKey(ctx context.Context, keyID string) (*SigningKey, error)
	UpsertSigningKey(ctx context.Context, key *SigningKey) error

	GetWebhookRegistration(ctx context.Context, orgID string) (*WebhookRegistration, error)
	UpsertWebhookRegistration(ctx context.Context, reg *WebhookRegistration) error

	CreateEscalation(ctx context.Context, e *Escalation) error
	GetEscalation(ctx context.Context, orgID, id string) (*Escalation, error)

	CreateDeadLetter(ctx context.Context, dl *DeadLetter) error
	GetDeadLetter(ctx context.Context, id string) (*DeadLetter, error)
	ListDeadLetters(ctx context.Context, filter DeadLetterFilter) ([]*DeadLetter, error)
	UpdateDeadLetter(ctx context.Context, dl *DeadLetter) error
	DeleteDeadLettersBefore(ctx context.Context, before time.Time) (int64, error)

	InsertAuditEvents(ctx context.Context, records []*AuditRecord) error
	ListAuditEvents(ctx context.Context, limit, offset int) ([]*AuditRecord, error)
	DeleteAuditEventsBefore(ctx context.Context, before time.Time) (int64, error)
}
