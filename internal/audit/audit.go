// Package audit emits one structured, redacted event per gated request and
// attaches a correlation id to every response.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Outcome classifies how a wrapped request or operation ended
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// ActorType tags who performed the audited action
type ActorType string

const (
	ActorMachine ActorType = "machine"
	ActorUser    ActorType = "user"
	ActorSystem  ActorType = "system"
)

// HeaderCorrelationID is set on every response passing through the middleware
const HeaderCorrelationID = "X-Correlation-Id"

// Actor identifies the caller. Machine actors carry only a hash of the key id.
type Actor struct {
	Type      ActorType `json:"type"`
	KeyIDHash string    `json:"keyIdHash,omitempty"`
	OrgID     string    `json:"orgId,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	Email     string    `json:"email,omitempty"`
}

// HTTPInfo summarises the request/response pair
type HTTPInfo struct {
	Method    string `json:"method"`
	Status    int    `json:"status"`
	LatencyMs int64  `json:"latencyMs"`
}

// Event is an immutable audit record of one gated request or operation
type Event struct {
	ID            string                 `json:"id"`
	CorrelationID string                 `json:"correlationId"`
	Time          time.Time              `json:"time"`
	Actor         Actor                  `json:"actor"`
	Route         string                 `json:"route"`
	Outcome       Outcome                `json:"outcome"`
	HTTP          *HTTPInfo              `json:"http,omitempty"`
	Redactions    []string               `json:"redactions"`
	ErrorCode     string                 `json:"errorCode,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// Sink receives emitted events. Emit must not block the request path for long.
type Sink interface {
	Emit(ctx context.Context, event Event)
	Close() error
}

// NopSink discards events
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}
func (NopSink) Close() error                { return nil }

// HashKeyID returns the identifier used for machine actors in place of the
// raw key id.
func HashKeyID(keyID string) string {
	sum := sha256.Sum256([]byte(keyID))
	return hex.EncodeToString(sum[:8])
}
