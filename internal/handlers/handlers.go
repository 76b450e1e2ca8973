package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"federation-gateway/internal/common/errors"
	"federation-gateway/internal/common/logging"
	"federation-gateway/internal/common/validation"
	"federation-gateway/internal/gate"
	"federation-gateway/internal/kv"
	"federation-gateway/internal/storage"
)

// EventDispatcher delivers outbound webhooks
type EventDispatcher interface {
	DispatchAsync(ctx context.Context, orgID, eventType string, payload interface{})
	Redeliver(ctx context.Context, dl *storage.DeadLetter) error
}

// KeyInvalidator drops cached signing keys after they change
type KeyInvalidator interface {
	Invalidate(keyID string)
}

type Handlers struct {
	storage    storage.Storage
	store      kv.Store
	dispatcher EventDispatcher
	keys       KeyInvalidator
	validator  *validation.Validator
	logger     logging.Logger
	now        func() time.Time
}

// Option customizes Handlers
type Option func(*Handlers)

// WithKeyInvalidator registers the cache flushed by PutSigningKey.
func WithKeyInvalidator(keys KeyInvalidator) Option {
	return func(h *Handlers) { h.keys = keys }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(h *Handlers) { h.now = now }
}

func New(storage storage.Storage, store kv.Store, dispatcher EventDispatcher, logger logging.Logger, opts ...Option) *Handlers {
	h := &Handlers{
		storage:    storage,
		store:      store,
		dispatcher: dispatcher,
		validator:  validation.New(),
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthCheck reports storage and key-value store health
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health [get]
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": h.now().UTC(),
		"storage":   "healthy",
		"store":     "healthy",
	}

	if err := h.storage.Health(ctx); err != nil {
		h.logger.Error("Storage health check failed", err)
		health["storage"] = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	if err := h.store.Health(ctx); err != nil {
		h.logger.Error("Store health check failed", err)
		health["store"] = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	if status != http.StatusOK {
		health["status"] = "unhealthy"
	}

	writeJSON(w, status, health)
}

// Ping echoes the authenticated federation caller
func (h *Handlers) Ping(w http.ResponseWriter, r *http.Request) {
	caller, ok := gate.CallerFromContext(r.Context())
	if !ok {
		errors.NewProtocolError(http.StatusUnauthorized, errors.CodeUnauthorized, "no federation caller").WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"keyId": caller.KeyID,
		"orgId": caller.OrgID,
		"time":  h.now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handlers) decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.ValidationError("request body must be valid JSON")
	}
	return h.validator.ValidateStruct(v)
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	pe := errors.FromError(err)
	if pe.Status >= http.StatusInternalServerError {
		h.logger.WithContext(r.Context()).Error(msg, err)
	}
	pe.WriteJSON(w)
}
