package handlers

import (
	"encoding/json"
	"net/http"

	"federation-gateway/internal/audit"
	"federation-gateway/internal/common/errors"
	"federation-gateway/internal/common/logging"
	"federation-gateway/internal/common/pagination"
	"federation-gateway/internal/storage"

	"github.com/gorilla/mux"
)

// ListDeadLetters returns undeliverable webhooks, newest first
// @Summary List dead letters
// @Tags admin
// @Produce json
// @Param status query string false "pending, replayed or failed"
// @Param org_id query string false "Owning org"
// @Security BearerAuth
// @Router /api/dead-letters [get]
func (h *Handlers) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	params := pagination.ParseParams(r)
	filter := storage.DeadLetterFilter{
		Status: r.URL.Query().Get("status"),
		OrgID:  r.URL.Query().Get("org_id"),
		Limit:  params.Limit,
		Offset: params.Offset,
	}
	switch filter.Status {
	case "", storage.DeadLetterPending, storage.DeadLetterReplayed, storage.DeadLetterFailed:
	default:
		errors.WriteError(w, errors.ValidationError("status must be one of: pending replayed failed"))
		return
	}

	letters, err := h.storage.ListDeadLetters(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "Failed to list dead letters", err)
		return
	}
	writeJSON(w, http.StatusOK, pagination.NewResponse(letters, params))
}

type replayResponse struct {
	Delivered  bool                `json:"delivered"`
	DeadLetter *storage.DeadLetter `json:"deadLetter"`
}

// ReplayDeadLetter redelivers a dead letter to the org's current webhook
// @Summary Replay dead letter
// @Tags admin
// @Produce json
// @Param id path string true "Dead letter ID"
// @Security BearerAuth
// @Router /api/dead-letters/{id}/replay [post]
func (h *Handlers) ReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]
	audit.AddDetail(ctx, "deadLetterId", id)

	dl, err := h.storage.GetDeadLetter(ctx, id)
	if err != nil {
		h.fail(w, r, "Failed to load dead letter", err)
		return
	}
	if dl.Status == storage.DeadLetterReplayed {
		errors.WriteError(w, errors.ValidationError("dead letter was already replayed"))
		return
	}

	if err := h.dispatcher.Redeliver(ctx, dl); err != nil {
		if errors.IsType(err, errors.ErrTypeValidation) {
			errors.WriteError(w, err)
			return
		}
		h.logger.WithContext(ctx).Warn("Dead letter replay failed",
			logging.Field{Key: "dead_letter_id", Value: dl.ID},
			logging.Field{Key: "error", Value: err.Error()},
		)
		audit.SetErrorCode(ctx, "delivery_failed")
		writeJSON(w, http.StatusOK, replayResponse{Delivered: false, DeadLetter: dl})
		return
	}
	writeJSON(w, http.StatusOK, replayResponse{Delivered: true, DeadLetter: dl})
}

// PutWebhookRequest is the body of PUT /api/webhooks/{orgId}
type PutWebhookRequest struct {
	URL     string `json:"url" validate:"required,http_url"`
	Secret  string `json:"secret" validate:"required,signing_secret"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// PutWebhook registers or replaces an org's outbound webhook
// @Summary Upsert webhook registration
// @Tags admin
// @Accept json
// @Produce json
// @Param orgId path string true "Org ID"
// @Security BearerAuth
// @Router /api/webhooks/{orgId} [put]
func (h *Handlers) PutWebhook(w http.ResponseWriter, r *http.Request) {
	orgID := mux.Vars(r)["orgId"]
	var req PutWebhookRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "Invalid webhook registration", err)
		return
	}

	now := h.now().UTC()
	reg := &storage.WebhookRegistration{
		OrgID:     orgID,
		URL:       req.URL,
		Secret:    req.Secret,
		Enabled:   req.Enabled == nil || *req.Enabled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.storage.UpsertWebhookRegistration(r.Context(), reg); err != nil {
		h.fail(w, r, "Failed to save webhook registration", err)
		return
	}
	audit.AddDetail(r.Context(), "orgId", orgID)
	writeJSON(w, http.StatusOK, reg)
}

// PutSigningKeyRequest is the body of PUT /api/signing-keys/{keyId}
type PutSigningKeyRequest struct {
	Secret     string `json:"secret" validate:"required,signing_secret"`
	OwnerOrgID string `json:"ownerOrgId" validate:"omitempty,identifier"`
	Active     *bool  `json:"active,omitempty"`
}

// PutSigningKey provisions or rotates a partner signing key
// @Summary Upsert signing key
// @Tags admin
// @Accept json
// @Produce json
// @Param keyId path string true "Key ID"
// @Security BearerAuth
// @Router /api/signing-keys/{keyId} [put]
func (h *Handlers) PutSigningKey(w http.ResponseWriter, r *http.Request) {
	keyID := mux.Vars(r)["keyId"]
	var req PutSigningKeyRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "Invalid signing key", err)
		return
	}

	key := &storage.SigningKey{
		KeyID:      keyID,
		Secret:     req.Secret,
		OwnerOrgID: req.OwnerOrgID,
		Active:     req.Active == nil || *req.Active,
		CreatedAt:  h.now().UTC(),
	}
	if err := h.storage.UpsertSigningKey(r.Context(), key); err != nil {
		h.fail(w, r, "Failed to save signing key", err)
		return
	}
	if h.keys != nil {
		h.keys.Invalidate(keyID)
	}
	audit.AddDetail(r.Context(), "keyIdHash", audit.HashKeyID(keyID))
	writeJSON(w, http.StatusOK, key)
}

// ListAuditEvents returns stored audit events, newest first
// @Summary List audit events
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Router /api/audit/events [get]
func (h *Handlers) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	params := pagination.ParseParams(r)
	records, err := h.storage.ListAuditEvents(r.Context(), params.Limit, params.Offset)
	if err != nil {
		h.fail(w, r, "Failed to list audit events", err)
		return
	}

	events := make([]json.RawMessage, 0, len(records))
	for _, rec := range records {
		events = append(events, json.RawMessage(rec.Payload))
	}
	writeJSON(w, http.StatusOK, pagination.NewResponse(events, params))
}
