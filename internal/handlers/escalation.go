package handlers

import (
	"net/http"
	"time"

	"federation-gateway/internal/audit"
	"federation-gateway/internal/common/errors"
	"federation-gateway/internal/gate"
	"federation-gateway/internal/storage"

	"github.com/gorilla/mux"
	"github.com/lucsky/cuid"
)

// EventEscalationCreated is sent to the caller org's webhook after a create
const EventEscalationCreated = "escalation.created"

// CreateEscalationRequest is the body of POST /federation/escalation
type CreateEscalationRequest struct {
	Subject      string   `json:"subject" validate:"required,max=200"`
	Severity     string   `json:"severity" validate:"required,oneof=low medium high critical"`
	Description  string   `json:"description" validate:"max=4000"`
	ImpactAmount *float64 `json:"impactAmount,omitempty" validate:"omitempty,min=0"`
}

type escalationResponse struct {
	EscalationID string `json:"escalationId"`
	Status       string `json:"status"`
}

// CreateEscalation stores an escalation for the calling org
// @Summary Create escalation
// @Tags federation
// @Accept json
// @Produce json
// @Success 201 {object} escalationResponse
// @Failure 400 {object} map[string]interface{}
// @Router /federation/escalation [post]
func (h *Handlers) CreateEscalation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := gate.CallerFromContext(ctx)
	if !ok {
		errors.NewProtocolError(http.StatusUnauthorized, errors.CodeUnauthorized, "no federation caller").WriteJSON(w)
		return
	}

	var req CreateEscalationRequest
	if err := h.decode(r, &req); err != nil {
		audit.SetErrorCode(ctx, errors.CodeValidation)
		h.fail(w, r, "Invalid escalation request", err)
		return
	}

	esc := &storage.Escalation{
		ID:           cuid.New(),
		OrgID:        caller.OrgID,
		Subject:      req.Subject,
		Severity:     req.Severity,
		Description:  req.Description,
		CreatedByKey: caller.KeyID,
		CreatedAt:    h.now().UTC(),
	}
	if err := h.storage.CreateEscalation(ctx, esc); err != nil {
		audit.SetErrorCode(ctx, errors.CodeInternal)
		h.fail(w, r, "Failed to create escalation", err)
		return
	}

	audit.AddDetail(ctx, "escalationId", esc.ID)
	audit.AddDetail(ctx, "severity", esc.Severity)
	if req.Description != "" {
		audit.AddDetail(ctx, "description", req.Description)
	}
	if req.ImpactAmount != nil {
		audit.AddDetail(ctx, "impactAmount", *req.ImpactAmount)
	}

	event := map[string]interface{}{
		"escalationId": esc.ID,
		"subject":      esc.Subject,
		"severity":     esc.Severity,
		"createdAt":    esc.CreatedAt.Format(time.RFC3339),
	}
	h.dispatcher.DispatchAsync(ctx, esc.OrgID, EventEscalationCreated, event)

	writeJSON(w, http.StatusCreated, escalationResponse{EscalationID: esc.ID, Status: "created"})
}

// GetEscalation returns an escalation owned by the calling org
func (h *Handlers) GetEscalation(w http.ResponseWriter, r *http.Request) {
	caller, ok := gate.CallerFromContext(r.Context())
	if !ok {
		errors.NewProtocolError(http.StatusUnauthorized, errors.CodeUnauthorized, "no federation caller").WriteJSON(w)
		return
	}

	esc, err := h.storage.GetEscalation(r.Context(), caller.OrgID, mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, "Failed to load escalation", err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}
