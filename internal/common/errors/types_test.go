package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "basic error",
			appError: &AppError{Type: ErrTypeConfig, Message: "configuration is invalid"},
			want:     "config: configuration is invalid",
		},
		{
			name:     "error with code",
			appError: &AppError{Type: ErrTypeAuth, Message: "authentication failed", Code: "AUTH001"},
			want:     "authentication: authentication failed: code=AUTH001",
		},
		{
			name:     "error with cause",
			appError: &AppError{Type: ErrTypeConnection, Message: "store unreachable", Cause: errors.New("dial tcp")},
			want:     "connection: store unreachable: cause=dial tcp",
		},
		{
			name: "error with context",
			appError: &AppError{
				Type:    ErrTypeValidation,
				Message: "field validation failed",
				Context: map[string]interface{}{"field": "subject", "rule": "required"},
			},
			want: "validation: field validation failed: context={field=subject, rule=required}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.appError.Error())
		})
	}
}

func TestIsType(t *testing.T) {
	err := NotFoundError("escalation")
	assert.True(t, IsType(err, ErrTypeNotFound))
	assert.True(t, IsType(fmt.Errorf("wrapped: %w", err), ErrTypeNotFound))
	assert.False(t, IsType(err, ErrTypeAuth))
	assert.False(t, IsType(errors.New("plain"), ErrTypeNotFound))
	assert.False(t, IsType(nil, ErrTypeNotFound))
}

func TestGetType(t *testing.T) {
	assert.Equal(t, ErrorType(""), GetType(nil))
	assert.Equal(t, ErrTypeInternal, GetType(errors.New("plain")))
	assert.Equal(t, ErrTypeConflict, GetType(ConflictError("x")))
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("root")
	err := InternalError("failed", cause)
	assert.True(t, errors.Is(err, cause))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestProtocolError_WriteJSON(t *testing.T) {
	t.Run("body shape", func(t *testing.T) {
		rec := httptest.NewRecorder()
		InvalidSignature().WriteJSON(rec)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		body := decodeBody(t, rec)
		assert.Equal(t, "invalid_signature", body["error"])
		assert.NotEmpty(t, body["message"])
		_, hasDetails := body["details"]
		assert.False(t, hasDetails)
	})

	t.Run("retry after", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RateLimitExceeded(60 * time.Second).WriteJSON(rec)

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	})

	t.Run("partial seconds round up", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RateLimitExceeded(1500 * time.Millisecond).WriteJSON(rec)
		assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	})

	t.Run("details", func(t *testing.T) {
		rec := httptest.NewRecorder()
		MissingHeaders("X-Provider-Org").WriteJSON(rec)

		body := decodeBody(t, rec)
		assert.Equal(t, "missing_headers", body["error"])
		assert.Equal(t, []interface{}{"X-Provider-Org"}, body["details"])
	})
}

func TestFromError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{ValidationError("bad"), http.StatusBadRequest, CodeValidation},
		{NotFoundError("thing"), http.StatusNotFound, CodeNotFound},
		{ConflictError("dup"), http.StatusConflict, CodeIdempotencyConflict},
		{AuthError("no"), http.StatusUnauthorized, CodeUnauthorized},
		{errors.New("boom"), http.StatusInternalServerError, CodeInternal},
		{PayloadTooLarge(10), http.StatusRequestEntityTooLarge, CodePayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			pe := FromError(tt.err)
			assert.Equal(t, tt.status, pe.Status)
			assert.Equal(t, tt.code, pe.Code)
		})
	}
}

func TestFromError_HidesInternalMessages(t *testing.T) {
	pe := FromError(InternalError("db password=hunter2 rejected", nil))
	assert.Equal(t, "internal server error", pe.Message)
}
