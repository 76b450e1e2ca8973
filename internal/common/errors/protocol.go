package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Machine-readable codes returned in the "error" field of rejection bodies.
const (
	CodeMissingHeaders         = "missing_headers"
	CodeInvalidTimestamp       = "invalid_timestamp"
	CodeRateLimitExceeded      = "rate_limit_exceeded"
	CodeInvalidKey             = "invalid_key"
	CodeInvalidSignature       = "invalid_signature"
	CodePayloadTooLarge        = "payload_too_large"
	CodeKeyRegistryUnavailable = "key_registry_unavailable"
	CodeTooManyAttempts        = "too_many_attempts"
	CodeReplayedRequest        = "replayed_request"
	CodeValidation             = "ValidationError"
	CodeIdempotencyConflict    = "IdempotencyConflict"
	CodeIdempotencyInProgress  = "IdempotencyInProgress"
	CodeInternal               = "InternalError"
	CodeUnauthorized           = "unauthorized"
	CodeNotFound               = "not_found"
)

// ProtocolError is a rejection rendered to the caller as
// {"error": Code, "message": Message, "details": [...]}.
type ProtocolError struct {
	Status     int
	Code       string
	Message    string
	Details    []string
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// NewProtocolError creates a rejection with the given status and code
func NewProtocolError(status int, code, message string) *ProtocolError {
	return &ProtocolError{Status: status, Code: code, Message: message}
}

// WithDetails attaches human-readable details to the rejection
func (e *ProtocolError) WithDetails(details ...string) *ProtocolError {
	e.Details = append(e.Details, details...)
	return e
}

// WithRetryAfter sets the Retry-After header emitted with the rejection
func (e *ProtocolError) WithRetryAfter(d time.Duration) *ProtocolError {
	e.RetryAfter = d
	return e
}

type errorBody struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// WriteJSON renders the rejection body and status
func (e *ProtocolError) WriteJSON(w http.ResponseWriter) {
	if e.RetryAfter > 0 {
		secs := int((e.RetryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: e.Code, Message: e.Message, Details: e.Details})
}

// WriteError renders err as a rejection body. Errors that are not a
// *ProtocolError map to a status derived from their AppError type.
func WriteError(w http.ResponseWriter, err error) {
	FromError(err).WriteJSON(w)
}

// FromError converts any error into a ProtocolError
func FromError(err error) *ProtocolError {
	if pe, ok := err.(*ProtocolError); ok {
		return pe
	}
	switch GetType(err) {
	case ErrTypeValidation:
		return NewProtocolError(http.StatusBadRequest, CodeValidation, messageOf(err))
	case ErrTypeNotFound:
		return NewProtocolError(http.StatusNotFound, CodeNotFound, messageOf(err))
	case ErrTypeConflict:
		return NewProtocolError(http.StatusConflict, CodeIdempotencyConflict, messageOf(err))
	case ErrTypeAuth:
		return NewProtocolError(http.StatusUnauthorized, CodeUnauthorized, messageOf(err))
	case ErrTypeRateLimit:
		return NewProtocolError(http.StatusTooManyRequests, CodeRateLimitExceeded, messageOf(err))
	default:
		return NewProtocolError(http.StatusInternalServerError, CodeInternal, "internal server error")
	}
}

func messageOf(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Message
	}
	return err.Error()
}

// Gate rejections

func MissingHeaders(names ...string) *ProtocolError {
	return NewProtocolError(http.StatusUnauthorized, CodeMissingHeaders, "required federation headers are missing").WithDetails(names...)
}

func InvalidTimestamp() *ProtocolError {
	return NewProtocolError(http.StatusUnauthorized, CodeInvalidTimestamp, "request timestamp is outside the allowed window")
}

func RateLimitExceeded(retryAfter time.Duration) *ProtocolError {
	return NewProtocolError(http.StatusTooManyRequests, CodeRateLimitExceeded, "rate limit exceeded").WithRetryAfter(retryAfter)
}

func InvalidKey() *ProtocolError {
	return NewProtocolError(http.StatusUnauthorized, CodeInvalidKey, "unknown signing key")
}

func InvalidSignature() *ProtocolError {
	return NewProtocolError(http.StatusUnauthorized, CodeInvalidSignature, "request signature does not match")
}

func PayloadTooLarge(limit int64) *ProtocolError {
	return NewProtocolError(http.StatusRequestEntityTooLarge, CodePayloadTooLarge, fmt.Sprintf("request body exceeds %d bytes", limit))
}
