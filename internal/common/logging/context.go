package logging

import "context"

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	keyIDKey         contextKey = "key_id"
	userIDKey        contextKey = "user_id"
)

// ContextWithCorrelationID returns a context carrying the request correlation id
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext returns the correlation id, or "" when none is set
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// ContextWithKeyID tags the context with the verified federation key id
func ContextWithKeyID(ctx context.Context, keyID string) context.Context {
	return context.WithValue(ctx, keyIDKey, keyID)
}

// ContextWithUserID tags the context with an authenticated admin user id
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func contextFields(ctx context.Context) []Field {
	var fields []Field
	if id, ok := ctx.Value(correlationIDKey).(string); ok && id != "" {
		fields = append(fields, Field{"correlation_id", id})
	}
	if id, ok := ctx.Value(keyIDKey).(string); ok && id != "" {
		fields = append(fields, Field{"key_id", id})
	}
	if id, ok := ctx.Value(userIDKey).(string); ok && id != "" {
		fields = append(fields, Field{"user_id", id})
	}
	return fields
}
