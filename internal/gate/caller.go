package gate

import (
	"context"
	"net/http"
)

// Caller is the verified identity of a federation request
type Caller struct {
	KeyID string
	OrgID string
}

type callerKey struct{}

// ContextWithCaller returns ctx carrying c
func ContextWithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFromContext returns the caller placed by the gate
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// CallerKeyID returns the verified key id of r, or "" outside the gate
func CallerKeyID(r *http.Request) string {
	c, _ := CallerFromContext(r.Context())
	return c.KeyID
}
