package audit

import (
	"context"
	"sync"
)

type annotationsKey struct{}

// annotations is filled in by inner layers (gate, auth, handlers) while the
// request runs and read back by the emitter once it completes.
type annotations struct {
	mu        sync.Mutex
	machine   *Actor
	user      *Actor
	errorCode string
	details   map[string]interface{}
}

func withAnnotations(ctx context.Context) (context.Context, *annotations) {
	a := &annotations{details: make(map[string]interface{})}
	return context.WithValue(ctx, annotationsKey{}, a), a
}

func annotationsFrom(ctx context.Context) *annotations {
	a, _ := ctx.Value(annotationsKey{}).(*annotations)
	return a
}

// SetMachineActor records the verified federation caller
func SetMachineActor(ctx context.Context, keyID, orgID string) {
	if a := annotationsFrom(ctx); a != nil {
		a.mu.Lock()
		a.machine = &Actor{Type: ActorMachine, KeyIDHash: HashKeyID(keyID), OrgID: orgID}
		a.mu.Unlock()
	}
}

// SetUserActor records an authenticated human user
func SetUserActor(ctx context.Context, userID, email string) {
	if a := annotationsFrom(ctx); a != nil {
		a.mu.Lock()
		a.user = &Actor{Type: ActorUser, UserID: userID, Email: email}
		a.mu.Unlock()
	}
}

// SetErrorCode records the machine-readable code of a rejection
func SetErrorCode(ctx context.Context, code string) {
	if a := annotationsFrom(ctx); a != nil {
		a.mu.Lock()
		a.errorCode = code
		a.mu.Unlock()
	}
}

// AddDetail attaches a value to the event details. It is redacted before emission.
func AddDetail(ctx context.Context, key string, value interface{}) {
	if a := annotationsFrom(ctx); a != nil {
		a.mu.Lock()
		a.details[key] = value
		a.mu.Unlock()
	}
}

func (a *annotations) actor() Actor {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.machine != nil:
		return *a.machine
	case a.user != nil:
		return *a.user
	default:
		return Actor{Type: ActorSystem}
	}
}

func (a *annotations) snapshot() (string, map[string]interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	details := make(map[string]interface{}, len(a.details))
	for k, v := range a.details {
		details[k] = v
	}
	return a.errorCode, details
}
