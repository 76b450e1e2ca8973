package gate

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"federation-gateway/internal/storage"
)

// ErrUnknownKey is returned by a KeyRegistry when no active key has the id
var ErrUnknownKey = stderrors.New("unknown signing key")

// KeyRegistry resolves a key id to its signing key. Any error other than
// ErrUnknownKey means the registry itself is unavailable.
type KeyRegistry interface {
	Lookup(ctx context.Context, keyID string) (*storage.SigningKey, error)
}

// StaticRegistry holds keys provisioned through the environment
type StaticRegistry map[string]*storage.SigningKey

// ParseStaticKeys reads "keyId=secret@org;keyId2=secret2@org2". The org part
// is optional; a key without one may sign for any org.
func ParseStaticKeys(raw string) (StaticRegistry, error) {
	reg := StaticRegistry{}
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, rest, ok := strings.Cut(entry, "=")
		if !ok || id == "" || rest == "" {
			return nil, fmt.Errorf("invalid signing key entry %q: expected keyId=secret@org", entry)
		}
		secret, org := rest, ""
		if i := strings.LastIndex(rest, "@"); i >= 0 {
			secret, org = rest[:i], rest[i+1:]
		}
		if secret == "" {
			return nil, fmt.Errorf("signing key %q has an empty secret", id)
		}
		reg[id] = &storage.SigningKey{KeyID: id, Secret: secret, OwnerOrgID: org, Active: true}
	}
	return reg, nil
}

func (s StaticRegistry) Lookup(_ context.Context, keyID string) (*storage.SigningKey, error) {
	k, ok := s[keyID]
	if !ok || !k.Active {
		return nil, ErrUnknownKey
	}
	return k, nil
}

// StorageRegistry looks keys up in the relational store
type StorageRegistry struct {
	store storage.Storage
}

// NewStorageRegistry creates a registry over store
func NewStorageRegistry(store storage.Storage) *StorageRegistry {
	return &StorageRegistry{store: store}
}

func (s *StorageRegistry) Lookup(ctx context.Context, keyID string) (*storage.SigningKey, error) {
	k, err := s.store.GetSigningKey(ctx, keyID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, ErrUnknownKey
	}
	if err != nil {
		return nil, fmt.Errorf("signing key lookup failed: %w", err)
	}
	if !k.Active {
		return nil, ErrUnknownKey
	}
	return k, nil
}

// ChainRegistry asks each registry in order and returns the first hit
type ChainRegistry []KeyRegistry

func (c ChainRegistry) Lookup(ctx context.Context, keyID string) (*storage.SigningKey, error) {
	for _, r := range c {
		k, err := r.Lookup(ctx, keyID)
		if err == nil {
			return k, nil
		}
		if !stderrors.Is(err, ErrUnknownKey) {
			return nil, err
		}
	}
	return nil, ErrUnknownKey
}

// CachedRegistry memoises hits of another registry for a short TTL.
// Misses and failures are not cached.
type CachedRegistry struct {
	next  KeyRegistry
	cache *cache.Cache
}

// NewCachedRegistry wraps next with a cache holding keys for ttl
func NewCachedRegistry(next KeyRegistry, ttl time.Duration) *CachedRegistry {
	return &CachedRegistry{next: next, cache: cache.New(ttl, 2*ttl)}
}

func (c *CachedRegistry) Lookup(ctx context.Context, keyID string) (*storage.SigningKey, error) {
	if v, ok := c.cache.Get(keyID); ok {
		return v.(*storage.SigningKey), nil
	}
	k, err := c.next.Lookup(ctx, keyID)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(keyID, k)
	return k, nil
}

// Invalidate drops a cached key, e.g. after rotation
func (c *CachedRegistry) Invalidate(keyID string) {
	c.cache.Delete(keyID)
}
