// Package auth implements API key authentication for the gateway's HTTP
// ingress. Authoritative state is a copy-on-write snapshot map rebuilt from
// the store on startup and on every admin key mutation; an otter W-TinyLFU
// cache sits in front of it purely to save a map lookup under hot-key skew.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	gateway "github.com/leenhawk/gproxy/internal"
	"github.com/leenhawk/gproxy/internal/storage"
	"github.com/maypok86/otter/v2"
)

const (
	cacheTTL    = 30 * time.Second // short enough that a cache entry never outlives a snapshot swap by much
	cacheMaxLen = 10_000           // max concurrent active keys expected per deployment
)

// snapshotEntry is the authoritative record kept in the in-memory auth map,
// keyed by the key's SHA-256 hash (never the raw value).
type snapshotEntry struct {
	KeyID   string
	UserID  string
	OrgID   string
	Role    string
	Enabled bool
}

// APIKeyAuth authenticates requests bearing a "gpx_"-prefixed API key.
// The snapshot map is the single source of truth; Reload atomically
// replaces it. The otter cache is a secondary, expendable speedup.
type APIKeyAuth struct {
	store    storage.APIKeyStore
	snapshot atomic.Pointer[map[string]snapshotEntry]
	cache    *otter.Cache[string, snapshotEntry]
}

// NewAPIKeyAuth loads the initial snapshot from store and returns a new
// APIKeyAuth ready to authenticate requests.
func NewAPIKeyAuth(ctx context.Context, store storage.APIKeyStore) (*APIKeyAuth, error) {
	c, err := otter.New(&otter.Options[string, snapshotEntry]{
		MaximumSize:      cacheMaxLen,
		ExpiryCalculator: otter.ExpiryWriting[string, snapshotEntry](cacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create auth cache: %w", err)
	}
	a := &APIKeyAuth{store: store, cache: c}
	if err := a.Reload(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// Reload rebuilds the snapshot map from the store and swaps it in
// atomically. Called at startup and by the admin layer after any key
// mutation (create, update, delete).
func (a *APIKeyAuth) Reload(ctx context.Context) error {
	keys, err := a.store.ListAllEnabledKeys(ctx)
	if err != nil {
		return fmt.Errorf("load api keys: %w", err)
	}
	next := make(map[string]snapshotEntry, len(keys))
	for _, k := range keys {
		next[k.KeyHash] = snapshotEntry{
			KeyID:   k.ID,
			UserID:  k.UserID,
			OrgID:   k.OrgID,
			Role:    k.Role,
			Enabled: k.Enabled,
		}
	}
	a.snapshot.Store(&next)
	a.cache.InvalidateAll()
	return nil
}

// extractKey pulls the raw key value out of Authorization: Bearer <k> (case
// insensitive scheme) or x-api-key, whichever is present.
func extractKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		const prefix = "bearer "
		if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
			return auth[len(prefix):]
		}
	}
	return r.Header.Get("x-api-key")
}

// Authenticate validates the request's API key against the snapshot and
// returns the caller's Identity.
func (a *APIKeyAuth) Authenticate(ctx context.Context, r *http.Request) (*gateway.Identity, error) {
	raw := extractKey(r)
	if raw == "" || !strings.HasPrefix(raw, gateway.APIKeyPrefix) {
		return nil, gateway.ErrUnauthorized
	}

	hash := gateway.HashKey(raw)

	if entry, ok := a.cache.GetIfPresent(hash); ok {
		if !entry.Enabled {
			return nil, gateway.ErrKeyDisabled
		}
		return buildIdentity(entry), nil
	}

	snap := *a.snapshot.Load()
	entry, ok := snap[hash]
	if !ok {
		return nil, gateway.ErrUnauthorized
	}

	if !entry.Enabled {
		return nil, gateway.ErrKeyDisabled
	}

	a.cache.Set(hash, entry)

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		a.store.TouchKeyUsed(ctx, entry.KeyID) //nolint:errcheck
	}()

	return buildIdentity(entry), nil
}

// buildIdentity constructs an Identity from a validated snapshot entry.
func buildIdentity(entry snapshotEntry) *gateway.Identity {
	role := entry.Role
	if role == "" {
		role = "member"
	}
	return &gateway.Identity{
		UserID:     entry.UserID,
		KeyID:      entry.KeyID,
		OrgID:      entry.OrgID,
		Role:       role,
		Perms:      gateway.RolePermissions[role],
		AuthMethod: "apikey",
	}
}
