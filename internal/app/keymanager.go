// Package app implements application-level services for the gproxy LLM gateway.
package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/google/uuid"

	gateway "github.com/leenhawk/gproxy/internal"
	"github.com/leenhawk/gproxy/internal/storage"
)

// KeyManager handles API key lifecycle (create, delete).
type KeyManager struct {
	store storage.APIKeyStore
}

// NewKeyManager returns a KeyManager backed by store.
func NewKeyManager(store storage.APIKeyStore) *KeyManager {
	return &KeyManager{store: store}
}

// CreateKey generates a new API key for the given user/org/role, stores its
// hash, and returns the plaintext (shown once) along with the persisted
// APIKey record. A new key is enabled by default; role defaults to "member"
// when empty, matching storage/sqlite's column default.
func (km *KeyManager) CreateKey(ctx context.Context, userID, orgID, role string) (string, *gateway.APIKey, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}

	plaintext := gateway.APIKeyPrefix + base64.RawURLEncoding.EncodeToString(raw)
	hash := gateway.HashKey(plaintext)

	if role == "" {
		role = "member"
	}
	key := &gateway.APIKey{
		ID:        uuid.Must(uuid.NewV7()).String(),
		KeyHash:   hash,
		KeyPrefix: plaintext[:8],
		UserID:    userID,
		OrgID:     orgID,
		Role:      role,
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
	}

	if err := km.store.CreateKey(ctx, key); err != nil {
		return "", nil, err
	}

	return plaintext, key, nil
}

// DeleteKey removes the API key with the given ID.
func (km *KeyManager) DeleteKey(ctx context.Context, id string) error {
	return km.store.DeleteKey(ctx, id)
}
