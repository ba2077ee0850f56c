// Package config provides configuration loading and database bootstrapping.
package config

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	gateway "github.com/leenhawk/gproxy/internal"
	"github.com/leenhawk/gproxy/internal/storage"
)

// Bootstrap seeds the database from the config file on first run: provider
// catalog entries, their nested credentials, seed API keys, and the
// global_config row (so admin GET /config has something to return even
// before the first PUT). Idempotent -- existing rows are left untouched.
func Bootstrap(ctx context.Context, cfg *Config, store storage.Store) error {
	for _, p := range cfg.Providers {
		if err := bootstrapProvider(ctx, store, p); err != nil {
			return err
		}
	}

	if cfg.Auth.AdminKey != "" {
		if err := bootstrapKey(ctx, store, KeyEntry{Key: cfg.Auth.AdminKey, Role: "admin"}); err != nil {
			return err
		}
	}

	for _, k := range cfg.Keys {
		if err := bootstrapKey(ctx, store, k); err != nil {
			return err
		}
	}

	return bootstrapGlobalConfig(ctx, store, cfg)
}

func bootstrapProvider(ctx context.Context, store storage.Store, p ProviderEntry) error {
	dialect, ok := dialectFromConfigString(p.Dialect)
	if !ok {
		return fmt.Errorf("bootstrap provider %q: unknown dialect %q", p.Name, p.Dialect)
	}

	existing, _ := store.GetProviderByName(ctx, p.Name)
	providerID := p.Name
	if existing != nil {
		providerID = existing.ID
	} else {
		cfgJSON, err := p.ConfigJSON()
		if err != nil {
			return fmt.Errorf("bootstrap provider %q: marshal config: %w", p.Name, err)
		}
		rec := &storage.ProviderRecord{
			ID:        p.Name,
			Name:      p.Name,
			Dialect:   dialect,
			BaseURL:   p.BaseURL,
			Config:    cfgJSON,
			CreatedAt: time.Now().UTC(),
		}
		if err := store.CreateProvider(ctx, rec); err != nil {
			return fmt.Errorf("bootstrap provider %q: %w", p.Name, err)
		}
		slog.Info("bootstrapped provider", "name", p.Name, "dialect", p.Dialect)
	}

	existingCreds, err := store.ListCredentials(ctx, providerID)
	if err != nil {
		return fmt.Errorf("bootstrap provider %q: list credentials: %w", p.Name, err)
	}
	seen := make(map[string]bool, len(existingCreds))
	for _, c := range existingCreds {
		seen[c.Label] = true
	}

	for _, c := range p.Credentials {
		if seen[c.Label] {
			continue
		}
		secret, err := c.SecretJSON()
		if err != nil {
			return fmt.Errorf("bootstrap provider %q credential %q: marshal secret: %w", p.Name, c.Label, err)
		}
		meta, err := c.MetaJSON()
		if err != nil {
			return fmt.Errorf("bootstrap provider %q credential %q: marshal meta: %w", p.Name, c.Label, err)
		}
		rec := &storage.CredentialRecord{
			ProviderID: providerID,
			Label:      c.Label,
			SecretJSON: secret,
			Meta:       meta,
			Weight:     max(1, c.Weight),
			Enabled:    c.IsEnabled(),
			CreatedAt:  time.Now().UTC(),
		}
		if err := store.CreateCredential(ctx, rec); err != nil {
			return fmt.Errorf("bootstrap provider %q credential %q: %w", p.Name, c.Label, err)
		}
		slog.Info("bootstrapped credential", "provider", p.Name, "label", c.Label)
	}

	return nil
}

func bootstrapKey(ctx context.Context, store storage.Store, k KeyEntry) error {
	if k.Key == "" {
		return nil
	}
	hash := gateway.HashKey(k.Key)

	existing, _ := store.GetKeyByHash(ctx, hash)
	if existing != nil {
		return nil
	}

	prefix := k.Key
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}

	role := k.Role
	if role == "" {
		role = "member"
	}

	key := &gateway.APIKey{
		ID:        uuid.Must(uuid.NewV7()).String(),
		KeyHash:   hash,
		KeyPrefix: prefix,
		UserID:    k.UserID,
		OrgID:     k.OrgID,
		Role:      role,
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateKey(ctx, key); err != nil {
		return fmt.Errorf("bootstrap key %q: %w", prefix, err)
	}
	slog.Info("bootstrapped api key", "prefix", prefix, "role", role)
	return nil
}

// bootstrapGlobalConfig seeds the single-row global_config with the raw
// config file contents, only on first run (an empty `{}` row means none
// has ever been written). Admin PUT /config replaces this row later.
func bootstrapGlobalConfig(ctx context.Context, store storage.Store, cfg *Config) error {
	existing, err := store.GetGlobalConfig(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap global config: %w", err)
	}
	if string(existing) != "{}" {
		return nil
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("bootstrap global config: marshal: %w", err)
	}
	if err := store.PutGlobalConfig(ctx, raw); err != nil {
		return fmt.Errorf("bootstrap global config: %w", err)
	}
	slog.Info("bootstrapped global config row")
	return nil
}

// dialectFromConfigString mirrors internal/server/admin.go's dialectFromString;
// duplicated rather than imported to avoid internal/config depending on
// internal/server (config is loaded before the HTTP layer exists).
func dialectFromConfigString(s string) (gateway.Dialect, bool) {
	switch s {
	case "claude":
		return gateway.DialectClaude, true
	case "gemini":
		return gateway.DialectGemini, true
	case "openai-chat":
		return gateway.DialectOpenAIChat, true
	case "openai-responses":
		return gateway.DialectOpenAIResponses, true
	default:
		return 0, false
	}
}

// GenerateAdminKey creates a random admin key and returns the plaintext.
func GenerateAdminKey() string {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	return gateway.APIKeyPrefix + base64.RawURLEncoding.EncodeToString(raw)
}
