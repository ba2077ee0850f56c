// Package storage defines persistence interfaces for the gateway. Each
// interface is implemented against SQLite in internal/storage/sqlite, and
// is small enough that internal/testutil can fake it for unit tests that
// don't need a real database.
package storage

import (
	"context"
	"encoding/json"
	"time"

	gateway "github.com/leenhawk/gproxy/internal"
)

// APIKeyStore manages API key persistence -- the authoritative source the
// auth guard's in-memory snapshot is built from.
type APIKeyStore interface {
	CreateKey(ctx context.Context, key *gateway.APIKey) error
	GetKey(ctx context.Context, id string) (*gateway.APIKey, error)
	GetKeyByHash(ctx context.Context, hash string) (*gateway.APIKey, error)
	ListKeys(ctx context.Context, offset, limit int) ([]*gateway.APIKey, error)
	UpdateKey(ctx context.Context, key *gateway.APIKey) error
	DeleteKey(ctx context.Context, id string) error
	TouchKeyUsed(ctx context.Context, id string) error
	// ListAllEnabledKeys returns every enabled key, for building the auth
	// snapshot at startup and on each admin mutation.
	ListAllEnabledKeys(ctx context.Context) ([]*gateway.APIKey, error)
}

// ProviderRecord is the persisted row for one named provider catalog entry.
type ProviderRecord struct {
	ID        string
	Name      string
	Dialect   gateway.Dialect
	BaseURL   string
	Config    json.RawMessage // provider-specific settings (e.g. forceHTTP2)
	CreatedAt time.Time
}

// ProviderStore manages provider catalog persistence.
type ProviderStore interface {
	CreateProvider(ctx context.Context, p *ProviderRecord) error
	GetProvider(ctx context.Context, id string) (*ProviderRecord, error)
	GetProviderByName(ctx context.Context, name string) (*ProviderRecord, error)
	ListProviders(ctx context.Context) ([]*ProviderRecord, error)
	UpdateProvider(ctx context.Context, p *ProviderRecord) error
	DeleteProvider(ctx context.Context, id string) error
}

// CredentialRecord is the persisted row backing one gateway.Credential.
type CredentialRecord struct {
	ID         int64
	ProviderID string
	Label      string
	SecretJSON json.RawMessage
	Meta       json.RawMessage // e.g. {"base_url": "..."}, overrides the provider's default
	Weight     int
	Enabled    bool
	CreatedAt  time.Time
}

// CredentialStore manages credential persistence per provider.
type CredentialStore interface {
	CreateCredential(ctx context.Context, c *CredentialRecord) error
	GetCredential(ctx context.Context, id int64) (*CredentialRecord, error)
	ListCredentials(ctx context.Context, providerID string) ([]*CredentialRecord, error)
	UpdateCredential(ctx context.Context, c *CredentialRecord) error
	DeleteCredential(ctx context.Context, id int64) error
}

// DisallowStore manages credential_disallow persistence: the durable half
// of a gateway.PoolSnapshot's overlay, mirrored into memory on load and on
// every ApplyProviderState call.
type DisallowStore interface {
	UpsertDisallow(ctx context.Context, providerID string, entry gateway.DisallowEntry) error
	ClearDisallow(ctx context.Context, providerID string, credentialID int64, scope gateway.Scope) error
	ListDisallows(ctx context.Context, providerID string) ([]gateway.DisallowEntry, error)
}

// GlobalConfigStore manages the single-row global_config JSON blob admin
// mutates via PUT /config and cmd/gproxy seeds via Bootstrap.
type GlobalConfigStore interface {
	GetGlobalConfig(ctx context.Context) (json.RawMessage, error)
	PutGlobalConfig(ctx context.Context, cfg json.RawMessage) error
}

// TrafficStore persists upstream/downstream traffic events. Implemented by
// internal/storage/sqlite.DB and consumed by internal/sink.Sink.
type TrafficStore interface {
	InsertUpstreamTraffic(ctx context.Context, events []gateway.UpstreamTrafficEvent) error
	InsertDownstreamTraffic(ctx context.Context, events []gateway.DownstreamTrafficEvent) error
}

// ProviderStateStore applies a single credential health transition. Also
// implemented by internal/storage/sqlite.DB and consumed by
// internal/sink.Sink, kept distinct from DisallowStore's admin-facing CRUD
// since ApplyProviderState additionally records the transition's history.
type ProviderStateStore interface {
	ApplyProviderState(ctx context.Context, ev gateway.ProviderStateEvent) error
}

// Store combines every persistence interface the gateway needs. Matched by
// internal/storage/sqlite.DB and faked piecewise by internal/testutil.
type Store interface {
	APIKeyStore
	ProviderStore
	CredentialStore
	DisallowStore
	GlobalConfigStore
	TrafficStore
	ProviderStateStore
	Close() error
}
