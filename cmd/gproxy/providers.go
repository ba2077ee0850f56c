package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/dnscache"

	gateway "github.com/leenhawk/gproxy/internal"
	"github.com/leenhawk/gproxy/internal/circuitbreaker"
	"github.com/leenhawk/gproxy/internal/pool"
	"github.com/leenhawk/gproxy/internal/provider"
	"github.com/leenhawk/gproxy/internal/provider/anthropic"
	"github.com/leenhawk/gproxy/internal/provider/gemini"
	"github.com/leenhawk/gproxy/internal/provider/openai"
	"github.com/leenhawk/gproxy/internal/storage"
)

// providerSettings is the shape of storage.ProviderRecord.Config: the
// hosting variant each adapter's secret/URL shape depends on, plus the
// transport tuning knobs that depend on whether the upstream is remote
// HTTPS (HTTP/2) or a local sidecar (HTTP/1.1).
type providerSettings struct {
	Hosting    string `json:"hosting"`     // "", "vertex", "bedrock", "oauth"
	ForceHTTP2 *bool  `json:"force_http2"` // defaults to true
}

func (s providerSettings) forceHTTP2() bool {
	return s.ForceHTTP2 == nil || *s.ForceHTTP2
}

// buildHandle constructs a provider.Handle for one catalog entry: the
// dialect adapter, its shared outbound client, and a pool seeded from the
// provider's current credentials and disallow marks.
func buildHandle(ctx context.Context, rec *storage.ProviderRecord, store storage.Store, resolver *dnscache.Resolver, forwardProxyURL string, sink gateway.StateSink) (*provider.Handle, error) {
	var settings providerSettings
	if len(rec.Config) > 0 {
		if err := json.Unmarshal(rec.Config, &settings); err != nil {
			return nil, fmt.Errorf("provider %q: unmarshal config: %w", rec.Name, err)
		}
	}

	transport := provider.NewTransport(resolver, settings.forceHTTP2())
	if forwardProxyURL != "" {
		proxyURL, err := url.Parse(forwardProxyURL)
		if err != nil {
			return nil, fmt.Errorf("provider %q: parse forward proxy url: %w", rec.Name, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	client := &http.Client{Transport: transport}

	var adapter gateway.Provider
	switch rec.Dialect {
	case gateway.DialectClaude:
		adapter = anthropic.New(rec.Name, rec.BaseURL, client, settings.Hosting)
	case gateway.DialectGemini:
		adapter = gemini.New(rec.Name, rec.BaseURL, client, settings.Hosting)
	case gateway.DialectOpenAIChat, gateway.DialectOpenAIResponses:
		adapter = openai.New(rec.Name, rec.BaseURL, client, settings.Hosting)
	default:
		return nil, fmt.Errorf("provider %q: unsupported dialect %q", rec.Name, rec.Dialect.String())
	}

	snapshot, err := loadSnapshot(ctx, store, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", rec.Name, err)
	}

	p := pool.New(rec.ID, snapshot, sink)
	p = p.WithBreaker(circuitbreaker.NewBreaker(circuitbreaker.DefaultConfig()))

	return &provider.Handle{
		Provider: adapter,
		Pool:     p,
		Client:   client,
		Dialect:  rec.Dialect,
	}, nil
}

// loadSnapshot reads a provider's credentials and disallow marks from the
// store and assembles them into a gateway.PoolSnapshot.
func loadSnapshot(ctx context.Context, store storage.Store, providerID string) (gateway.PoolSnapshot, error) {
	records, err := store.ListCredentials(ctx, providerID)
	if err != nil {
		return gateway.PoolSnapshot{}, fmt.Errorf("list credentials: %w", err)
	}
	creds := make([]gateway.Credential, len(records))
	for i, r := range records {
		creds[i] = gateway.Credential{
			ID:         r.ID,
			ProviderID: r.ProviderID,
			Name:       r.Label,
			Secret:     r.SecretJSON,
			Meta:       r.Meta,
			Weight:     r.Weight,
			Enabled:    r.Enabled,
		}
	}

	entries, err := store.ListDisallows(ctx, providerID)
	if err != nil {
		return gateway.PoolSnapshot{}, fmt.Errorf("list disallows: %w", err)
	}

	return gateway.NewPoolSnapshot(creds, entries), nil
}

// buildRegistry loads every provider catalog entry from the store and
// registers one Handle per entry. Reused both at startup and by the
// Reloader to pick up admin-mutated providers and credentials.
func buildRegistry(ctx context.Context, store storage.Store, resolver *dnscache.Resolver, forwardProxyURL string, sink gateway.StateSink, reg *provider.Registry) error {
	recs, err := store.ListProviders(ctx)
	if err != nil {
		return fmt.Errorf("list providers: %w", err)
	}
	for _, rec := range recs {
		h, err := buildHandle(ctx, rec, store, resolver, forwardProxyURL, sink)
		if err != nil {
			return err
		}
		reg.Register(rec.Name, h)
	}
	return nil
}
