package config

import (
	"context"
	"testing"

	"github.com/leenhawk/gproxy/internal/storage/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	path := t.TempDir() + "/test.db"
	s, err := sqlite.New(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testConfig() *Config {
	return &Config{
		Providers: []ProviderEntry{
			{
				Name:    "openai",
				Dialect: "openai-chat",
				BaseURL: "https://api.openai.com/v1",
				Credentials: []CredentialEntry{
					{Label: "primary", Secret: map[string]any{"api_key": "sk-test"}, Weight: 1},
				},
			},
		},
		Keys: []KeyEntry{
			{Key: "gnd_testkey123456", OrgID: "default", Role: "admin"},
		},
	}
}

func TestBootstrap(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	cfg := testConfig()

	if err := Bootstrap(ctx, cfg, store); err != nil {
		t.Fatal("bootstrap:", err)
	}

	prov, err := store.GetProviderByName(ctx, "openai")
	if err != nil {
		t.Fatal("get provider:", err)
	}
	if prov.Name != "openai" {
		t.Errorf("provider name = %q, want %q", prov.Name, "openai")
	}

	creds, err := store.ListCredentials(ctx, prov.ID)
	if err != nil {
		t.Fatal("list credentials:", err)
	}
	if len(creds) != 1 {
		t.Fatalf("credential count = %d, want 1", len(creds))
	}
	if creds[0].Label != "primary" {
		t.Errorf("credential label = %q, want %q", creds[0].Label, "primary")
	}

	// Second call is idempotent -- no errors, no duplicates.
	if err := Bootstrap(ctx, cfg, store); err != nil {
		t.Fatal("idempotent bootstrap:", err)
	}

	providers, err := store.ListProviders(ctx)
	if err != nil {
		t.Fatal("list providers:", err)
	}
	if len(providers) != 1 {
		t.Errorf("provider count after second bootstrap = %d, want 1", len(providers))
	}

	creds, err = store.ListCredentials(ctx, prov.ID)
	if err != nil {
		t.Fatal("list credentials:", err)
	}
	if len(creds) != 1 {
		t.Errorf("credential count after second bootstrap = %d, want 1", len(creds))
	}

	keys, err := store.ListKeys(ctx, 0, 10)
	if err != nil {
		t.Fatal("list keys:", err)
	}
	if len(keys) != 1 {
		t.Errorf("key count = %d, want 1", len(keys))
	}
}

func TestBootstrapSkipsEmptyKeys(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	cfg := &Config{
		Keys: []KeyEntry{
			{Key: "", OrgID: "default"},
		},
	}

	if err := Bootstrap(ctx, cfg, store); err != nil {
		t.Fatal("bootstrap:", err)
	}

	keys, err := store.ListKeys(ctx, 0, 10)
	if err != nil {
		t.Fatal("list keys:", err)
	}
	if len(keys) != 0 {
		t.Errorf("key count = %d, want 0 (empty key should be skipped)", len(keys))
	}
}

func TestBootstrapSeedsGlobalConfig(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	cfg := testConfig()

	if err := Bootstrap(ctx, cfg, store); err != nil {
		t.Fatal("bootstrap:", err)
	}

	raw, err := store.GetGlobalConfig(ctx)
	if err != nil {
		t.Fatal("get global config:", err)
	}
	if string(raw) == "{}" {
		t.Error("global config row should be seeded from cfg, not left empty")
	}
}
