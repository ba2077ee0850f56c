package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	t.Parallel()

	yaml := `
server:
  host: "127.0.0.1"
  port: 9090
  read_timeout: 10s
database:
  dsn: ":memory:"
providers:
  - name: openai
    dialect: openai-chat
    base_url: https://api.openai.com/v1
    credentials:
      - label: primary
        secret:
          api_key: sk-test
        weight: 1
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr() != "127.0.0.1:9090" {
		t.Errorf("addr = %q, want %q", cfg.Server.Addr(), "127.0.0.1:9090")
	}
	if cfg.Database.DSN != ":memory:" {
		t.Errorf("dsn = %q, want %q", cfg.Database.DSN, ":memory:")
	}
	if len(cfg.Providers) != 1 {
		t.Fatalf("providers count = %d, want 1", len(cfg.Providers))
	}
	if cfg.Providers[0].Name != "openai" {
		t.Errorf("provider name = %q, want %q", cfg.Providers[0].Name, "openai")
	}
	if len(cfg.Providers[0].Credentials) != 1 {
		t.Fatalf("credentials count = %d, want 1", len(cfg.Providers[0].Credentials))
	}
	if cfg.Providers[0].Credentials[0].Label != "primary" {
		t.Errorf("credential label = %q, want %q", cfg.Providers[0].Credentials[0].Label, "primary")
	}
}

func TestExpandEnv(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv
	t.Setenv("TEST_API_KEY", "sk-secret-123")

	result := expandEnv([]byte("key: ${TEST_API_KEY}"))
	if string(result) != "key: sk-secret-123" {
		t.Errorf("expandEnv = %q, want %q", string(result), "key: sk-secret-123")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	yaml := `{}`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr() != "0.0.0.0:8080" {
		t.Errorf("default addr = %q, want %q", cfg.Server.Addr(), "0.0.0.0:8080")
	}
	if cfg.Database.DSN != "gproxy.db" {
		t.Errorf("default dsn = %q, want %q", cfg.Database.DSN, "gproxy.db")
	}
}
