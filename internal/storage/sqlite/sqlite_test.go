package sqlite

import (
	"context"
	"testing"
	"time"

	gateway "github.com/leenhawk/gproxy/internal"
	"github.com/leenhawk/gproxy/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := t.TempDir() + "/test.db"
	s, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAPIKeyRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	key := &gateway.APIKey{
		ID:        "key-1",
		KeyHash:   "abc123hash",
		KeyPrefix: "gpx_abc1",
		UserID:    "user-1",
		OrgID:     "default",
		Role:      "member",
		Enabled:   true,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	if err := s.CreateKey(ctx, key); err != nil {
		t.Fatal("create:", err)
	}

	got, err := s.GetKeyByHash(ctx, "abc123hash")
	if err != nil {
		t.Fatal("get:", err)
	}
	if got.ID != key.ID {
		t.Errorf("id = %q, want %q", got.ID, key.ID)
	}
	if got.KeyPrefix != key.KeyPrefix {
		t.Errorf("prefix = %q, want %q", got.KeyPrefix, key.KeyPrefix)
	}
	if got.OrgID != key.OrgID {
		t.Errorf("org = %q, want %q", got.OrgID, key.OrgID)
	}

	keys, err := s.ListKeys(ctx, 0, 10)
	if err != nil {
		t.Fatal("list:", err)
	}
	if len(keys) != 1 {
		t.Fatalf("list count = %d, want 1", len(keys))
	}

	enabled, err := s.ListAllEnabledKeys(ctx)
	if err != nil {
		t.Fatal("list enabled:", err)
	}
	if len(enabled) != 1 {
		t.Fatalf("enabled count = %d, want 1", len(enabled))
	}

	key.Role = "admin"
	key.Enabled = false
	if err := s.UpdateKey(ctx, key); err != nil {
		t.Fatal("update:", err)
	}
	got, _ = s.GetKeyByHash(ctx, "abc123hash")
	if got.Role != "admin" {
		t.Errorf("role = %q, want admin", got.Role)
	}
	if got.Enabled {
		t.Error("enabled should be false after update")
	}

	enabled, _ = s.ListAllEnabledKeys(ctx)
	if len(enabled) != 0 {
		t.Errorf("enabled count after disable = %d, want 0", len(enabled))
	}

	if err := s.TouchKeyUsed(ctx, "key-1"); err != nil {
		t.Fatal("touch:", err)
	}

	if err := s.DeleteKey(ctx, "key-1"); err != nil {
		t.Fatal("delete:", err)
	}
	_, err = s.GetKeyByHash(ctx, "abc123hash")
	if err != gateway.ErrNotFound {
		t.Errorf("after delete err = %v, want ErrNotFound", err)
	}
}

func TestProviderRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	p := &storage.ProviderRecord{
		ID:        "prov-1",
		Name:      "openai",
		Dialect:   gateway.DialectOpenAIChat,
		BaseURL:   "https://api.openai.com",
		Config:    []byte(`{"forceHTTP2":true}`),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	if err := s.CreateProvider(ctx, p); err != nil {
		t.Fatal("create:", err)
	}

	got, err := s.GetProvider(ctx, "prov-1")
	if err != nil {
		t.Fatal("get:", err)
	}
	if got.Name != p.Name || got.Dialect != p.Dialect {
		t.Errorf("got %+v, want %+v", got, p)
	}

	byName, err := s.GetProviderByName(ctx, "openai")
	if err != nil {
		t.Fatal("get by name:", err)
	}
	if byName.ID != p.ID {
		t.Errorf("id = %q, want %q", byName.ID, p.ID)
	}

	list, err := s.ListProviders(ctx)
	if err != nil {
		t.Fatal("list:", err)
	}
	if len(list) != 1 {
		t.Fatalf("list count = %d, want 1", len(list))
	}

	p.BaseURL = "https://api.openai.com/v1"
	if err := s.UpdateProvider(ctx, p); err != nil {
		t.Fatal("update:", err)
	}
	got, _ = s.GetProvider(ctx, "prov-1")
	if got.BaseURL != p.BaseURL {
		t.Errorf("base_url = %q, want %q", got.BaseURL, p.BaseURL)
	}

	if err := s.DeleteProvider(ctx, "prov-1"); err != nil {
		t.Fatal("delete:", err)
	}
	if _, err := s.GetProvider(ctx, "prov-1"); err != gateway.ErrNotFound {
		t.Errorf("after delete err = %v, want ErrNotFound", err)
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	prov := &storage.ProviderRecord{ID: "prov-1", Name: "openai", Dialect: gateway.DialectOpenAIChat, BaseURL: "https://api.openai.com", CreatedAt: time.Now().UTC()}
	if err := s.CreateProvider(ctx, prov); err != nil {
		t.Fatal(err)
	}

	c := &storage.CredentialRecord{
		ProviderID: "prov-1",
		Label:      "primary",
		SecretJSON: []byte(`{"api_key":"sk-test"}`),
		Weight:     10,
		Enabled:    true,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
	if err := s.CreateCredential(ctx, c); err != nil {
		t.Fatal("create:", err)
	}
	if c.ID == 0 {
		t.Fatal("expected autoincrement id to be populated")
	}

	got, err := s.GetCredential(ctx, c.ID)
	if err != nil {
		t.Fatal("get:", err)
	}
	if got.Label != c.Label || got.Weight != c.Weight {
		t.Errorf("got %+v, want %+v", got, c)
	}

	list, err := s.ListCredentials(ctx, "prov-1")
	if err != nil {
		t.Fatal("list:", err)
	}
	if len(list) != 1 {
		t.Fatalf("list count = %d, want 1", len(list))
	}

	c.Weight = 20
	c.Enabled = false
	if err := s.UpdateCredential(ctx, c); err != nil {
		t.Fatal("update:", err)
	}
	got, _ = s.GetCredential(ctx, c.ID)
	if got.Weight != 20 || got.Enabled {
		t.Errorf("got %+v after update", got)
	}

	if err := s.DeleteCredential(ctx, c.ID); err != nil {
		t.Fatal("delete:", err)
	}
	if _, err := s.GetCredential(ctx, c.ID); err != gateway.ErrNotFound {
		t.Errorf("after delete err = %v, want ErrNotFound", err)
	}
}

func TestDisallowRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	entry := gateway.DisallowEntry{
		CredentialID: 7,
		Scope:        gateway.Scope{Kind: gateway.ScopeAllModels},
		Level:        gateway.Cooldown,
		Reason:       "429",
		UpdatedAt:    time.Now().UTC().Truncate(time.Second),
	}

	if err := s.UpsertDisallow(ctx, "prov-1", entry); err != nil {
		t.Fatal("upsert:", err)
	}

	list, err := s.ListDisallows(ctx, "prov-1")
	if err != nil {
		t.Fatal("list:", err)
	}
	if len(list) != 1 || list[0].CredentialID != 7 {
		t.Fatalf("got %+v", list)
	}

	entry.Level = gateway.Dead
	if err := s.UpsertDisallow(ctx, "prov-1", entry); err != nil {
		t.Fatal("re-upsert:", err)
	}
	list, _ = s.ListDisallows(ctx, "prov-1")
	if len(list) != 1 || list[0].Level != gateway.Dead {
		t.Fatalf("expected single row updated in place, got %+v", list)
	}

	if err := s.ClearDisallow(ctx, "prov-1", 7, entry.Scope); err != nil {
		t.Fatal("clear:", err)
	}
	list, _ = s.ListDisallows(ctx, "prov-1")
	if len(list) != 0 {
		t.Fatalf("expected no disallows after clear, got %+v", list)
	}
}

func TestApplyProviderState(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	entry := gateway.DisallowEntry{
		CredentialID: 3,
		Scope:        gateway.Scope{Kind: gateway.ScopeModel, Model: "gpt-4o"},
		Level:        gateway.Cooldown,
		UpdatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	markEv := gateway.ProviderStateEvent{ProviderID: "prov-1", CredentialID: 3, Entry: &entry}
	if err := s.ApplyProviderState(ctx, markEv); err != nil {
		t.Fatal("mark:", err)
	}
	list, _ := s.ListDisallows(ctx, "prov-1")
	if len(list) != 1 {
		t.Fatalf("expected mark to persist, got %+v", list)
	}

	clearEv := gateway.ProviderStateEvent{ProviderID: "prov-1", CredentialID: 3, Scope: entry.Scope, Cleared: true}
	if err := s.ApplyProviderState(ctx, clearEv); err != nil {
		t.Fatal("clear:", err)
	}
	list, _ = s.ListDisallows(ctx, "prov-1")
	if len(list) != 0 {
		t.Fatalf("expected clear to remove the row, got %+v", list)
	}

	swapEv := gateway.ProviderStateEvent{ProviderID: "prov-1", SnapshotSwap: true}
	if err := s.ApplyProviderState(ctx, swapEv); err != nil {
		t.Fatal("swap should be a no-op, got error:", err)
	}
}

func TestGlobalConfigRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	cfg, err := s.GetGlobalConfig(ctx)
	if err != nil {
		t.Fatal("get empty:", err)
	}
	if string(cfg) != "{}" {
		t.Errorf("empty config = %q, want {}", cfg)
	}

	if err := s.PutGlobalConfig(ctx, []byte(`{"host":"0.0.0.0","port":8080}`)); err != nil {
		t.Fatal("put:", err)
	}
	cfg, err = s.GetGlobalConfig(ctx)
	if err != nil {
		t.Fatal("get:", err)
	}
	if string(cfg) != `{"host":"0.0.0.0","port":8080}` {
		t.Errorf("config = %q", cfg)
	}

	if err := s.PutGlobalConfig(ctx, []byte(`{"host":"127.0.0.1","port":9090}`)); err != nil {
		t.Fatal("put again:", err)
	}
	cfg, _ = s.GetGlobalConfig(ctx)
	if string(cfg) != `{"host":"127.0.0.1","port":9090}` {
		t.Errorf("config after second put = %q", cfg)
	}
}

func TestTrafficInsert(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	inTok := int64(100)
	outTok := int64(50)
	up := []gateway.UpstreamTrafficEvent{
		{
			TraceID: "trace-1",
			Meta: gateway.UpstreamRecordMeta{
				ProviderID: "prov-1", CredentialID: 1, Operation: gateway.OpGenerate, Model: "claude-3-opus",
			},
			Status:     200,
			Body:       []byte(`{"ok":true}`),
			Streamed:   false,
			Usage:      &gateway.TrafficUsage{ClaudeInputTokens: &inTok, ClaudeOutputTokens: &outTok},
			OccurredAt: time.Now().UTC().Truncate(time.Second),
		},
	}
	if err := s.InsertUpstreamTraffic(ctx, up); err != nil {
		t.Fatal("insert upstream:", err)
	}

	down := []gateway.DownstreamTrafficEvent{
		{
			TraceID:    "trace-1",
			Meta:       gateway.DownstreamRecordMeta{Method: "POST", Path: "/v1/messages"},
			Status:     200,
			Body:       []byte(`{"ok":true}`),
			OccurredAt: time.Now().UTC().Truncate(time.Second),
		},
	}
	if err := s.InsertDownstreamTraffic(ctx, down); err != nil {
		t.Fatal("insert downstream:", err)
	}

	// Inserting an empty batch must be a no-op, not an error.
	if err := s.InsertUpstreamTraffic(ctx, nil); err != nil {
		t.Fatal("empty batch:", err)
	}
}

func TestTrafficInsertBatchesMultipleRows(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	events := make([]gateway.UpstreamTrafficEvent, 0, 5)
	for i := 0; i < 5; i++ {
		events = append(events, gateway.UpstreamTrafficEvent{
			TraceID:    "trace-batch",
			Meta:       gateway.UpstreamRecordMeta{ProviderID: "prov-1", CredentialID: int64(i), Operation: gateway.OpGenerate},
			Status:     200,
			OccurredAt: time.Now().UTC().Truncate(time.Second),
		})
	}
	if err := s.InsertUpstreamTraffic(ctx, events); err != nil {
		t.Fatal(err)
	}
}
