package testutil

import (
	"context"
	"encoding/json"
	"sync"

	gateway "github.com/leenhawk/gproxy/internal"
	"github.com/leenhawk/gproxy/internal/storage"
)

// FakeStore is an in-memory implementation of storage.Store for testing.
type FakeStore struct {
	mu          sync.RWMutex
	keys        map[string]*gateway.APIKey
	providers   map[string]*storage.ProviderRecord
	credentials map[int64]*storage.CredentialRecord
	nextCredID  int64
	disallows   map[string][]gateway.DisallowEntry // keyed by providerID
	config      json.RawMessage
	upstream    []gateway.UpstreamTrafficEvent
	downstream  []gateway.DownstreamTrafficEvent
	stateEvents []gateway.ProviderStateEvent
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		keys:        make(map[string]*gateway.APIKey),
		providers:   make(map[string]*storage.ProviderRecord),
		credentials: make(map[int64]*storage.CredentialRecord),
		disallows:   make(map[string][]gateway.DisallowEntry),
		config:      json.RawMessage(`{}`),
	}
}

// --- APIKeyStore ---

func (s *FakeStore) CreateKey(_ context.Context, key *gateway.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; ok {
		return gateway.ErrConflict
	}
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s *FakeStore) GetKey(_ context.Context, id string) (*gateway.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (s *FakeStore) GetKeyByHash(_ context.Context, hash string) (*gateway.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.KeyHash == hash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, gateway.ErrNotFound
}

func (s *FakeStore) ListKeys(_ context.Context, offset, limit int) ([]*gateway.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*gateway.APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		cp := *k
		out = append(out, &cp)
	}
	return paginate(out, offset, limit), nil
}

func (s *FakeStore) UpdateKey(_ context.Context, key *gateway.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; !ok {
		return gateway.ErrNotFound
	}
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s *FakeStore) DeleteKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[id]; !ok {
		return gateway.ErrNotFound
	}
	delete(s.keys, id)
	return nil
}

func (s *FakeStore) TouchKeyUsed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[id]; !ok {
		return gateway.ErrNotFound
	}
	return nil
}

func (s *FakeStore) ListAllEnabledKeys(_ context.Context) ([]*gateway.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*gateway.APIKey
	for _, k := range s.keys {
		if k.Enabled {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- ProviderStore ---

func (s *FakeStore) CreateProvider(_ context.Context, p *storage.ProviderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[p.ID]; ok {
		return gateway.ErrConflict
	}
	cp := *p
	s.providers[p.ID] = &cp
	return nil
}

func (s *FakeStore) GetProvider(_ context.Context, id string) (*storage.ProviderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *FakeStore) GetProviderByName(_ context.Context, name string) (*storage.ProviderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.providers {
		if p.Name == name {
			cp := *p
			return &cp, nil
		}
	}
	return nil, gateway.ErrNotFound
}

func (s *FakeStore) ListProviders(_ context.Context) ([]*storage.ProviderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*storage.ProviderRecord, 0, len(s.providers))
	for _, p := range s.providers {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s *FakeStore) UpdateProvider(_ context.Context, p *storage.ProviderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[p.ID]; !ok {
		return gateway.ErrNotFound
	}
	cp := *p
	s.providers[p.ID] = &cp
	return nil
}

func (s *FakeStore) DeleteProvider(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[id]; !ok {
		return gateway.ErrNotFound
	}
	delete(s.providers, id)
	return nil
}

// --- CredentialStore ---

func (s *FakeStore) CreateCredential(_ context.Context, c *storage.CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCredID++
	c.ID = s.nextCredID
	cp := *c
	s.credentials[c.ID] = &cp
	return nil
}

func (s *FakeStore) GetCredential(_ context.Context, id int64) (*storage.CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credentials[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *FakeStore) ListCredentials(_ context.Context, providerID string) ([]*storage.CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*storage.CredentialRecord
	for _, c := range s.credentials {
		if c.ProviderID == providerID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *FakeStore) UpdateCredential(_ context.Context, c *storage.CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.credentials[c.ID]; !ok {
		return gateway.ErrNotFound
	}
	cp := *c
	s.credentials[c.ID] = &cp
	return nil
}

func (s *FakeStore) DeleteCredential(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.credentials[id]; !ok {
		return gateway.ErrNotFound
	}
	delete(s.credentials, id)
	return nil
}

// --- DisallowStore ---

func (s *FakeStore) UpsertDisallow(_ context.Context, providerID string, entry gateway.DisallowEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.disallows[providerID]
	for i, e := range entries {
		if e.CredentialID == entry.CredentialID && e.Scope == entry.Scope {
			entries[i] = entry
			return nil
		}
	}
	s.disallows[providerID] = append(entries, entry)
	return nil
}

func (s *FakeStore) ClearDisallow(_ context.Context, providerID string, credentialID int64, scope gateway.Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.disallows[providerID]
	for i, e := range entries {
		if e.CredentialID == credentialID && e.Scope == scope {
			s.disallows[providerID] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *FakeStore) ListDisallows(_ context.Context, providerID string) ([]gateway.DisallowEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]gateway.DisallowEntry, len(s.disallows[providerID]))
	copy(out, s.disallows[providerID])
	return out, nil
}

// --- GlobalConfigStore ---

func (s *FakeStore) GetGlobalConfig(_ context.Context) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config, nil
}

func (s *FakeStore) PutGlobalConfig(_ context.Context, cfg json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
	return nil
}

// --- TrafficStore ---

func (s *FakeStore) InsertUpstreamTraffic(_ context.Context, events []gateway.UpstreamTrafficEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upstream = append(s.upstream, events...)
	return nil
}

func (s *FakeStore) InsertDownstreamTraffic(_ context.Context, events []gateway.DownstreamTrafficEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downstream = append(s.downstream, events...)
	return nil
}

// --- ProviderStateStore ---

func (s *FakeStore) ApplyProviderState(_ context.Context, ev gateway.ProviderStateEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateEvents = append(s.stateEvents, ev)
	return nil
}

func (s *FakeStore) Close() error { return nil }

// paginate slices keys deterministically enough for tests (map iteration
// order is random, but offset/limit bounds are still honored).
func paginate(all []*gateway.APIKey, offset, limit int) []*gateway.APIKey {
	if offset >= len(all) {
		return nil
	}
	end := offset + limit
	if end > len(all) || limit <= 0 {
		end = len(all)
	}
	return all[offset:end]
}
