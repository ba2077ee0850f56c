package provider

import (
	"net/http"
	"sync"
)

// ClientCache lazily builds and caches one *http.Client per credential ID.
// Used by providers whose auth lives in the transport chain (OAuth
// refresh-token, AWS SigV4) rather than a plain request header, so the
// per-credential signing state (cached token, singleflight group) is built
// once and reused across attempts instead of on every call.
//
// Mirrors internal/circuitbreaker.Registry's double-checked-locking
// GetOrCreate.
type ClientCache struct {
	mu      sync.RWMutex
	clients map[int64]*http.Client
}

// NewClientCache returns an empty, ready-to-use cache.
func NewClientCache() *ClientCache {
	return &ClientCache{clients: make(map[int64]*http.Client)}
}

// GetOrCreate returns the cached client for credentialID, building one via
// build on first use.
func (c *ClientCache) GetOrCreate(credentialID int64, build func() (*http.Client, error)) (*http.Client, error) {
	c.mu.RLock()
	cl, ok := c.clients[credentialID]
	c.mu.RUnlock()
	if ok {
		return cl, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[credentialID]; ok {
		return cl, nil
	}
	cl, err := build()
	if err != nil {
		return nil, err
	}
	c.clients[credentialID] = cl
	return cl, nil
}

// Invalidate drops the cached client for credentialID, forcing a rebuild on
// next use. No code in this repository calls it; admin credential updates
// leave cached clients in place.
func (c *ClientCache) Invalidate(credentialID int64) {
	c.mu.Lock()
	delete(c.clients, credentialID)
	c.mu.Unlock()
}
