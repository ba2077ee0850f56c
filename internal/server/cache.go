package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/tidwall/gjson"

	gateway "github.com/leenhawk/gproxy/internal"
)

// Cache is the interface for response caching used by the server.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Purge(ctx context.Context)
}

// temperaturePath locates the sampling temperature field in each dialect's
// native request body, so isCacheable can reason about it without a dialect
// switch at every call site.
func temperaturePath(d gateway.Dialect) string {
	if d == gateway.DialectGemini {
		return "generationConfig.temperature"
	}
	return "temperature"
}

// isCacheable returns true if req is eligible for response caching: a
// non-streaming generate call with either an explicit seed (OpenAI dialects
// only) or a low/zero temperature. A request with no temperature/seed at all
// defaults to temperature 1.0 upstream, which is not deterministic enough to
// cache.
func isCacheable(req gateway.ProxyRequest) bool {
	if req.Stream || req.Operation != gateway.OpGenerate {
		return false
	}
	if gjson.GetBytes(req.Body, "seed").Exists() {
		return true
	}
	temp := gjson.GetBytes(req.Body, temperaturePath(req.Dialect))
	return temp.Exists() && temp.Float() <= 0.3
}

// cacheKey hashes (caller key, provider, dialect, model, raw body). Scoping
// by key prevents cross-user leakage; hashing the raw translated-free body
// rather than re-deriving a canonical form is a deliberate simplification --
// it only coalesces byte-identical requests, which is the common case for a
// client replaying the same call (retries, polling), and avoids a
// per-dialect field-normalization table that would need to track every
// dialect's request shape.
func cacheKey(identity *gateway.Identity, providerName string, req gateway.ProxyRequest) string {
	h := sha256.New()
	if identity != nil {
		h.Write([]byte(identity.KeyID))
	}
	h.Write([]byte{0})
	h.Write([]byte(providerName))
	h.Write([]byte{0})
	h.Write([]byte(req.Dialect.String()))
	h.Write([]byte{0})
	h.Write([]byte(req.Model))
	h.Write([]byte{0})
	h.Write(req.Body)
	return hex.EncodeToString(h.Sum(nil))
}
