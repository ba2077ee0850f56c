package server

import (
	"testing"

	gateway "github.com/leenhawk/gproxy/internal"
)

func TestIsCacheable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  gateway.ProxyRequest
		want bool
	}{
		{
			name: "streaming is never cacheable",
			req:  gateway.ProxyRequest{Operation: gateway.OpGenerate, Stream: true, Body: []byte(`{"seed":1}`)},
			want: false,
		},
		{
			name: "non-generate operation is never cacheable",
			req:  gateway.ProxyRequest{Operation: gateway.OpCountTokens, Body: []byte(`{"seed":1}`)},
			want: false,
		},
		{
			name: "explicit seed is cacheable regardless of temperature",
			req:  gateway.ProxyRequest{Operation: gateway.OpGenerate, Body: []byte(`{"seed":7,"temperature":1.0}`)},
			want: true,
		},
		{
			name: "low temperature is cacheable",
			req:  gateway.ProxyRequest{Operation: gateway.OpGenerate, Body: []byte(`{"temperature":0.1}`)},
			want: true,
		},
		{
			name: "high temperature is not cacheable",
			req:  gateway.ProxyRequest{Operation: gateway.OpGenerate, Body: []byte(`{"temperature":0.9}`)},
			want: false,
		},
		{
			name: "no temperature or seed at all is not cacheable",
			req:  gateway.ProxyRequest{Operation: gateway.OpGenerate, Body: []byte(`{}`)},
			want: false,
		},
		{
			name: "gemini low temperature lives under generationConfig",
			req:  gateway.ProxyRequest{Operation: gateway.OpGenerate, Dialect: gateway.DialectGemini, Body: []byte(`{"generationConfig":{"temperature":0.2}}`)},
			want: true,
		},
		{
			name: "gemini top-level temperature field is ignored",
			req:  gateway.ProxyRequest{Operation: gateway.OpGenerate, Dialect: gateway.DialectGemini, Body: []byte(`{"temperature":0.1}`)},
			want: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isCacheable(tt.req); got != tt.want {
				t.Errorf("isCacheable(%+v) = %v, want %v", tt.req, got, tt.want)
			}
		})
	}
}

func TestCacheKey(t *testing.T) {
	t.Parallel()

	base := gateway.ProxyRequest{Dialect: gateway.DialectOpenAIChat, Model: "gpt-4o", Body: []byte(`{"a":1}`)}

	k1 := cacheKey(nil, "openai", base)
	k2 := cacheKey(nil, "openai", base)
	if k1 != k2 {
		t.Errorf("cacheKey is not deterministic: %q != %q", k1, k2)
	}

	k3 := cacheKey(&gateway.Identity{KeyID: "key-a"}, "openai", base)
	k4 := cacheKey(&gateway.Identity{KeyID: "key-b"}, "openai", base)
	if k3 == k4 {
		t.Error("cacheKey must differ across caller identities to avoid cross-user leakage")
	}

	other := base
	other.Body = []byte(`{"a":2}`)
	if cacheKey(nil, "openai", base) == cacheKey(nil, "openai", other) {
		t.Error("cacheKey must differ when the request body differs")
	}
}
