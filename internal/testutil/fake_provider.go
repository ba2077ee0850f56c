// Package testutil provides configurable test fakes for gateway interfaces.
package testutil

import (
	"bytes"
	"context"
	"io"
	"net/http"

	gateway "github.com/leenhawk/gproxy/internal"
)

// FakeProvider is a configurable gateway.Provider for testing.
type FakeProvider struct {
	ProviderName string
	CallFn       func(ctx context.Context, cc gateway.CallContext, cred gateway.Credential, req gateway.ProxyRequest) (gateway.ProxyResponse, error)
}

// Name returns the configured provider name.
func (f *FakeProvider) Name() string { return f.ProviderName }

// Call delegates to CallFn or returns a default 200 JSON response.
func (f *FakeProvider) Call(ctx context.Context, cc gateway.CallContext, cred gateway.Credential, req gateway.ProxyRequest) (gateway.ProxyResponse, error) {
	if f.CallFn != nil {
		return f.CallFn(ctx, cc, cred, req)
	}
	return gateway.ProxyResponse{
		Status:      http.StatusOK,
		Headers:     http.Header{},
		Body:        []byte(`{"ok":true}`),
		ContentType: "application/json",
	}, nil
}

// FakeStream builds a ProxyResponse whose Stream replays data verbatim, for
// testing handlers that copy-and-flush a pre-framed SSE body.
func FakeStream(data []byte) gateway.ProxyResponse {
	return gateway.ProxyResponse{
		Status:      http.StatusOK,
		Headers:     http.Header{},
		Stream:      io.NopCloser(bytes.NewReader(data)),
		ContentType: "text/event-stream",
	}
}
