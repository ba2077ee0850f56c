// Package openai implements the OpenAI-chat-dialect provider adapter: direct
// API-key access (covers openai, nvidia, deepseek -- same wire shape, different
// base URLs) plus the codex OAuth hosting variant, sharing internal/provider's
// native-call pipeline.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	gateway "github.com/leenhawk/gproxy/internal"
	"github.com/leenhawk/gproxy/internal/cloudauth"
	"github.com/leenhawk/gproxy/internal/provider"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	providerName   = "openai"
)

var _ gateway.Provider = (*Client)(nil)

// directSecret is the secret_json shape for a plain API-key credential.
type directSecret struct {
	APIKey string `json:"api_key"`
}

// oauthSecret is the secret_json shape for a codex-style generic OAuth
// refresh-token credential.
type oauthSecret struct {
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	TokenURL     string `json:"token_url"`
}

// Client is the OpenAI-chat-dialect provider adapter.
type Client struct {
	name    string
	baseURL string
	base    *http.Client
	hosting string // "" (API-key header) or "oauth" (codex)
	clients *provider.ClientCache
}

// New creates an OpenAI-chat-dialect Client.
func New(name, baseURL string, base *http.Client, hosting string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if base == nil {
		base = &http.Client{}
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		base:    base,
		hosting: hosting,
		clients: provider.NewClientCache(),
	}
}

// Name returns the provider's registry key.
func (c *Client) Name() string { return c.name }

// Call implements gateway.Provider. The OpenAI API natively speaks both the
// chat and responses dialects, so this adapter answers native for either --
// ep.Dialect tracks req.Dialect directly rather than being fixed to one, the
// one case in the catalog where a single provider covers two of dispatch's
// dialect enum values without ever going through a TransformPlan.
func (c *Client) Call(ctx context.Context, cc gateway.CallContext, cred gateway.Credential, req gateway.ProxyRequest) (gateway.ProxyResponse, error) {
	dialect := gateway.DialectOpenAIChat
	urlFn := c.url
	if req.Dialect == gateway.DialectOpenAIResponses {
		dialect = gateway.DialectOpenAIResponses
		urlFn = c.responsesURL
	}
	ep := provider.Endpoint{
		Dialect:    dialect,
		URL:        urlFn,
		Client:     c.clientFor,
		SetHeaders: c.setHeaders,
	}
	return provider.NativeCall(ctx, ep, cc, cred, req)
}

func (c *Client) baseURLFor(cred gateway.Credential) string {
	if override := provider.BaseURLOverride(cred); override != "" {
		return strings.TrimRight(override, "/")
	}
	return c.baseURL
}

func (c *Client) url(req gateway.ProxyRequest, cred gateway.Credential) (string, error) {
	base := c.baseURLFor(cred)
	switch req.Operation {
	case gateway.OpGenerate, gateway.OpGenerateStream:
		return base + "/chat/completions", nil
	case gateway.OpModelsList:
		return base + "/models", nil
	case gateway.OpModelsGet:
		return base + "/models/" + req.Model, nil
	default:
		return "", fmt.Errorf("openai: unsupported operation %v", req.Operation)
	}
}

func (c *Client) responsesURL(req gateway.ProxyRequest, cred gateway.Credential) (string, error) {
	base := c.baseURLFor(cred)
	switch req.Operation {
	case gateway.OpGenerate, gateway.OpGenerateStream:
		return base + "/responses", nil
	case gateway.OpModelsList:
		return base + "/models", nil
	case gateway.OpModelsGet:
		return base + "/models/" + req.Model, nil
	default:
		return "", fmt.Errorf("openai: unsupported responses operation %v", req.Operation)
	}
}

func (c *Client) setHeaders(h http.Header, cred gateway.Credential, req gateway.ProxyRequest) {
	if c.hosting != "" {
		return // auth lives in the transport chain
	}
	var sec directSecret
	if err := json.Unmarshal(cred.Secret, &sec); err == nil && sec.APIKey != "" {
		h.Set("Authorization", "Bearer "+sec.APIKey)
	}
}

// clientFor returns the shared base client for plain API-key access, or a
// per-credential cached client wrapping the base transport with OAuth for
// the codex hosting variant.
func (c *Client) clientFor(cred gateway.Credential) (*http.Client, error) {
	if c.hosting == "" {
		return c.base, nil
	}
	return c.clients.GetOrCreate(cred.ID, func() (*http.Client, error) {
		var sec oauthSecret
		if err := json.Unmarshal(cred.Secret, &sec); err != nil {
			return nil, fmt.Errorf("openai: unmarshal oauth secret: %w", err)
		}
		conf := &oauth2.Config{
			ClientID:     sec.ClientID,
			ClientSecret: sec.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: sec.TokenURL},
		}
		t := cloudauth.NewGCPOAuthTransport(c.base.Transport, conf, sec.RefreshToken, fmt.Sprintf("%s:%d", c.name, cred.ID))
		return &http.Client{Transport: t}, nil
	})
}
