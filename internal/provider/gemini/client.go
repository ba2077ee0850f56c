// Package gemini implements the Gemini-dialect provider adapter: direct AI
// Studio API-key access plus the vertex and oauth (geminicli/antigravity)
// GCP OAuth hosting variants, all sharing internal/provider's native-call
// pipeline.
package gemini

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
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	providerName   = "gemini"
)

var _ gateway.Provider = (*Client)(nil)

// directSecret is the secret_json shape for an AI Studio API-key credential.
type directSecret struct {
	APIKey string `json:"api_key"`
}

// oauthSecret is the secret_json shape for a vertex/geminicli/antigravity
// GCP OAuth credential.
type oauthSecret struct {
	Project      string `json:"project"`
	Region       string `json:"region"`
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// Client is the Gemini-dialect provider adapter. hosting selects "" (AI
// Studio, API-key header), "vertex" (GCP OAuth, Vertex URL shape), or
// "oauth" (GCP OAuth, AI-Studio-shaped URL -- geminicli/antigravity style).
type Client struct {
	name    string
	baseURL string
	base    *http.Client
	hosting string
	clients *provider.ClientCache
}

// New creates a Gemini-dialect Client. The API version (v1 vs v1beta) is
// not configured here: req.GeminiVersion always reflects the path segment
// the caller addressed, so a provider-wide default could never take effect.
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

// Call implements gateway.Provider.
func (c *Client) Call(ctx context.Context, cc gateway.CallContext, cred gateway.Credential, req gateway.ProxyRequest) (gateway.ProxyResponse, error) {
	ep := provider.Endpoint{
		Dialect:    gateway.DialectGemini,
		URL:        c.url,
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
	if c.hosting == "vertex" {
		var sec oauthSecret
		_ = json.Unmarshal(cred.Secret, &sec)
		base = fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google", base, sec.Project, sec.Region)
		return c.vertexURL(base, req), nil
	}

	base = base + "/" + req.GeminiVersion.String()
	switch req.Operation {
	case gateway.OpGenerate:
		return base + "/models/" + req.Model + ":generateContent", nil
	case gateway.OpGenerateStream:
		return base + "/models/" + req.Model + ":streamGenerateContent?alt=sse", nil
	case gateway.OpCountTokens:
		return base + "/models/" + req.Model + ":countTokens", nil
	case gateway.OpModelsList:
		return base + "/models", nil
	case gateway.OpModelsGet:
		return base + "/models/" + req.Model, nil
	default:
		return "", fmt.Errorf("gemini: unsupported operation %v", req.Operation)
	}
}

func (c *Client) vertexURL(base string, req gateway.ProxyRequest) string {
	switch req.Operation {
	case gateway.OpGenerate:
		return base + "/models/" + req.Model + ":generateContent"
	case gateway.OpGenerateStream:
		return base + "/models/" + req.Model + ":streamGenerateContent?alt=sse"
	case gateway.OpCountTokens:
		return base + "/models/" + req.Model + ":countTokens"
	default:
		return base + "/models"
	}
}

func (c *Client) setHeaders(h http.Header, cred gateway.Credential, req gateway.ProxyRequest) {
	if c.hosting != "" {
		return // auth lives in the transport chain
	}
	var sec directSecret
	if err := json.Unmarshal(cred.Secret, &sec); err == nil && sec.APIKey != "" {
		h.Set("x-goog-api-key", sec.APIKey)
	}
}

// clientFor returns the shared base client for direct AI Studio access, or a
// per-credential cached client wrapping the base transport with GCP OAuth
// for vertex/geminicli/antigravity.
func (c *Client) clientFor(cred gateway.Credential) (*http.Client, error) {
	if c.hosting == "" {
		return c.base, nil
	}
	return c.clients.GetOrCreate(cred.ID, func() (*http.Client, error) {
		var sec oauthSecret
		if err := json.Unmarshal(cred.Secret, &sec); err != nil {
			return nil, fmt.Errorf("gemini: unmarshal oauth secret: %w", err)
		}
		conf := &oauth2.Config{
			ClientID:     sec.ClientID,
			ClientSecret: sec.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: "https://oauth2.googleapis.com/token"},
			Scopes:       []string{"https://www.googleapis.com/auth/cloud-platform"},
		}
		t := cloudauth.NewGCPOAuthTransport(c.base.Transport, conf, sec.RefreshToken, fmt.Sprintf("%s:%d", c.name, cred.ID))
		return &http.Client{Transport: t}, nil
	})
}
