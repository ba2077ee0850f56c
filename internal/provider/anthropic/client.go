// Package anthropic implements the Claude-dialect provider adapter: direct
// API access plus the vertex (GCP OAuth), bedrock (AWS SigV4) and oauth
// (refresh-token OAuth) hosting variants, all sharing one native-call
// pipeline via internal/provider.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/credentials"
	"golang.org/x/oauth2"

	gateway "github.com/leenhawk/gproxy/internal"
	"github.com/leenhawk/gproxy/internal/cloudauth"
	"github.com/leenhawk/gproxy/internal/provider"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	providerName     = "anthropic"
	anthropicVersion = "2023-06-01"
	bedrockVersion   = "bedrock-2023-05-31"
)

var _ gateway.Provider = (*Client)(nil)

// directSecret is the secret_json shape for a direct (non-hosted) credential.
type directSecret struct {
	APIKey string `json:"api_key"`
}

// vertexSecret is the secret_json shape for a Vertex-hosted credential.
type vertexSecret struct {
	Project      string `json:"project"`
	Region       string `json:"region"`
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// bedrockSecret is the secret_json shape for a Bedrock-hosted credential.
type bedrockSecret struct {
	Region       string `json:"region"`
	AccessKey    string `json:"access_key"`
	SecretKey    string `json:"secret_key"`
	SessionToken string `json:"session_token,omitempty"`
}

// oauthSecret is the secret_json shape for a claudecode-style generic OAuth
// refresh-token credential (Claude account auth, not GCP).
type oauthSecret struct {
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	TokenURL     string `json:"token_url"`
}

// Client is the Claude-dialect provider adapter. hosting selects how each
// credential's secret is interpreted and how its outbound transport is
// built; "" means direct API access with a plain API-key header.
type Client struct {
	name    string
	baseURL string
	base    *http.Client // shared base transport (connection pooling, DNS cache)
	hosting string       // "", "vertex", "bedrock", "oauth"
	clients *provider.ClientCache
}

// New creates a Claude-dialect Client. hosting selects "", "vertex",
// "bedrock", or "oauth"; base supplies the shared outbound transport every credential's
// client wraps.
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
		Dialect:    gateway.DialectClaude,
		URL:        c.url,
		Client:     c.clientFor,
		SetHeaders: c.setHeaders,
		WrapBody:   c.wrapBody,
	}
	return provider.NativeCall(ctx, ep, cc, cred, req)
}

func (c *Client) isHosted() bool { return c.hosting == "vertex" || c.hosting == "bedrock" }

// usesTransportAuth reports whether auth is injected by the per-credential
// client's transport chain rather than by setHeaders.
func (c *Client) usesTransportAuth() bool { return c.hosting != "" }

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
		return c.messagesURL(base, req.Model), nil
	case gateway.OpCountTokens:
		if c.isHosted() {
			return "", fmt.Errorf("anthropic: count_tokens not supported under %q hosting", c.hosting)
		}
		return base + "/messages/count_tokens", nil
	case gateway.OpModelsList:
		return base + "/models", nil
	case gateway.OpModelsGet:
		return base + "/models/" + url.PathEscape(req.Model), nil
	default:
		return "", fmt.Errorf("anthropic: unsupported operation %v", req.Operation)
	}
}

// messagesURL returns the generate-content endpoint. Vertex uses the
// rawPredict/streamRawPredict endpoints; Bedrock uses the model invoke
// endpoints.
func (c *Client) messagesURL(base, model string) string {
	switch c.hosting {
	case "vertex":
		return base + "/publishers/anthropic/models/" + url.PathEscape(model) + ":rawPredict"
	case "bedrock":
		return base + "/model/" + url.PathEscape(model) + "/invoke"
	default:
		return base + "/messages"
	}
}

func (c *Client) setHeaders(h http.Header, cred gateway.Credential, req gateway.ProxyRequest) {
	if c.usesTransportAuth() {
		return // auth lives in the transport chain
	}
	var sec directSecret
	if err := json.Unmarshal(cred.Secret, &sec); err == nil && sec.APIKey != "" {
		h.Set("x-api-key", sec.APIKey)
	}
	h.Set("anthropic-version", anthropicVersion)
}

// wrapBody folds anthropic_version into the body and drops the model field
// for hosted variants, where the model is part of the URL instead.
func (c *Client) wrapBody(body json.RawMessage) (json.RawMessage, error) {
	if !c.isHosted() || len(body) == 0 {
		return body, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("anthropic: unmarshal body for hosting: %w", err)
	}
	ver := anthropicVersion
	if c.hosting == "bedrock" {
		ver = bedrockVersion
	}
	verJSON, _ := json.Marshal(ver)
	fields["anthropic_version"] = verJSON
	delete(fields, "model")
	return json.Marshal(fields)
}

// clientFor returns the HTTP client for cred's hosting variant: the shared
// base client for direct access, or a per-credential cached client wrapping
// the base transport with OAuth/SigV4 signing for vertex/bedrock.
func (c *Client) clientFor(cred gateway.Credential) (*http.Client, error) {
	switch c.hosting {
	case "vertex":
		return c.clients.GetOrCreate(cred.ID, func() (*http.Client, error) {
			var sec vertexSecret
			if err := json.Unmarshal(cred.Secret, &sec); err != nil {
				return nil, fmt.Errorf("anthropic: unmarshal vertex secret: %w", err)
			}
			conf := &oauth2.Config{
				ClientID:     sec.ClientID,
				ClientSecret: sec.ClientSecret,
				Endpoint: oauth2.Endpoint{
					TokenURL: "https://oauth2.googleapis.com/token",
				},
				Scopes: []string{"https://www.googleapis.com/auth/cloud-platform"},
			}
			t := cloudauth.NewGCPOAuthTransport(c.base.Transport, conf, sec.RefreshToken, fmt.Sprintf("%s:%d", c.name, cred.ID))
			return &http.Client{Transport: t}, nil
		})
	case "bedrock":
		return c.clients.GetOrCreate(cred.ID, func() (*http.Client, error) {
			var sec bedrockSecret
			if err := json.Unmarshal(cred.Secret, &sec); err != nil {
				return nil, fmt.Errorf("anthropic: unmarshal bedrock secret: %w", err)
			}
			creds := credentials.NewStaticCredentialsProvider(sec.AccessKey, sec.SecretKey, sec.SessionToken)
			t := cloudauth.NewAWSSigV4Transport(c.base.Transport, creds, sec.Region, "bedrock")
			return &http.Client{Transport: t}, nil
		})
	case "oauth":
		return c.clients.GetOrCreate(cred.ID, func() (*http.Client, error) {
			var sec oauthSecret
			if err := json.Unmarshal(cred.Secret, &sec); err != nil {
				return nil, fmt.Errorf("anthropic: unmarshal oauth secret: %w", err)
			}
			conf := &oauth2.Config{
				ClientID:     sec.ClientID,
				ClientSecret: sec.ClientSecret,
				Endpoint:     oauth2.Endpoint{TokenURL: sec.TokenURL},
			}
			t := cloudauth.NewGCPOAuthTransport(c.base.Transport, conf, sec.RefreshToken, fmt.Sprintf("%s:%d", c.name, cred.ID))
			return &http.Client{Transport: t}, nil
		})
	default:
		return c.base, nil
	}
}
