package cloudauth

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// GCPOAuthTransport is an http.RoundTripper that injects a GCP OAuth2
// bearer token on every outbound request. The token source is built from
// a credential's own refresh_token (vertex/geminicli/antigravity-style
// credentials), never from ambient ADC -- each credential in the pool is
// independently refreshable. A singleflight group collapses concurrent
// refreshes against the same credential into one token request.
type GCPOAuthTransport struct {
	base   http.RoundTripper
	source oauth2.TokenSource
	group  *singleflight.Group
	key    string // credential identity, used as the singleflight key
}

// NewGCPOAuthTransport builds a transport from an explicit refresh token
// and OAuth client config, the shape a credential's secret_json carries.
// credentialKey identifies the owning credential so concurrent pool
// attempts against it collapse into a single refresh.
func NewGCPOAuthTransport(base http.RoundTripper, conf *oauth2.Config, refreshToken, credentialKey string) *GCPOAuthTransport {
	tok := &oauth2.Token{RefreshToken: refreshToken}
	return &GCPOAuthTransport{
		base:   base,
		source: conf.TokenSource(context.Background(), tok),
		group:  &singleflight.Group{},
		key:    credentialKey,
	}
}

// newGCPOAuthTransportFromSource creates a GCPOAuthTransport with an
// explicit token source (used for testing).
func newGCPOAuthTransportFromSource(base http.RoundTripper, ts oauth2.TokenSource) *GCPOAuthTransport {
	return &GCPOAuthTransport{
		base:   base,
		source: oauth2.ReuseTokenSource(nil, ts),
		group:  &singleflight.Group{},
		key:    "test",
	}
}

// RoundTrip obtains a token, singleflight-collapsed per credential, and
// injects it as a Bearer header.
func (t *GCPOAuthTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	v, err, _ := t.group.Do(t.key, func() (any, error) {
		return t.source.Token()
	})
	if err != nil {
		return nil, fmt.Errorf("cloudauth: obtain GCP token: %w", err)
	}
	tok := v.(*oauth2.Token)
	r2 := r.Clone(r.Context())
	r2.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	return t.getBase().RoundTrip(r2)
}

func (t *GCPOAuthTransport) getBase() http.RoundTripper {
	if t.base != nil {
		return t.base
	}
	return http.DefaultTransport
}
