// Package clients provides OAuth2 authentication support
package clients

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/ajitpratap0/nebula-sync/pkg/errors"
)

// OAuth2Config configures bearer authentication for an API source. Either a
// static AccessToken or a refreshable RefreshToken with client credentials
// must be provided.
type OAuth2Config struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	TokenURL     string   `json:"token_url"`
	AuthURL      string   `json:"auth_url"`
	Scopes       []string `json:"scopes"`
	AccessToken  string   `json:"-"`
	RefreshToken string   `json:"-"`
}

// Validate checks that a usable token source can be built.
func (c *OAuth2Config) Validate() error {
	if c.AccessToken != "" {
		return nil
	}
	if c.RefreshToken == "" {
		return errors.New(errors.ErrorTypeValidation, "access_token or refresh_token is required")
	}
	if c.ClientID == "" || c.ClientSecret == "" || c.TokenURL == "" {
		return errors.New(errors.ErrorTypeValidation, "client_id, client_secret and token_url are required to refresh tokens")
	}
	return nil
}

// TokenSource returns a reusable token source. A refresh token takes
// precedence so expired access tokens are renewed automatically.
func (c *OAuth2Config) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.RefreshToken == "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.AccessToken, TokenType: "Bearer"}), nil
	}

	cfg := &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Scopes:       c.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.AuthURL,
			TokenURL: c.TokenURL,
		},
	}
	tok := &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
	}
	if c.AccessToken == "" {
		tok.Expiry = time.Now().Add(-time.Minute)
	}
	return cfg.TokenSource(ctx, tok), nil
}

// NewOAuth2Transport wraps base with bearer authentication.
func NewOAuth2Transport(ctx context.Context, cfg *OAuth2Config, base http.RoundTripper) (http.RoundTripper, error) {
	ts, err := cfg.TokenSource(ctx)
	if err != nil {
		return nil, err
	}
	if base == nil {
		base = http.DefaultTransport
	}
	return &oauth2.Transport{Source: ts, Base: base}, nil
}
