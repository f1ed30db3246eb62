// Package auth exchanges an MTM API token for a short-lived bearer token
// using the OAuth2 client-credentials grant.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenPath is the client-credentials endpoint of the MTM API.
const TokenPath = "/services/mtm/v1/oauth2/token"

// clientID is the fixed user half of the Basic credential.
const clientID = "apitoken"

// Credential identifies a tenant and the API token used to authenticate against it.
type Credential struct {
	Host     string
	APIToken string
}

// Validate reports missing fields.
func (c Credential) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("host is required")
	}
	if c.APIToken == "" {
		return fmt.Errorf("api token is required")
	}
	return nil
}

// Provider obtains and caches bearer tokens for one credential.
// It is safe for concurrent use.
type Provider struct {
	config     clientcredentials.Config
	httpClient *http.Client
	logger     zerolog.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

// Option customizes a Provider.
type Option func(*Provider)

// WithBaseURL overrides the https://{host} API root.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.config.TokenURL = strings.TrimRight(baseURL, "/") + TokenPath
	}
}

// WithHTTPClient sets the HTTP client used for the token exchange.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// NewProvider creates a token provider for cred.
func NewProvider(cred Credential, opts ...Option) (*Provider, error) {
	if err := cred.Validate(); err != nil {
		return nil, err
	}

	p := &Provider{
		config: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: cred.APIToken,
			TokenURL:     "https://" + strings.TrimRight(cred.Host, "/") + TokenPath,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log.With().Str("component", "auth").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}

	// oauth2 query-escapes the client secret before Basic encoding; the MTM
	// endpoint expects the raw token, so the header is rewritten on the wire.
	base := p.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc := *p.httpClient
	hc.Transport = &basicAuthTransport{
		username: clientID,
		password: cred.APIToken,
		base:     base,
	}
	p.httpClient = &hc

	return p, nil
}

// Token returns a valid bearer token, exchanging the credential when no
// cached token exists or the cached one has expired.
func (p *Provider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token.Valid() {
		return p.token.AccessToken, nil
	}

	start := time.Now()
	tok, err := p.config.Token(context.WithValue(ctx, oauth2.HTTPClient, p.httpClient))
	if err != nil {
		p.logger.Error().Err(err).Str("endpoint", TokenPath).Msg("Token exchange failed")
		return "", fmt.Errorf("exchange api token: %w", err)
	}

	p.token = tok
	p.logger.Info().
		Dur("duration", time.Since(start)).
		Time("expiry", tok.Expiry).
		Msg("Obtained bearer token")

	return tok.AccessToken, nil
}

// basicAuthTransport sets an unescaped Basic Authorization header.
type basicAuthTransport struct {
	username string
	password string
	base     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.SetBasicAuth(t.username, t.password)
	return t.base.RoundTrip(r)
}
