package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/purdue-af/tiktok-auth-broker/internal/metrics"
	"github.com/purdue-af/tiktok-auth-broker/internal/types"
)

// Provider defines the OAuth2 operations the broker needs from TikTok.
//
// Expected failures are returned as *TransportError, *ProviderError or an
// error wrapping ErrMalformedResponse; callers decide on retries.
type Provider interface {
	// AuthURL builds the authorization URL. An empty state is replaced with a
	// random one.
	AuthURL(state string) (string, error)

	// Exchange converts an authorization code into a token pair.
	Exchange(ctx context.Context, code string) (*types.TokenPair, error)

	// Refresh converts a refresh token into a new token pair.
	Refresh(ctx context.Context, refreshToken string) (*types.TokenPair, error)

	// FetchProfile returns the profile of the access token's owner.
	FetchProfile(ctx context.Context, accessToken string) (*types.UserProfile, error)
}

// TikTokProvider implements Provider for TikTok Login Kit (v2 API).
type TikTokProvider struct {
	clientKey    string
	clientSecret string
	redirectURI  string
	scopes       []string
	authorizeURL string
	tokenURL     string
	userInfoURL  string

	client  *http.Client
	metrics *metrics.Metrics
}

type TikTokConfig struct {
	ClientKey    string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	AuthorizeURL string
	TokenURL     string
	UserInfoURL  string

	// Timeout bounds every outbound call.
	Timeout time.Duration
}

// Option configures a TikTokProvider.
type Option func(*TikTokProvider)

// WithHTTPClient replaces the default client. The client's own timeout is
// kept as is.
func WithHTTPClient(c *http.Client) Option {
	return func(p *TikTokProvider) {
		p.client = c
	}
}

// WithMetrics records every outbound call on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *TikTokProvider) {
		p.metrics = m
	}
}

// NewTikTokProvider creates a new TikTok provider
func NewTikTokProvider(config TikTokConfig, opts ...Option) *TikTokProvider {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	p := &TikTokProvider{
		clientKey:    config.ClientKey,
		clientSecret: config.ClientSecret,
		redirectURI:  config.RedirectURI,
		scopes:       config.Scopes,
		authorizeURL: config.AuthorizeURL,
		tokenURL:     config.TokenURL,
		userInfoURL:  config.UserInfoURL,
		client:       &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}
