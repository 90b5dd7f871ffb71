// Package broker composes the TikTok provider and the cookie session into
// the operations served over HTTP: login, callback, refresh, profile lookup
// and logout.
package broker

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"

	"github.com/purdue-af/tiktok-auth-broker/internal/auth"
	"github.com/purdue-af/tiktok-auth-broker/internal/logging"
	"github.com/purdue-af/tiktok-auth-broker/internal/metrics"
	"github.com/purdue-af/tiktok-auth-broker/internal/session"
)

// ErrStateRequired is returned when state verification is on and the
// callback carries no state.
var ErrStateRequired = errors.New("oauth state is required")

// Service is safe for concurrent use; it holds no per-request state.
type Service struct {
	provider   auth.Provider
	store      session.Store
	stateStore session.StateStore
	signer     *auth.StateSigner
	metrics    *metrics.Metrics

	verifyState bool
	refreshes   singleflight.Group
}

type Option func(*Service)

// WithStateVerification binds the OAuth state to the browser with a signed
// cookie and checks it on the callback.
func WithStateVerification(signer *auth.StateSigner, stateStore session.StateStore) Option {
	return func(s *Service) {
		s.signer = signer
		s.stateStore = stateStore
		s.verifyState = signer != nil && stateStore != nil
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates a new broker service
func NewService(provider auth.Provider, store session.Store, opts ...Option) *Service {
	s := &Service{
		provider: provider,
		store:    store,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoginURL returns the TikTok authorization URL. When state is empty a random
// one is generated. With state verification on, the state is also stored in
// a signed cookie for the callback to check.
func (s *Service) LoginURL(c *gin.Context, state string) (string, error) {
	if state == "" {
		generated, err := auth.GenerateState()
		if err != nil {
			return "", fmt.Errorf("failed to generate state: %w", err)
		}
		state = generated
	}

	if s.verifyState {
		signed, err := s.signer.Sign(state)
		if err != nil {
			return "", err
		}
		s.stateStore.WriteState(c, signed, int(s.signer.TTL().Seconds()))
	}

	return s.provider.AuthURL(state)
}

// VerifyState checks the state echoed by TikTok against the signed cookie
// and consumes the cookie. It is a no-op when verification is off.
func (s *Service) VerifyState(c *gin.Context, state string) error {
	if !s.verifyState {
		return nil
	}

	signed, _ := s.stateStore.ReadState(c)
	s.stateStore.ClearState(c)

	if state == "" {
		return ErrStateRequired
	}
	return s.signer.Verify(signed, state)
}

// CompleteLogin exchanges the authorization code and starts the session.
// Exchange itself never persists; this is the only caller that does.
func (s *Service) CompleteLogin(c *gin.Context, code string) error {
	ctx := c.Request.Context()

	pair, err := s.provider.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("token exchange failed: %w", err)
	}

	if err := s.store.Write(c, pair); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	logging.Infow(ctx, "broker: session started", "scope", pair.Scope)
	return nil
}

// Logout destroys the session.
func (s *Service) Logout(c *gin.Context) {
	s.store.Clear(c)
	logging.Infow(c.Request.Context(), "broker: session cleared")
}
