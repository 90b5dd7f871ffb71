package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const stateIssuer = "tiktok-auth-broker"

var (
	ErrStateInvalid  = errors.New("oauth state cookie is invalid or expired")
	ErrStateMismatch = errors.New("oauth state does not match")
)

type stateClaims struct {
	State string `json:"st"`
	jwt.RegisteredClaims
}

// StateSigner binds the OAuth state sent to TikTok to the browser that
// started the flow. The signed value travels in a short-lived cookie and is
// compared with the state echoed back on the callback.
type StateSigner struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewStateSigner creates a signer keyed with secret, normally the client
// secret, which never leaves the server.
func NewStateSigner(secret string, ttl time.Duration) *StateSigner {
	return &StateSigner{
		key: []byte(secret),
		ttl: ttl,
		now: time.Now,
	}
}

// TTL is the lifetime of a signed state.
func (s *StateSigner) TTL() time.Duration {
	return s.ttl
}

// Sign returns an HS256 token carrying state.
func (s *StateSigner) Sign(state string) (string, error) {
	now := s.now()
	claims := stateClaims{
		State: state,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stateIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return signed, nil
}

// Verify checks that signed is a valid, unexpired token for state.
func (s *StateSigner) Verify(signed, state string) error {
	if signed == "" || state == "" {
		return ErrStateInvalid
	}

	var claims stateClaims
	_, err := jwt.ParseWithClaims(signed, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStateInvalid, err)
	}

	if subtle.ConstantTimeCompare([]byte(claims.State), []byte(state)) != 1 {
		return ErrStateMismatch
	}
	return nil
}
