package auth

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/purdue-af/tiktok-auth-broker/internal/logging"
	"github.com/purdue-af/tiktok-auth-broker/internal/metrics"
	"github.com/purdue-af/tiktok-auth-broker/internal/types"
)

const (
	defaultTimeout = 10 * time.Second
	stateLength    = 16
	scopeSeparator = ","

	// Upper bound on provider bodies we are willing to decode.
	maxResponseBytes = 1 << 20

	grantAuthorizationCode = "authorization_code"
	grantRefreshToken      = "refresh_token"
)

const stateAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// AuthURL builds the TikTok authorization URL for the configured client.
func (p *TikTokProvider) AuthURL(state string) (string, error) {
	if state == "" {
		generated, err := GenerateState()
		if err != nil {
			return "", fmt.Errorf("failed to generate state: %w", err)
		}
		state = generated
	}

	u, err := url.Parse(p.authorizeURL)
	if err != nil {
		return "", err
	}

	// TikTok names the client id "client_key" and expects comma separated
	// scopes.
	q := u.Query()
	q.Set("client_key", p.clientKey)
	q.Set("scope", strings.Join(p.scopes, scopeSeparator))
	q.Set("response_type", "code")
	q.Set("redirect_uri", p.redirectURI)
	q.Set("state", state)

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Exchange trades an authorization code for tokens. Codes are single use, so
// the call is never retried.
func (p *TikTokProvider) Exchange(ctx context.Context, code string) (*types.TokenPair, error) {
	if code == "" {
		return nil, ErrMissingCode
	}

	data := url.Values{
		"client_key":    {p.clientKey},
		"client_secret": {p.clientSecret},
		"code":          {code},
		"grant_type":    {grantAuthorizationCode},
		"redirect_uri":  {p.redirectURI},
	}
	return p.requestToken(ctx, metrics.OpExchange, data)
}

// Refresh trades a refresh token for a new pair. TikTok may rotate refresh
// tokens, so the old one must be considered spent once this returns.
func (p *TikTokProvider) Refresh(ctx context.Context, refreshToken string) (*types.TokenPair, error) {
	if refreshToken == "" {
		return nil, ErrMissingRefreshToken
	}

	data := url.Values{
		"client_key":    {p.clientKey},
		"client_secret": {p.clientSecret},
		"grant_type":    {grantRefreshToken},
		"refresh_token": {refreshToken},
	}
	return p.requestToken(ctx, metrics.OpRefresh, data)
}

// FetchProfile calls /v2/user/info/ with the full field selection.
func (p *TikTokProvider) FetchProfile(ctx context.Context, accessToken string) (*types.UserProfile, error) {
	started := time.Now()
	log := logging.FromContext(ctx)

	u, err := url.Parse(p.userInfoURL)
	if err != nil {
		return nil, fmt.Errorf("invalid user info url: %w", err)
	}
	q := u.Query()
	q.Set("fields", strings.Join(types.ProfileFields, ","))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.metrics.ObserveProvider(metrics.OpProfile, metrics.ResultTransport, started)
		log.Warnw("tiktok: user info request failed", "error", err)
		return nil, &TransportError{Op: metrics.OpProfile, Err: err}
	}
	defer resp.Body.Close()

	if !isSuccessStatus(resp.StatusCode) {
		drain(resp.Body)
		p.metrics.ObserveProvider(metrics.OpProfile, metrics.ResultTransport, started)
		log.Warnw("tiktok: user info request rejected", "status", resp.StatusCode)
		return nil, &TransportError{Op: metrics.OpProfile, StatusCode: resp.StatusCode}
	}

	var body userInfoResponse
	if err := decode(resp.Body, &body); err != nil {
		p.metrics.ObserveProvider(metrics.OpProfile, metrics.ResultMalformed, started)
		return nil, fmt.Errorf("%w: user info: %v", ErrMalformedResponse, err)
	}

	profile, err := body.result()
	if err != nil {
		result := metrics.ResultMalformed
		if perr, ok := AsProviderError(err); ok {
			result = metrics.ResultProviderError
			log.Warnw("tiktok: user info returned an error", "code", perr.Code, "log_id", perr.LogID)
		}
		p.metrics.ObserveProvider(metrics.OpProfile, result, started)
		return nil, err
	}

	p.metrics.ObserveProvider(metrics.OpProfile, metrics.ResultOK, started)
	return profile, nil
}

func (p *TikTokProvider) requestToken(ctx context.Context, op string, data url.Values) (*types.TokenPair, error) {
	started := time.Now()
	log := logging.FromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := p.client.Do(req)
	if err != nil {
		p.metrics.ObserveProvider(op, metrics.ResultTransport, started)
		log.Warnw("tiktok: token request failed", "op", op, "error", err)
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if !isSuccessStatus(resp.StatusCode) {
		// The body may echo request parameters, so only the status is kept.
		drain(resp.Body)
		p.metrics.ObserveProvider(op, metrics.ResultTransport, started)
		log.Warnw("tiktok: token request rejected", "op", op, "status", resp.StatusCode)
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode}
	}

	var body tokenResponse
	if err := decode(resp.Body, &body); err != nil {
		p.metrics.ObserveProvider(op, metrics.ResultMalformed, started)
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, op, err)
	}

	if perr := body.providerError(); perr != nil {
		p.metrics.ObserveProvider(op, metrics.ResultProviderError, started)
		log.Warnw("tiktok: token request returned an error", "op", op, "code", perr.Code, "log_id", perr.LogID)
		return nil, perr
	}

	if body.AccessToken == "" || body.RefreshToken == "" {
		p.metrics.ObserveProvider(op, metrics.ResultMalformed, started)
		return nil, fmt.Errorf("%w: %s: missing access or refresh token", ErrMalformedResponse, op)
	}

	p.metrics.ObserveProvider(op, metrics.ResultOK, started)
	log.Debugw("tiktok: token request succeeded", "op", op, "expires_in", body.ExpiresIn, "scope", body.Scope)

	return &types.TokenPair{
		AccessToken:      body.AccessToken,
		RefreshToken:     body.RefreshToken,
		AccessExpiresIn:  body.ExpiresIn,
		RefreshExpiresIn: body.RefreshExpiresIn,
		Scope:            body.Scope,
		TokenType:        body.TokenType,
	}, nil
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
	Scope            string `json:"scope"`
	TokenType        string `json:"token_type"`
	OpenID           string `json:"open_id"`

	// TikTok reports token errors as a string code next to
	// error_description, but some gateways send the object form used by the
	// user info endpoint. Both are accepted.
	Error            json.RawMessage `json:"error"`
	ErrorDescription string          `json:"error_description"`
	LogID            string          `json:"log_id"`
}

func (r *tokenResponse) providerError() *ProviderError {
	raw := bytes.TrimSpace(r.Error)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	perr := &ProviderError{Message: r.ErrorDescription, LogID: r.LogID}
	switch raw[0] {
	case '"':
		if err := json.Unmarshal(raw, &perr.Code); err != nil {
			perr.Code = "unknown_error"
		}
	case '{':
		if err := json.Unmarshal(raw, perr); err != nil {
			perr.Code = "unknown_error"
		}
		if perr.Message == "" {
			perr.Message = r.ErrorDescription
		}
		if perr.LogID == "" {
			perr.LogID = r.LogID
		}
	default:
		perr.Code = "unknown_error"
	}

	if perr.isSuccess() {
		return nil
	}
	return perr
}

// userInfoResponse multiplexes success and failure in one 200 body.
type userInfoResponse struct {
	Data *struct {
		User *types.UserProfile `json:"user"`
	} `json:"data"`
	Error *ProviderError `json:"error"`
}

// result resolves the envelope into exactly one of a profile or an error.
func (r *userInfoResponse) result() (*types.UserProfile, error) {
	if !r.Error.isSuccess() {
		return nil, r.Error
	}
	if r.Data == nil || r.Data.User == nil {
		return nil, fmt.Errorf("%w: user info: missing data.user", ErrMalformedResponse)
	}
	return r.Data.User, nil
}

// GenerateState returns a random lowercase alphanumeric token.
func GenerateState() (string, error) {
	b := make([]byte, stateLength)
	limit := big.NewInt(int64(len(stateAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = stateAlphabet[n.Int64()]
	}
	return string(b), nil
}

func decode(r io.Reader, v interface{}) error {
	err := json.NewDecoder(io.LimitReader(r, maxResponseBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return errors.New("empty body")
	}
	return err
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, maxResponseBytes))
}

func isSuccessStatus(code int) bool {
	return code >= 200 && code < 300
}
