// Package tiktoktest provides an in-process fake of the TikTok token and user
// info endpoints for tests.
package tiktoktest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/purdue-af/tiktok-auth-broker/internal/types"
)

const (
	ClientKey    = "test-client"
	ClientSecret = "test-secret"
	RedirectURI  = "http://localhost:8080/auth/callback"

	TokenPath    = "/v2/oauth/token/"
	UserInfoPath = "/v2/user/info/"
	AuthorizeURL = "https://www.tiktok.com/v2/auth/authorize"
)

// ErrorBody mirrors TikTok's error object.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	LogID   string `json:"log_id"`
}

// Server fakes TikTok. Authorization codes and refresh tokens are single use,
// like the real provider.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	codes         map[string]types.TokenPair
	refreshTokens map[string]types.TokenPair
	profiles      map[string]types.UserProfile
	profileErrors map[string]ErrorBody

	exchangeCalls int
	refreshCalls  int
	profileCalls  int
	lastForm      map[string]string
	lastFields    string
}

// NewServer starts a fake; it is closed with t.Cleanup by the caller.
func NewServer() *Server {
	s := &Server{
		codes:         make(map[string]types.TokenPair),
		refreshTokens: make(map[string]types.TokenPair),
		profiles:      make(map[string]types.UserProfile),
		profileErrors: make(map[string]ErrorBody),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(TokenPath, s.handleToken)
	mux.HandleFunc(UserInfoPath, s.handleUserInfo)
	s.Server = httptest.NewServer(mux)
	return s
}

func (s *Server) TokenURL() string    { return s.URL + TokenPath }
func (s *Server) UserInfoURL() string { return s.URL + UserInfoPath }

// AddCode registers an authorization code that exchanges for pair once.
func (s *Server) AddCode(code string, pair types.TokenPair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = pair
}

// AddRefreshToken registers a refresh token that yields pair once.
func (s *Server) AddRefreshToken(refreshToken string, pair types.TokenPair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[refreshToken] = pair
}

// AddProfile makes accessToken valid for profile.
func (s *Server) AddProfile(accessToken string, profile types.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[accessToken] = profile
}

// AddProfileError makes accessToken return a 200 body carrying e.
func (s *Server) AddProfileError(accessToken string, e ErrorBody) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profileErrors[accessToken] = e
}

func (s *Server) ExchangeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchangeCalls
}

func (s *Server) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

func (s *Server) ProfileCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profileCalls
}

// TotalCalls counts every request that reached the fake.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchangeCalls + s.refreshCalls + s.profileCalls
}

// LastForm returns the form of the last token request.
func (s *Server) LastForm() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastForm
}

// LastFields returns the fields query of the last user info request.
func (s *Server) LastFields() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFields
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	form := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}
	s.lastForm = form

	if form["client_key"] != ClientKey || form["client_secret"] != ClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":             "invalid_client",
			"error_description": "Client key or secret is incorrect.",
			"log_id":            "log-client",
		})
		return
	}

	var (
		pair types.TokenPair
		ok   bool
	)
	switch form["grant_type"] {
	case "authorization_code":
		s.exchangeCalls++
		pair, ok = s.codes[form["code"]]
		delete(s.codes, form["code"])
	case "refresh_token":
		s.refreshCalls++
		pair, ok = s.refreshTokens[form["refresh_token"]]
		delete(s.refreshTokens, form["refresh_token"])
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{
			"error":             "invalid_grant",
			"error_description": "Authorization code or refresh token is expired.",
			"log_id":            "log-grant",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":       pair.AccessToken,
		"expires_in":         pair.AccessExpiresIn,
		"refresh_token":      pair.RefreshToken,
		"refresh_expires_in": pair.RefreshExpiresIn,
		"open_id":            "u1",
		"scope":              pair.Scope,
		"token_type":         "Bearer",
	})
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profileCalls++
	s.lastFields = r.URL.Query().Get("fields")

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	if e, ok := s.profileErrors[token]; ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data":  map[string]interface{}{},
			"error": e,
		})
		return
	}

	profile, ok := s.profiles[token]
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"error": ErrorBody{
				Code:    "access_token_invalid",
				Message: "The access token is invalid or not found in the request.",
				LogID:   "log-userinfo",
			},
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  map[string]interface{}{"user": profile},
		"error": ErrorBody{Code: "ok", LogID: "log-ok"},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
