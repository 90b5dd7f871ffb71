package session

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/purdue-af/tiktok-auth-broker/internal/logging"
	"github.com/purdue-af/tiktok-auth-broker/internal/types"
)

// CookieStore implements Store and StateStore with HTTP-only cookies.
//
// Cookie values are opaque bearer tokens: they are never parsed or logged.
type CookieStore struct {
	secure bool
}

// NewCookieStore creates a store. secure must be true everywhere except
// local development over plain http.
func NewCookieStore(secure bool) *CookieStore {
	return &CookieStore{secure: secure}
}

// Write sets both token cookies, with lifetimes taken from the pair.
func (s *CookieStore) Write(c *gin.Context, pair *types.TokenPair) error {
	if pair == nil || pair.AccessToken == "" || pair.RefreshToken == "" {
		return ErrIncompletePair
	}

	s.set(c, AccessCookie, pair.AccessToken, pair.AccessMaxAge(), http.SameSiteLaxMode)
	s.set(c, RefreshCookie, pair.RefreshToken, pair.RefreshMaxAge(), http.SameSiteLaxMode)

	logging.Debugw(c.Request.Context(), "session: token cookies written",
		"access_max_age", pair.AccessMaxAge(),
		"refresh_max_age", pair.RefreshMaxAge(),
	)
	return nil
}

func (s *CookieStore) ReadAccess(c *gin.Context) (string, bool) {
	return read(c, AccessCookie)
}

func (s *CookieStore) ReadRefresh(c *gin.Context) (string, bool) {
	return read(c, RefreshCookie)
}

// Clear overwrites both token cookies with an empty, already expired value.
func (s *CookieStore) Clear(c *gin.Context) {
	s.expire(c, AccessCookie, http.SameSiteLaxMode)
	s.expire(c, RefreshCookie, http.SameSiteLaxMode)
}

// WriteState stores the signed state. TikTok may return with a cross-site
// form POST, which never carries Lax cookies, so over https the state cookie
// is SameSite=None. Browsers reject None without Secure, so plain http
// falls back to Lax and only GET callbacks can be verified there.
func (s *CookieStore) WriteState(c *gin.Context, signed string, maxAge int) {
	s.set(c, StateCookie, signed, maxAge, s.stateSameSite())
}

func (s *CookieStore) ReadState(c *gin.Context) (string, bool) {
	return read(c, StateCookie)
}

func (s *CookieStore) ClearState(c *gin.Context) {
	s.expire(c, StateCookie, s.stateSameSite())
}

func (s *CookieStore) stateSameSite() http.SameSite {
	if s.secure {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

func (s *CookieStore) set(c *gin.Context, name, value string, maxAge int, sameSite http.SameSite) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: sameSite,
	})
}

func (s *CookieStore) expire(c *gin.Context, name string, sameSite http.SameSite) {
	// A negative MaxAge is rendered as "Max-Age=0".
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: sameSite,
	})
}

// read uses the raw request cookie; gin's c.Cookie would query-unescape the
// token.
func read(c *gin.Context, name string) (string, bool) {
	cookie, err := c.Request.Cookie(name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}
