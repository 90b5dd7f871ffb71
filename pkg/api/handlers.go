package api

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/purdue-af/tiktok-auth-broker/internal/broker"
	"github.com/purdue-af/tiktok-auth-broker/internal/logging"
	"github.com/purdue-af/tiktok-auth-broker/internal/session"
)

// Error codes carried to the error destination.
const (
	errMissingCode    = "missing_code"
	errInvalidState   = "invalid_state"
	errExchangeFailed = "token_exchange_failed"
	errUnexpected     = "unexpected_error"
)

// Broker is the set of auth operations the handlers depend on.
type Broker interface {
	LoginURL(c *gin.Context, state string) (string, error)
	VerifyState(c *gin.Context, state string) error
	CompleteLogin(c *gin.Context, code string) error
	Me(c *gin.Context) broker.MeResult
	Logout(c *gin.Context)
}

// Redirects are the browser destinations after auth events. They may be
// relative paths on the frontend's origin.
type Redirects struct {
	Success string
	Error   string
	Logout  string
}

type Handlers struct {
	broker    Broker
	redirects Redirects
}

func NewHandlers(b Broker, redirects Redirects) *Handlers {
	return &Handlers{
		broker:    b,
		redirects: redirects,
	}
}

func RegisterRoutes(router *gin.Engine, handlers *Handlers) {
	// Health check
	router.GET("/health", handlers.Health)

	// Auth endpoints
	router.GET("/login", handlers.Login)
	router.GET("/auth/callback", handlers.AuthCallback)
	router.POST("/auth/callback", handlers.AuthCallback)

	// Session endpoints
	router.GET("/me", handlers.Me)
	router.POST("/logout", handlers.Logout)
	router.GET("/logout", handlers.LogoutRedirect)
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

// Login redirects the browser to TikTok's consent page.
func (h *Handlers) Login(c *gin.Context) {
	authURL, err := h.broker.LoginURL(c, c.Query("state"))
	if err != nil {
		logging.Errorw(c.Request.Context(), "api: failed to build login url", "error", err)
		h.redirectError(c, errUnexpected, "An unexpected error occurred during authentication")
		return
	}

	c.Redirect(http.StatusFound, authURL)
}

// AuthCallback is TikTok's redirect target. Every outcome is a redirect.
func (h *Handlers) AuthCallback(c *gin.Context) {
	ctx := c.Request.Context()

	if providerErr := param(c, "error"); providerErr != "" {
		logging.Warnw(ctx, "api: authorization denied by provider", "error", providerErr)
		h.redirectError(c, providerErr, param(c, "error_description"))
		return
	}

	code := param(c, "code")
	if code == "" {
		logging.Warnw(ctx, "api: callback without authorization code")
		h.redirectError(c, errMissingCode, "No authorization code received")
		return
	}

	if err := h.broker.VerifyState(c, param(c, "state")); err != nil {
		logging.Warnw(ctx, "api: oauth state rejected", "error", err)
		h.redirectError(c, errInvalidState, "Authentication request could not be verified")
		return
	}

	if err := h.broker.CompleteLogin(c, code); err != nil {
		logging.Warnw(ctx, "api: login failed", "error", err)
		h.redirectError(c, errExchangeFailed, "Failed to get access token from TikTok")
		return
	}

	h.redirect(c, h.redirects.Success, url.Values{"auth": {"success"}})
}

// Me returns the current user's profile.
func (h *Handlers) Me(c *gin.Context) {
	res := h.broker.Me(c)
	status := res.Outcome.HTTPStatus()

	switch res.Outcome {
	case broker.Authenticated:
		c.JSON(status, gin.H{
			"success":   true,
			"user":      res.Profile,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	case broker.Unauthenticated:
		msg := "Failed to refresh access token. Please re-authenticate with TikTok."
		if !res.Refreshed && errors.Is(res.Err, session.ErrNoSession) {
			msg = "No access token found. Please authenticate with TikTok first."
		}
		c.JSON(status, gin.H{"success": false, "error": msg})
	case broker.ProviderRejected:
		c.JSON(status, gin.H{
			"success": false,
			"error":   "TikTok API error",
			"details": res.ProviderError.Message,
			"code":    res.ProviderError.Code,
		})
	default:
		c.JSON(status, gin.H{
			"success": false,
			"error":   "Failed to fetch user information from TikTok.",
		})
	}
}

func (h *Handlers) Logout(c *gin.Context) {
	h.broker.Logout(c)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Successfully logged out from TikTok",
	})
}

// LogoutRedirect clears the session and sends the browser home.
func (h *Handlers) LogoutRedirect(c *gin.Context) {
	h.broker.Logout(c)
	h.redirect(c, h.redirects.Logout, nil)
}

func (h *Handlers) redirectError(c *gin.Context, code, description string) {
	h.redirect(c, h.redirects.Error, url.Values{
		"error":       {code},
		"description": {description},
	})
}

func (h *Handlers) redirect(c *gin.Context, dest string, extra url.Values) {
	c.Redirect(http.StatusFound, withQuery(dest, extra))
}

// withQuery appends extra to dest, keeping any query dest already has.
func withQuery(dest string, extra url.Values) string {
	if dest == "" {
		dest = "/"
	}
	if len(extra) == 0 {
		return dest
	}

	u, err := url.Parse(dest)
	if err != nil {
		return "/"
	}
	q := u.Query()
	for k, vs := range extra {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// param reads a callback parameter from the query string, falling back to a
// form body for POST callbacks.
func param(c *gin.Context, key string) string {
	if v := c.Query(key); v != "" {
		return v
	}
	if c.Request.Method == http.MethodPost {
		return c.PostForm(key)
	}
	return ""
}
