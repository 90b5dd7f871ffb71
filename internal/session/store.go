package session

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/purdue-af/tiktok-auth-broker/internal/types"
)

// Default cookie names.
const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
	StateCookie   = "oauth_state"
)

// ErrNoSession is the normal negative result when a token cookie is absent.
var ErrNoSession = errors.New("session: token cookie absent")

// ErrIncompletePair is returned by Write when either token is missing; the
// two cookies are only ever written together.
var ErrIncompletePair = errors.New("session: token pair is incomplete")

// Store defines the interface for the browser session. The session is the
// pair of token cookies; there is no server side record.
type Store interface {
	// Write replaces both token cookies.
	Write(c *gin.Context, pair *types.TokenPair) error

	// ReadAccess returns the access token, or false when absent.
	ReadAccess(c *gin.Context) (string, bool)

	// ReadRefresh returns the refresh token, or false when absent.
	ReadRefresh(c *gin.Context) (string, bool)

	// Clear expires both token cookies immediately.
	Clear(c *gin.Context)
}

// StateStore keeps the signed OAuth state between /login and the callback.
type StateStore interface {
	WriteState(c *gin.Context, signed string, maxAge int)
	ReadState(c *gin.Context) (string, bool)
	ClearState(c *gin.Context)
}
