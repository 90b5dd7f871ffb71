package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/purdue-af/tiktok-auth-broker/internal/logging"
	"github.com/purdue-af/tiktok-auth-broker/internal/metrics"
)

const requestIDHeader = "X-Request-Id"

// RouterConfig collects what NewRouter needs besides the handlers.
type RouterConfig struct {
	Logger      logging.Logger
	Metrics     *metrics.Metrics
	AllowOrigin string
}

// NewRouter builds the gin engine with the middleware chain and all routes.
func NewRouter(handlers *Handlers, cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}

	router := gin.New()
	router.Use(
		RequestLogger(cfg.Logger),
		Metrics(cfg.Metrics),
		Recovery(handlers),
		CORS(cfg.AllowOrigin),
	)

	RegisterRoutes(router, handlers)
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}
	return router
}

// RequestLogger attaches a request scoped logger carrying a request id and
// logs one line per request. Query strings are never logged: the callback
// carries the authorization code.
func RequestLogger(base logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)

		logger := base.With("request_id", id)
		c.Request = c.Request.WithContext(logging.With(c.Request.Context(), logger))

		start := time.Now()
		c.Next()

		logger.Infow("http",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"dur", time.Since(start),
		)
	}
}

// Recovery turns panics into a generic failure. Browser facing routes get
// the error redirect, API routes a JSON 500. Panic details never reach the
// client.
func Recovery(handlers *Handlers) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.Errorw(c.Request.Context(), "api: panic recovered",
			"path", c.Request.URL.Path,
			"panic", recovered,
		)

		if browserRoute(c) {
			handlers.redirectError(c, errUnexpected, "An unexpected error occurred during authentication")
			c.Abort()
			return
		}

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "An unexpected error occurred.",
		})
	})
}

// browserRoute reports whether the request came from a top level browser
// navigation rather than a fetch from the frontend.
func browserRoute(c *gin.Context) bool {
	switch c.FullPath() {
	case "/login", "/auth/callback":
		return true
	case "/logout":
		return c.Request.Method == http.MethodGet
	}
	return false
}

// Metrics counts requests by route template. It must run outside Recovery
// so recovered panics are counted with their final status.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if m == nil {
			return
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// CORS answers preflight requests. Credentials are only allowed for an
// explicit origin, never for "*".
func CORS(allowOrigin string) gin.HandlerFunc {
	if allowOrigin == "" {
		allowOrigin = "*"
	}

	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", allowOrigin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if allowOrigin != "*" {
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
