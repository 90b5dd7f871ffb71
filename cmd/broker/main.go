package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/purdue-af/tiktok-auth-broker/internal/auth"
	"github.com/purdue-af/tiktok-auth-broker/internal/broker"
	"github.com/purdue-af/tiktok-auth-broker/internal/config"
	"github.com/purdue-af/tiktok-auth-broker/internal/logging"
	"github.com/purdue-af/tiktok-auth-broker/internal/metrics"
	"github.com/purdue-af/tiktok-auth-broker/internal/session"
	"github.com/purdue-af/tiktok-auth-broker/pkg/api"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the environment is read")
	flag.Parse()

	// A missing .env is normal outside local development.
	_ = godotenv.Load(*envFile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		var cerr *config.ConfigError
		if errors.As(err, &cerr) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewProdLogger()
	if cfg.IsLocal() {
		logger = logging.NewDevLogger()
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	defer func() { _ = logger.Sync() }()

	m := metrics.New(prometheus.NewRegistry())

	provider := auth.NewTikTokProvider(auth.TikTokConfig{
		ClientKey:    cfg.TikTok.ClientKey,
		ClientSecret: cfg.TikTok.ClientSecret,
		RedirectURI:  cfg.TikTok.RedirectURI,
		Scopes:       cfg.TikTok.Scopes,
		AuthorizeURL: cfg.TikTok.AuthorizeURL,
		TokenURL:     cfg.TikTok.TokenURL,
		UserInfoURL:  cfg.TikTok.UserInfoURL,
		Timeout:      cfg.ProviderTimeout,
	}, auth.WithMetrics(m))

	store := session.NewCookieStore(cfg.SecureCookies())
	opts := []broker.Option{broker.WithMetrics(m)}
	if cfg.Session.VerifyState {
		signer := auth.NewStateSigner(cfg.TikTok.ClientSecret, cfg.Session.StateTTL)
		opts = append(opts, broker.WithStateVerification(signer, store))
	}
	svc := broker.NewService(provider, store, opts...)

	handlers := api.NewHandlers(svc, api.Redirects{
		Success: cfg.Session.SuccessRedirect,
		Error:   cfg.Session.ErrorRedirect,
		Logout:  cfg.Session.LogoutRedirect,
	})
	router := api.NewRouter(handlers, api.RouterConfig{
		Logger:      logger.Named("http"),
		Metrics:     m,
		AllowOrigin: cfg.CORS.AllowOrigin,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infow("starting broker",
			"addr", cfg.ListenAddr,
			"env", cfg.Env,
			"secure_cookies", cfg.SecureCookies(),
			"verify_state", cfg.Session.VerifyState,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Infow("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorw("server forced to shutdown", "error", err)
		return
	}

	logger.Infow("server exited")
}
