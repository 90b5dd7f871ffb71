// Package config loads the broker configuration once at startup.
//
// Sources, highest priority first:
//  1. environment variables;
//  2. the YAML file passed with --config or CONFIG_PATH, if any;
//  3. env-default tags.
//
// Client credentials and the redirect URI are required. Load fails with a
// *ConfigError instead of letting the broker build malformed provider
// requests later on.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Environments in which cookies are not marked Secure.
const (
	EnvLocal       = "local"
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env             string        `yaml:"env" env:"APP_ENV" env-default:"production"`
	ListenAddr      string        `yaml:"listen_addr" env:"LISTEN_ADDR" env-default:":8080"`
	ProviderTimeout time.Duration `yaml:"provider_timeout" env:"PROVIDER_TIMEOUT" env-default:"10s"`
	TikTok          TikTokConfig  `yaml:"tiktok"`
	Session         SessionConfig `yaml:"session"`
	CORS            CORSConfig    `yaml:"cors"`
}

// TikTokConfig holds the OAuth client registration and provider endpoints.
type TikTokConfig struct {
	ClientKey    string   `yaml:"client_id" env:"TIKTOK_CLIENT_ID" env-required:"true"`
	ClientSecret string   `yaml:"client_secret" env:"TIKTOK_CLIENT_SECRET" env-required:"true"`
	RedirectURI  string   `yaml:"redirect_uri" env:"TIKTOK_REDIRECT_URI" env-required:"true"`
	Scopes       []string `yaml:"scopes" env:"TIKTOK_SCOPES" env-separator:"," env-default:"user.info.basic,user.info.profile,user.info.stats"`
	AuthorizeURL string   `yaml:"authorize_url" env:"TIKTOK_AUTHORIZE_URL" env-default:"https://www.tiktok.com/v2/auth/authorize"`
	TokenURL     string   `yaml:"token_url" env:"TIKTOK_TOKEN_URL" env-default:"https://open.tiktokapis.com/v2/oauth/token/"`
	UserInfoURL  string   `yaml:"user_info_url" env:"TIKTOK_USER_INFO_URL" env-default:"https://open.tiktokapis.com/v2/user/info/"`
}

// SessionConfig controls where the browser is sent after auth events and how
// the OAuth state is checked.
type SessionConfig struct {
	SuccessRedirect string        `yaml:"success_redirect" env:"AUTH_SUCCESS_REDIRECT" env-default:"/dashboard"`
	ErrorRedirect   string        `yaml:"error_redirect" env:"AUTH_ERROR_REDIRECT" env-default:"/auth/error"`
	LogoutRedirect  string        `yaml:"logout_redirect" env:"LOGOUT_REDIRECT" env-default:"/"`
	VerifyState     bool          `yaml:"verify_state" env:"VERIFY_STATE" env-default:"true"`
	StateTTL        time.Duration `yaml:"state_ttl" env:"STATE_TTL" env-default:"10m"`
}

type CORSConfig struct {
	AllowOrigin string `yaml:"allow_origin" env:"CORS_ALLOW_ORIGIN" env-default:"*"`
}

// ConfigError reports a missing or invalid setting. It is fatal: the broker
// must not serve auth routes with a broken configuration.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// SecureCookies reports whether cookies must carry the Secure attribute.
func (c *Config) SecureCookies() bool {
	switch strings.ToLower(c.Env) {
	case EnvLocal, EnvDevelopment:
		return false
	default:
		return true
	}
}

// IsLocal reports whether the broker runs on a developer machine.
func (c *Config) IsLocal() bool {
	return !c.SecureCookies()
}

// Load reads the configuration from path (or CONFIG_PATH) and the
// environment, then validates it.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("config file %q stat failed: %w", path, err)}
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("failed to read config: %w", err)}
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("failed to read env: %w", err)}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks what cleanenv cannot express with tags.
func (c *Config) Validate() error {
	var errs []error

	if c.TikTok.ClientKey == "" {
		errs = append(errs, errors.New("tiktok client id is required"))
	}
	if c.TikTok.ClientSecret == "" {
		errs = append(errs, errors.New("tiktok client secret is required"))
	}
	if err := absoluteURL("redirect uri", c.TikTok.RedirectURI); err != nil {
		errs = append(errs, err)
	}
	for _, endpoint := range []struct{ name, raw string }{
		{"authorize url", c.TikTok.AuthorizeURL},
		{"token url", c.TikTok.TokenURL},
		{"user info url", c.TikTok.UserInfoURL},
	} {
		if err := absoluteURL(endpoint.name, endpoint.raw); err != nil {
			errs = append(errs, err)
		}
	}
	if len(c.TikTok.Scopes) == 0 {
		errs = append(errs, errors.New("at least one scope is required"))
	}
	if c.ProviderTimeout <= 0 {
		errs = append(errs, errors.New("provider timeout must be positive"))
	}
	if c.Session.StateTTL <= 0 {
		errs = append(errs, errors.New("state ttl must be positive"))
	}

	if len(errs) > 0 {
		return &ConfigError{Err: errors.Join(errs...)}
	}
	return nil
}

func absoluteURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid url: %w", name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be absolute, got %q", name, raw)
	}
	return nil
}
