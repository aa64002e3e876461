// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"

	"github.com/hashicorp/cap-session/oidc"
	"github.com/hashicorp/cap-session/storage"
)

// Session backends
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config is the application's configuration.
type Config struct {
	// Issuer is the OIDC provider's issuer URL.
	Issuer       string   `env:"AUTH_URL,required,notEmpty"`
	ClientID     string   `env:"AUTH_CLIENT_ID,required,notEmpty"`
	ClientSecret string   `env:"AUTH_CLIENT_SECRET"`
	Scopes       []string `env:"AUTH_SCOPES" envDefault:"openid profile offline_access" envSeparator:" "`
	SigningAlgs  []string `env:"AUTH_SIGNING_ALGS" envDefault:"RS256" envSeparator:","`
	RedirectURL  string   `env:"AUTH_REDIRECT_URL" envDefault:"http://localhost:8250/callback"`
	CallbackPath string   `env:"AUTH_CALLBACK_PATH" envDefault:"/callback"`

	PostLogoutRedirectURL string `env:"AUTH_POST_LOGOUT_REDIRECT_URL"`

	// ProviderCA is a PEM encoded CA certificate, or the path of a file
	// holding one.
	ProviderCA      string        `env:"AUTH_PROVIDER_CA"`
	ProviderTimeout time.Duration `env:"AUTH_PROVIDER_TIMEOUT" envDefault:"10s"`

	APIURL string `env:"API_URL" envDefault:"http://localhost:4000"`

	SessionBackend string `env:"SESSION_BACKEND" envDefault:"file"`
	SessionDir     string `env:"SESSION_DIR"`
	RedisAddr      string `env:"REDIS_ADDR"`
	RedisPassword  string `env:"REDIS_PASSWORD"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"LOG_JSON"`
}

// Load reads the configuration.  Any problem, including every missing
// required variable, is reported in one *ConfigurationError.
//
// Supported options: WithEnvironment, WithDotEnv
func Load(opt ...Option) (*Config, error) {
	const op = "config.Load"
	opts := getOpts(opt...)
	problems := &multierror.Error{ErrorFormat: problemsFormat}

	vars, err := environment(opts)
	if err != nil {
		problems = multierror.Append(problems, err)
		return nil, fmt.Errorf("%s: %w", op, &ConfigurationError{problems: problems})
	}

	var c Config
	if err := env.ParseWithOptions(&c, env.Options{Environment: vars}); err != nil {
		var agg env.AggregateError
		if errors.As(err, &agg) {
			problems = multierror.Append(problems, agg.Errors...)
		} else {
			problems = multierror.Append(problems, err)
		}
	}
	problems = multierror.Append(problems, c.validate()...)
	if problems.ErrorOrNil() != nil {
		return nil, fmt.Errorf("%s: %w", op, &ConfigurationError{problems: problems})
	}
	return &c, nil
}

// environment merges the .env files under the process environment (or the
// WithEnvironment map).
func environment(opts options) (map[string]string, error) {
	merged := map[string]string{}
	for _, f := range opts.withDotEnv {
		vals, err := godotenv.Read(f)
		switch {
		case err == nil:
		case errors.Is(err, fs.ErrNotExist) && !opts.requireDotEnv:
			continue
		default:
			return nil, fmt.Errorf("unable to read %s: %w", f, err)
		}
		for k, v := range vals {
			if _, ok := merged[k]; !ok {
				merged[k] = v
			}
		}
	}
	process := opts.withEnvironment
	if process == nil {
		process = env.ToMap(os.Environ())
	}
	for k, v := range process {
		merged[k] = v
	}
	return merged, nil
}

// validate checks the values env can't, it's only meaningful for the fields
// that parsed.
func (c *Config) validate() []error {
	var es []error
	if c.Issuer != "" {
		if u, err := url.Parse(c.Issuer); err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			es = append(es, fmt.Errorf("AUTH_URL %q is not an http(s) url", c.Issuer))
		}
	}
	if !strings.HasPrefix(c.CallbackPath, "/") {
		es = append(es, fmt.Errorf("AUTH_CALLBACK_PATH %q must start with /", c.CallbackPath))
	}
	if u, err := url.Parse(c.RedirectURL); err != nil || !u.IsAbs() || u.Host == "" {
		es = append(es, fmt.Errorf("AUTH_REDIRECT_URL %q is not an absolute url", c.RedirectURL))
	} else if u.Path != c.CallbackPath {
		es = append(es, fmt.Errorf("AUTH_REDIRECT_URL path %q doesn't match AUTH_CALLBACK_PATH %q", u.Path, c.CallbackPath))
	}
	if c.PostLogoutRedirectURL != "" {
		if u, err := url.Parse(c.PostLogoutRedirectURL); err != nil || !u.IsAbs() {
			es = append(es, fmt.Errorf("AUTH_POST_LOGOUT_REDIRECT_URL %q is not an absolute url", c.PostLogoutRedirectURL))
		}
	}
	if len(c.Scopes) == 0 {
		es = append(es, errors.New("AUTH_SCOPES is empty"))
	}
	if len(c.SigningAlgs) == 0 {
		es = append(es, errors.New("AUTH_SIGNING_ALGS is empty"))
	}
	for _, a := range c.SigningAlgs {
		if !oidc.SupportedAlg(oidc.Alg(a)) {
			es = append(es, fmt.Errorf("AUTH_SIGNING_ALGS: %q is not supported", a))
		}
	}
	if c.ProviderTimeout <= 0 {
		es = append(es, fmt.Errorf("AUTH_PROVIDER_TIMEOUT %s must be positive", c.ProviderTimeout))
	}
	if u, err := url.Parse(c.APIURL); err != nil || !u.IsAbs() || u.Host == "" {
		es = append(es, fmt.Errorf("API_URL %q is not an absolute url", c.APIURL))
	}
	switch c.SessionBackend {
	case BackendFile, BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			es = append(es, errors.New("REDIS_ADDR is required when SESSION_BACKEND is redis"))
		}
	default:
		es = append(es, fmt.Errorf("SESSION_BACKEND %q is not one of file, redis or memory", c.SessionBackend))
	}
	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		es = append(es, fmt.Errorf("LOG_LEVEL %q is not a log level", c.LogLevel))
	}
	return es
}

// Logger returns an hclog.Logger honoring LOG_LEVEL and LOG_JSON, writing to
// stderr.
func (c *Config) Logger(name string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      hclog.LevelFromString(c.LogLevel),
		JSONFormat: c.LogJSON,
		Output:     os.Stderr,
	})
}

// OIDC returns the provider configuration.
func (c *Config) OIDC() (*oidc.Config, error) {
	const op = "Config.OIDC"
	algs := make([]oidc.Alg, 0, len(c.SigningAlgs))
	for _, a := range c.SigningAlgs {
		algs = append(algs, oidc.Alg(a))
	}
	ca, err := c.providerCA()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := []oidc.Option{oidc.WithScopes(c.Scopes...)}
	if ca != "" {
		opts = append(opts, oidc.WithProviderCA(ca))
	}
	if c.PostLogoutRedirectURL != "" {
		opts = append(opts, oidc.WithPostLogoutRedirectURL(c.PostLogoutRedirectURL))
	}
	oc, err := oidc.NewConfig(c.Issuer, c.ClientID, oidc.ClientSecret(c.ClientSecret), algs, c.RedirectURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return oc, nil
}

func (c *Config) providerCA() (string, error) {
	switch {
	case c.ProviderCA == "":
		return "", nil
	case strings.HasPrefix(strings.TrimSpace(c.ProviderCA), "-----BEGIN"):
		return c.ProviderCA, nil
	}
	pem, err := os.ReadFile(c.ProviderCA)
	if err != nil {
		return "", fmt.Errorf("unable to read AUTH_PROVIDER_CA: %w", err)
	}
	return string(pem), nil
}

// KV opens the session backend.  The file backend defaults to
// storage.DefaultDir when SESSION_DIR isn't set.
func (c *Config) KV(ctx context.Context) (storage.KV, error) {
	const op = "Config.KV"
	switch c.SessionBackend {
	case BackendMemory:
		return storage.NewMemoryKV(), nil
	case BackendRedis:
		client, err := storage.DialRedis(ctx, c.RedisAddr, c.RedisPassword)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		kv, err := storage.NewRedisKV(client)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return kv, nil
	case BackendFile, "":
		dir := c.SessionDir
		if dir == "" {
			var err error
			if dir, err = storage.DefaultDir(); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
		}
		kv, err := storage.NewFileKV(dir)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return kv, nil
	default:
		return nil, fmt.Errorf("%s: unknown session backend %q: %w", op, c.SessionBackend, ErrConfiguration)
	}
}
