// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/cap-session/oidc"
	"github.com/hashicorp/cap-session/storage"
)

func testEnv(overrides map[string]string) map[string]string {
	e := map[string]string{
		"AUTH_URL":       "https://auth.example.com/realms/glad",
		"AUTH_CLIENT_ID": "gladview",
	}
	for k, v := range overrides {
		e[k] = v
	}
	return e
}

func TestLoad(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := Load(WithEnvironment(testEnv(nil)), WithDotEnv())
		require.NoError(err)
		assert.Equal("https://auth.example.com/realms/glad", c.Issuer)
		assert.Equal("gladview", c.ClientID)
		assert.Empty(c.ClientSecret)
		assert.Equal([]string{"openid", "profile", "offline_access"}, c.Scopes)
		assert.Equal([]string{"RS256"}, c.SigningAlgs)
		assert.Equal("http://localhost:8250/callback", c.RedirectURL)
		assert.Equal("/callback", c.CallbackPath)
		assert.Equal(10*time.Second, c.ProviderTimeout)
		assert.Equal("http://localhost:4000", c.APIURL)
		assert.Equal(BackendFile, c.SessionBackend)
		assert.Equal("info", c.LogLevel)
		assert.False(c.LogJSON)
	})
	t.Run("overrides", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := Load(WithEnvironment(testEnv(map[string]string{
			"AUTH_SCOPES":           "openid email",
			"AUTH_SIGNING_ALGS":     "RS256,ES256",
			"AUTH_REDIRECT_URL":     "http://127.0.0.1:9000/oidc/callback",
			"AUTH_CALLBACK_PATH":    "/oidc/callback",
			"AUTH_PROVIDER_TIMEOUT": "2s",
			"SESSION_BACKEND":       "redis",
			"REDIS_ADDR":            "localhost:6379",
			"LOG_LEVEL":             "debug",
			"LOG_JSON":              "true",
		})), WithDotEnv())
		require.NoError(err)
		assert.Equal([]string{"openid", "email"}, c.Scopes)
		assert.Equal([]string{"RS256", "ES256"}, c.SigningAlgs)
		assert.Equal("/oidc/callback", c.CallbackPath)
		assert.Equal(2*time.Second, c.ProviderTimeout)
		assert.Equal(BackendRedis, c.SessionBackend)
		assert.True(c.LogJSON)
	})
	t.Run("reports-every-problem", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := Load(WithEnvironment(map[string]string{
			"AUTH_CALLBACK_PATH": "callback",
			"SESSION_BACKEND":    "redis",
			"LOG_LEVEL":          "loud",
		}), WithDotEnv())
		require.Error(err)
		assert.ErrorIs(err, ErrConfiguration)

		var cfgErr *ConfigurationError
		require.True(errors.As(err, &cfgErr))
		msg := err.Error()
		for _, want := range []string{"AUTH_URL", "AUTH_CLIENT_ID", "AUTH_CALLBACK_PATH", "REDIS_ADDR", "LOG_LEVEL"} {
			assert.Contains(msg, want)
		}
		assert.GreaterOrEqual(len(cfgErr.Problems()), 5)
	})
	t.Run("invalid-values", func(t *testing.T) {
		tests := []struct {
			name string
			env  map[string]string
			want string
		}{
			{name: "issuer", env: map[string]string{"AUTH_URL": "auth.example.com"}, want: "AUTH_URL"},
			{name: "redirect-path", env: map[string]string{"AUTH_REDIRECT_URL": "http://localhost:8250/oidc/callback"}, want: "AUTH_REDIRECT_URL"},
			{name: "alg", env: map[string]string{"AUTH_SIGNING_ALGS": "HS256"}, want: "AUTH_SIGNING_ALGS"},
			{name: "timeout", env: map[string]string{"AUTH_PROVIDER_TIMEOUT": "0s"}, want: "AUTH_PROVIDER_TIMEOUT"},
			{name: "timeout-unparsable", env: map[string]string{"AUTH_PROVIDER_TIMEOUT": "soon"}, want: "AUTH_PROVIDER_TIMEOUT"},
			{name: "backend", env: map[string]string{"SESSION_BACKEND": "cookie"}, want: "SESSION_BACKEND"},
			{name: "api-url", env: map[string]string{"API_URL": "/api"}, want: "API_URL"},
		}
		for _, tt := range tests {
			tt := tt
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()
				_, err := Load(WithEnvironment(testEnv(tt.env)), WithDotEnv())
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrConfiguration)
				assert.Contains(t, err.Error(), tt.want)
			})
		}
	})
	t.Run("dotenv", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		f := filepath.Join(t.TempDir(), ".env")
		require.NoError(os.WriteFile(f, []byte("AUTH_URL=https://dotenv.example.com\nAUTH_CLIENT_ID=from-dotenv\nLOG_LEVEL=warn\n"), 0o600))

		c, err := Load(WithEnvironment(map[string]string{"AUTH_CLIENT_ID": "from-env"}), WithDotEnv(f))
		require.NoError(err)
		assert.Equal("https://dotenv.example.com", c.Issuer)
		assert.Equal("from-env", c.ClientID, "the environment wins over .env")
		assert.Equal("warn", c.LogLevel)
	})
	t.Run("missing-dotenv", func(t *testing.T) {
		_, err := Load(WithEnvironment(testEnv(nil)), WithDotEnv(filepath.Join(t.TempDir(), ".env")))
		assert.ErrorIs(t, err, ErrConfiguration)
	})
}

func TestConfig_OIDC(t *testing.T) {
	t.Parallel()
	tp := oidc.StartTestProvider(t)

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		caFile := filepath.Join(t.TempDir(), "ca.pem")
		require.NoError(os.WriteFile(caFile, []byte(tp.CACert()), 0o600))
		c, err := Load(WithEnvironment(testEnv(map[string]string{
			"AUTH_URL":                      tp.Addr(),
			"AUTH_PROVIDER_CA":              caFile,
			"AUTH_POST_LOGOUT_REDIRECT_URL": "http://localhost:8250/",
		})), WithDotEnv())
		require.NoError(err)
		oc, err := c.OIDC()
		require.NoError(err)
		assert.Equal(tp.Addr(), oc.Issuer)
		assert.Equal(tp.CACert(), oc.ProviderCA)
		assert.Equal([]oidc.Alg{oidc.RS256}, oc.SupportedSigningAlgs)
		assert.Equal("http://localhost:8250/", oc.PostLogoutRedirectURL)
	})
	t.Run("inline-ca", func(t *testing.T) {
		c := &Config{ProviderCA: tp.CACert()}
		got, err := c.providerCA()
		require.NoError(t, err)
		assert.Equal(t, tp.CACert(), got)
	})
	t.Run("missing-ca-file", func(t *testing.T) {
		c := &Config{
			Issuer: tp.Addr(), ClientID: "gladview", SigningAlgs: []string{"RS256"},
			RedirectURL: "http://localhost:8250/callback",
			ProviderCA:  filepath.Join(t.TempDir(), "missing.pem"),
		}
		_, err := c.OIDC()
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestConfig_KV(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("file", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		dir := filepath.Join(t.TempDir(), "sessions")
		c := &Config{SessionBackend: BackendFile, SessionDir: dir}
		kv, err := c.KV(ctx)
		require.NoError(err)
		fkv, ok := kv.(*storage.FileKV)
		require.True(ok)
		assert.Equal(dir, fkv.Dir())
	})
	t.Run("memory", func(t *testing.T) {
		c := &Config{SessionBackend: BackendMemory}
		kv, err := c.KV(ctx)
		require.NoError(t, err)
		assert.IsType(t, &storage.MemoryKV{}, kv)
	})
	t.Run("unknown", func(t *testing.T) {
		c := &Config{SessionBackend: "cookie"}
		_, err := c.KV(ctx)
		assert.ErrorIs(t, err, ErrConfiguration)
	})
	t.Run("redis", func(t *testing.T) {
		addr := os.Getenv("REDIS_ADDR")
		if addr == "" {
			t.Skip("REDIS_ADDR not set")
		}
		c := &Config{SessionBackend: BackendRedis, RedisAddr: addr}
		kv, err := c.KV(ctx)
		require.NoError(t, err)
		assert.IsType(t, &storage.RedisKV{}, kv)
	})
}

func TestConfig_Logger(t *testing.T) {
	t.Parallel()
	c := &Config{LogLevel: "debug"}
	assert.True(t, c.Logger("gladview").IsDebug())

	c = &Config{LogLevel: "error"}
	l := c.Logger("gladview")
	assert.True(t, l.IsError())
	assert.False(t, l.IsWarn())
}
