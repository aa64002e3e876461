// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRedirectURL = "https://example.com/callback"

func testProviderConfig(t *testing.T, tp *TestProvider, opt ...Option) *Config {
	t.Helper()
	require := require.New(t)
	clientID, clientSecret := tp.ClientCreds()
	opts := append([]Option{
		WithProviderCA(tp.CACert()),
		WithPostLogoutRedirectURL("https://example.com/"),
	}, opt...)
	c, err := NewConfig(tp.Addr(), clientID, ClientSecret(clientSecret), []Alg{tp.SigningAlg()}, testRedirectURL, opts...)
	require.NoError(err)
	return c
}

func testNewProvider(t *testing.T, tp *TestProvider, opt ...Option) *Provider {
	t.Helper()
	p, err := NewProvider(context.Background(), testProviderConfig(t, tp, opt...))
	require.NoError(t, err)
	t.Cleanup(p.Done)
	return p
}

// testAuthorize runs the front channel part of the flow against the test
// provider and returns the code and state it answered with.
func testAuthorize(t *testing.T, tp *TestProvider, p *Provider, req Request) (code, state string) {
	t.Helper()
	require := require.New(t)
	authURL, err := p.AuthURL(context.Background(), req)
	require.NoError(err)
	loc := tp.AuthorizeRedirect(t, authURL)
	require.Empty(loc.Query().Get("error"), "authorize failed: %s", loc.Query().Get("error_description"))
	return loc.Query().Get("code"), loc.Query().Get("state")
}

func TestNewProvider(t *testing.T) {
	t.Parallel()
	tp := StartTestProvider(t)

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p, err := NewProvider(context.Background(), testProviderConfig(t, tp))
		require.NoError(err)
		defer p.Done()
		assert.NotNil(p.provider)
		c, err := p.HTTPClient()
		require.NoError(err)
		assert.NotNil(c)
	})
	t.Run("nil-config", func(t *testing.T) {
		_, err := NewProvider(context.Background(), nil)
		assert.ErrorIs(t, err, ErrNilParameter)
	})
	t.Run("invalid-config", func(t *testing.T) {
		_, err := NewProvider(context.Background(), &Config{Issuer: tp.Addr()})
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
	t.Run("discovery-fails", func(t *testing.T) {
		c := testProviderConfig(t, tp)
		c.Issuer = tp.Addr() + "/not-found"
		_, err := NewProvider(context.Background(), c)
		assert.Error(t, err)
	})
	t.Run("discovery-deadline", func(t *testing.T) {
		assert := assert.New(t)
		release := make(chan struct{})
		hung := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			select {
			case <-req.Context().Done():
			case <-release:
			}
		}))
		defer hung.Close()
		defer close(release)

		c := testProviderConfig(t, tp)
		c.Issuer = hung.URL
		c.ProviderCA = ""
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		start := time.Now()
		p, err := NewProvider(ctx, c)
		assert.Nil(p)
		assert.ErrorIs(err, context.DeadlineExceeded)
		assert.Less(time.Since(start), 5*time.Second)
	})
	t.Run("nil-context", func(t *testing.T) {
		//nolint:staticcheck // a nil context is rejected
		_, err := NewProvider(nil, testProviderConfig(t, tp))
		assert.ErrorIs(t, err, ErrNilParameter)
	})
	t.Run("untrusted-ca", func(t *testing.T) {
		c := testProviderConfig(t, tp)
		c.ProviderCA = ""
		_, err := NewProvider(context.Background(), c)
		assert.Error(t, err)
	})
	t.Run("done-on-nil", func(t *testing.T) {
		var p *Provider
		assert.NotPanics(t, p.Done)
	})
}

func TestProvider_AuthURL(t *testing.T) {
	t.Parallel()
	tp := StartTestProvider(t)
	p := testNewProvider(t, tp, WithScopes("profile", "offline_access"))
	v, err := NewCodeVerifier()
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		req, err := NewRequest(time.Minute, testRedirectURL, WithPKCE(v))
		require.NoError(err)
		got, err := p.AuthURL(context.Background(), req)
		require.NoError(err)
		u, err := url.Parse(got)
		require.NoError(err)
		assert.Equal(tp.Addr()+"/authorize", u.Scheme+"://"+u.Host+u.Path)
		q := u.Query()
		assert.Equal("code", q.Get("response_type"))
		assert.Equal(p.config.ClientID, q.Get("client_id"))
		assert.Equal(testRedirectURL, q.Get("redirect_uri"))
		assert.Equal("openid profile offline_access", q.Get("scope"))
		assert.Equal(req.State(), q.Get("state"))
		assert.Equal(req.Nonce(), q.Get("nonce"))
		assert.Equal(v.Challenge(), q.Get("code_challenge"))
		assert.Equal("S256", q.Get("code_challenge_method"))
	})
	t.Run("request-scopes-override", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		req, err := NewRequest(time.Minute, testRedirectURL, WithScopes("email"))
		require.NoError(err)
		got, err := p.AuthURL(context.Background(), req)
		require.NoError(err)
		u, err := url.Parse(got)
		require.NoError(err)
		assert.Equal("openid email", u.Query().Get("scope"))
		assert.Empty(u.Query().Get("code_challenge"))
	})
	t.Run("nil-request", func(t *testing.T) {
		_, err := p.AuthURL(context.Background(), nil)
		assert.ErrorIs(t, err, ErrNilParameter)
	})
	t.Run("expired-request", func(t *testing.T) {
		req, err := NewRequest(time.Minute, testRedirectURL, WithNow(func() time.Time { return time.Now().Add(-time.Hour) }))
		require.NoError(t, err)
		// the request was created an hour ago according to its own clock,
		// reset the clock so it sees itself as expired.
		req.nowFunc = nil
		_, err = p.AuthURL(context.Background(), req)
		assert.ErrorIs(t, err, ErrExpiredRequest)
	})
}

func TestProvider_Exchange(t *testing.T) {
	t.Parallel()

	setup := func(t *testing.T) (*TestProvider, *Provider, *Req) {
		t.Helper()
		require := require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		v, err := NewCodeVerifier()
		require.NoError(err)
		req, err := NewRequest(time.Minute, testRedirectURL, WithPKCE(v))
		require.NoError(err)
		tp.SetExpectedAuthCode("test-code")
		tp.SetExpectedAuthNonce(req.Nonce())
		tp.SetPKCEVerifier(v)
		return tp, p, req
	}

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, p, req := setup(t)
		code, state := testAuthorize(t, tp, p, req)
		assert.Equal("test-code", code)
		assert.Equal(req.State(), state)

		tk, err := p.Exchange(context.Background(), req, state, code)
		require.NoError(err)
		assert.NotEmpty(tk.AccessToken())
		assert.Equal(RefreshToken("test-refresh-token"), tk.RefreshToken())
		assert.NotEmpty(tk.IDToken())
		assert.True(tk.Valid())

		var claims struct {
			Nonce   string `json:"nonce"`
			Subject string `json:"sub"`
		}
		require.NoError(tk.IDToken().Claims(&claims))
		assert.Equal(req.Nonce(), claims.Nonce)
		assert.Equal("alice@example.com", claims.Subject)
		assert.Equal(1, tp.TokenRequests("authorization_code"))

		verified, err := p.VerifyIDToken(context.Background(), tk.IDToken(), req)
		require.NoError(err)
		assert.Equal("alice@example.com", verified["sub"])
	})
	t.Run("public-client", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetClientCreds("public-client", "")
		p := testNewProvider(t, tp)
		v, err := NewCodeVerifier()
		require.NoError(err)
		req, err := NewRequest(time.Minute, testRedirectURL, WithPKCE(v))
		require.NoError(err)
		tp.SetExpectedAuthCode("test-code")
		tp.SetExpectedAuthNonce(req.Nonce())
		tp.SetPKCEVerifier(v)
		code, state := testAuthorize(t, tp, p, req)
		tk, err := p.Exchange(context.Background(), req, state, code)
		require.NoError(err)
		assert.True(tk.Valid())
	})
	t.Run("state-mismatch", func(t *testing.T) {
		_, p, req := setup(t)
		_, err := p.Exchange(context.Background(), req, "not-the-state", "test-code")
		assert.ErrorIs(t, err, ErrInvalidResponseState)
	})
	t.Run("empty-code", func(t *testing.T) {
		_, p, req := setup(t)
		_, err := p.Exchange(context.Background(), req, req.State(), "")
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
	t.Run("wrong-code", func(t *testing.T) {
		tp, p, req := setup(t)
		_, err := p.Exchange(context.Background(), req, req.State(), "guessed")
		assert.Error(t, err)
		assert.Equal(t, 1, tp.TokenRequests("authorization_code"))
	})
	t.Run("rejected-client-secret", func(t *testing.T) {
		tp, p, req := setup(t)
		id, _ := tp.ClientCreds()
		tp.SetClientCreds(id, "rotated-secret")
		_, err := p.Exchange(context.Background(), req, req.State(), "test-code")
		assert.Error(t, err)
		assert.Equal(t, 1, tp.TokenRequests("authorization_code"))
	})
	t.Run("wrong-verifier", func(t *testing.T) {
		tp, p, req := setup(t)
		other, err := NewCodeVerifier()
		require.NoError(t, err)
		tp.SetPKCEVerifier(other)
		_, err = p.Exchange(context.Background(), req, req.State(), "test-code")
		assert.Error(t, err)
	})
	t.Run("missing-id-token", func(t *testing.T) {
		tp, p, req := setup(t)
		tp.SetOmitIDTokens(true)
		_, err := p.Exchange(context.Background(), req, req.State(), "test-code")
		assert.ErrorIs(t, err, ErrMissingIDToken)
	})
	t.Run("invalid-nonce", func(t *testing.T) {
		tp, p, req := setup(t)
		tp.SetExpectedAuthNonce("some-other-nonce")
		_, err := p.Exchange(context.Background(), req, req.State(), "test-code")
		assert.ErrorIs(t, err, ErrInvalidNonce)
	})
	t.Run("expired-id-token", func(t *testing.T) {
		tp, p, req := setup(t)
		tp.SetExpectedExpiry(-time.Minute)
		_, err := p.Exchange(context.Background(), req, req.State(), "test-code")
		assert.ErrorIs(t, err, ErrIDTokenVerificationFailed)
	})
	t.Run("invalid-audience", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp, WithAudiences("gladview-api"))
		req, err := NewRequest(time.Minute, testRedirectURL)
		require.NoError(err)
		tp.SetExpectedAuthCode("test-code")
		tp.SetExpectedAuthNonce(req.Nonce())
		_, err = p.Exchange(context.Background(), req, req.State(), "test-code")
		assert.ErrorIs(err, ErrInvalidAudience)

		tp.SetCustomAudience("gladview-api")
		_, err = p.Exchange(context.Background(), req, req.State(), "test-code")
		assert.NoError(err)
	})
	t.Run("canceled-ctx", func(t *testing.T) {
		tp, p, req := setup(t)
		tp.SetTokenDelay(time.Second)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := p.Exchange(ctx, req, req.State(), "test-code")
		assert.Error(t, err)
		assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
	})
}

func TestProvider_Refresh(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		tk, err := p.Refresh(context.Background(), "test-refresh-token")
		require.NoError(err)
		assert.True(tk.Valid())
		assert.NotEmpty(tk.IDToken())
		assert.Equal(RefreshToken("test-refresh-token"), tk.RefreshToken())
		assert.Equal(1, tp.TokenRequests("refresh_token"))
	})
	t.Run("without-id-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetOmitRefreshIDTokens(true)
		p := testNewProvider(t, tp)
		tk, err := p.Refresh(context.Background(), "test-refresh-token")
		require.NoError(err)
		assert.Empty(tk.IDToken())
		assert.NotEmpty(tk.AccessToken())
	})
	t.Run("empty-refresh-token", func(t *testing.T) {
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		_, err := p.Refresh(context.Background(), "")
		assert.ErrorIs(t, err, ErrMissingRefreshToken)
		assert.Equal(t, 0, tp.TokenRequests("refresh_token"))
	})
	t.Run("rejected", func(t *testing.T) {
		tp := StartTestProvider(t)
		tp.SetDisableRefresh(true)
		p := testNewProvider(t, tp)
		_, err := p.Refresh(context.Background(), "test-refresh-token")
		assert.Error(t, err)
	})
	t.Run("unknown-refresh-token", func(t *testing.T) {
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		_, err := p.Refresh(context.Background(), "stolen")
		assert.Error(t, err)
	})
}

func TestProvider_EndSessionURL(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		got, err := p.EndSessionURL("raw-id-token")
		require.NoError(err)
		assert.True(strings.HasPrefix(got, tp.Addr()+"/logout?"))
		u, err := url.Parse(got)
		require.NoError(err)
		assert.Equal("raw-id-token", u.Query().Get("id_token_hint"))
		assert.Equal(p.config.ClientID, u.Query().Get("client_id"))
		assert.Equal("https://example.com/", u.Query().Get("post_logout_redirect_uri"))
	})
	t.Run("no-hint", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		got, err := p.EndSessionURL("")
		require.NoError(err)
		u, err := url.Parse(got)
		require.NoError(err)
		assert.False(u.Query().Has("id_token_hint"))
	})
	t.Run("unsupported", func(t *testing.T) {
		tp := StartTestProvider(t)
		tp.SetDisableEndSession(true)
		p := testNewProvider(t, tp)
		_, err := p.EndSessionURL("raw-id-token")
		assert.ErrorIs(t, err, ErrUnsupported)
	})
}

func TestProvider_UserInfo(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		tk, err := p.Refresh(context.Background(), "test-refresh-token")
		require.NoError(err)
		var claims map[string]interface{}
		require.NoError(p.UserInfo(context.Background(), tk.StaticTokenSource(), "alice@example.com", &claims))
		assert.Equal("alice", claims["preferred_username"])
	})
	t.Run("subject-mismatch", func(t *testing.T) {
		require := require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		tk, err := p.Refresh(context.Background(), "test-refresh-token")
		require.NoError(err)
		var claims map[string]interface{}
		err = p.UserInfo(context.Background(), tk.StaticTokenSource(), "bob@example.com", &claims)
		assert.ErrorIs(t, err, ErrUserInfoFailed)
	})
	t.Run("disabled", func(t *testing.T) {
		require := require.New(t)
		tp := StartTestProvider(t)
		tp.SetDisableUserInfo(true)
		p := testNewProvider(t, tp)
		tk, err := p.Refresh(context.Background(), "test-refresh-token")
		require.NoError(err)
		var claims map[string]interface{}
		err = p.UserInfo(context.Background(), tk.StaticTokenSource(), "", &claims)
		assert.ErrorIs(t, err, ErrUserInfoFailed)
	})
	t.Run("nil-params", func(t *testing.T) {
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		var claims map[string]interface{}
		assert.ErrorIs(t, p.UserInfo(context.Background(), nil, "", &claims), ErrNilParameter)
	})
}
