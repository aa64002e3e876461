// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package usermanager

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"

	"github.com/hashicorp/cap-session/lifecycle"
	"github.com/hashicorp/cap-session/oidc"
	"github.com/hashicorp/cap-session/session"
)

// Manager is the application's OIDC client.
type Manager struct {
	provider    *oidc.Provider
	store       *session.Store
	nav         lifecycle.Navigator
	redirectURL string
	scopes      []string
	timeout     time.Duration
	requestTTL  time.Duration
	logger      hclog.Logger
}

var _ lifecycle.IdentityProvider = (*Manager)(nil)

// NewManager creates a Manager.
//
// Supported options: WithLogger, WithTimeout, WithRequestTTL,
// WithRedirectURL, WithScopes
func NewManager(p *oidc.Provider, store *session.Store, nav lifecycle.Navigator, opt ...Option) (*Manager, error) {
	const op = "usermanager.NewManager"
	switch {
	case p == nil:
		return nil, fmt.Errorf("%s: provider is nil: %w", op, ErrNilParameter)
	case store == nil:
		return nil, fmt.Errorf("%s: store is nil: %w", op, ErrNilParameter)
	case nav == nil:
		return nil, fmt.Errorf("%s: navigator is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts(opt...)
	redirectURL := opts.withRedirectURL
	if redirectURL == "" {
		redirectURL = p.RedirectURL()
	}
	if redirectURL == "" {
		return nil, fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	return &Manager{
		provider:    p,
		store:       store,
		nav:         nav,
		redirectURL: redirectURL,
		scopes:      opts.withScopes,
		timeout:     opts.withTimeout,
		requestTTL:  opts.withRequestTTL,
		logger:      opts.withLogger,
	}, nil
}

// bounded returns a context that is done after the manager's timeout.
func (m *Manager) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.timeout)
}

// providerErr reports a deadline of the bounded ctx as
// lifecycle.ErrProviderTimeout.
func (m *Manager) providerErr(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: no response within %s: %w: %w", op, m.timeout, lifecycle.ErrProviderTimeout, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// CurrentSession implements lifecycle.IdentityProvider.
func (m *Manager) CurrentSession(ctx context.Context) (*session.Session, error) {
	const op = "Manager.CurrentSession"
	s, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

// CompleteCallback implements lifecycle.IdentityProvider.  The authorization
// response is read from the callback's query, or from its fragment when the
// query has none.  The pending request for the response's state is consumed
// even when the provider answered with an error.
func (m *Manager) CompleteCallback(ctx context.Context, callback *url.URL) (*lifecycle.SigninResponse, error) {
	const op = "Manager.CompleteCallback"
	if callback == nil {
		return nil, fmt.Errorf("%s: callback is nil: %w", op, ErrNilParameter)
	}
	params := callback.Query()
	if params.Get("state") == "" && callback.Fragment != "" {
		if fp, err := url.ParseQuery(callback.Fragment); err == nil {
			params = fp
		}
	}
	state, code := params.Get("state"), params.Get("code")
	if e := params.Get("error"); e != "" {
		if state != "" {
			if _, err := m.store.TakeRequest(ctx, state); err != nil {
				m.logger.Debug("no pending request for error response", "op", op, "error", err)
			}
		}
		return nil, fmt.Errorf("%s: %s: %s: %w", op, e, params.Get("error_description"), ErrAuthenticationResponse)
	}
	if state == "" {
		return nil, fmt.Errorf("%s: missing state: %w", op, ErrInvalidParameter)
	}

	req, err := m.store.TakeRequest(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if code == "" {
		return nil, fmt.Errorf("%s: missing code: %w", op, ErrInvalidParameter)
	}

	bctx, cancel := m.bounded(ctx)
	defer cancel()
	tk, err := m.provider.Exchange(bctx, req, state, code)
	if err != nil {
		return nil, m.providerErr(bctx, op, err)
	}
	s, err := m.newSession(tk, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := m.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.logger.Debug("login completed", "op", op, "username", s.Username, "expires_at", s.ExpiresAt)
	return &lifecycle.SigninResponse{Session: s, ReturnTo: req.ReturnTo()}, nil
}

// SilentRenew implements lifecycle.IdentityProvider with the refresh_token
// grant.
func (m *Manager) SilentRenew(ctx context.Context) (*session.Session, error) {
	const op = "Manager.SilentRenew"
	prev, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if prev == nil || prev.RefreshToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNoRefreshToken)
	}

	bctx, cancel := m.bounded(ctx)
	defer cancel()
	tk, err := m.provider.Refresh(bctx, oidc.RefreshToken(prev.RefreshToken))
	if err != nil {
		return nil, m.providerErr(bctx, op, err)
	}
	s, err := m.newSession(tk, prev)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := m.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.logger.Debug("session renewed", "op", op, "username", s.Username, "expires_at", s.ExpiresAt)
	return s, nil
}

// RedirectToLogin implements lifecycle.IdentityProvider.  The login request
// (state, nonce, PKCE verifier and returnTo) is persisted before the user
// agent leaves.
func (m *Manager) RedirectToLogin(ctx context.Context, returnTo string) error {
	const op = "Manager.RedirectToLogin"
	v, err := oidc.NewCodeVerifier()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	reqOpts := []oidc.Option{
		oidc.WithPKCE(v),
		oidc.WithReturnTo(returnTo),
	}
	if len(m.scopes) > 0 {
		reqOpts = append(reqOpts, oidc.WithScopes(m.scopes...))
	}
	req, err := oidc.NewRequest(m.requestTTL, m.redirectURL, reqOpts...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	authURL, err := m.provider.AuthURL(ctx, req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := m.store.SaveRequest(ctx, req); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	bctx, cancel := m.bounded(ctx)
	defer cancel()
	if err := m.nav.Navigate(bctx, authURL); err != nil {
		return m.providerErr(bctx, op, err)
	}
	m.logger.Debug("redirected to login", "op", op, "return_to", req.ReturnTo())
	return nil
}

// RedirectToLogout implements lifecycle.IdentityProvider.  The stored session
// is cleared only after the user agent was sent to the provider, so a failed
// logout leaves it untouched.
func (m *Manager) RedirectToLogout(ctx context.Context) error {
	const op = "Manager.RedirectToLogout"
	prev, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	var hint oidc.IDToken
	if prev != nil {
		hint = oidc.IDToken(prev.IDToken)
	}
	logoutURL, err := m.provider.EndSessionURL(hint)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	bctx, cancel := m.bounded(ctx)
	defer cancel()
	if err := m.nav.Navigate(bctx, logoutURL); err != nil {
		return m.providerErr(bctx, op, err)
	}
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.logger.Debug("redirected to logout", "op", op)
	return nil
}

// UserInfo returns the provider's UserInfo claims for the stored session.
func (m *Manager) UserInfo(ctx context.Context) (map[string]interface{}, error) {
	const op = "Manager.UserInfo"
	s, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if s == nil || s.AccessToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNoSession)
	}
	var subject string
	if s.IDToken != "" {
		var idClaims struct {
			Subject string `json:"sub"`
		}
		if err := oidc.IDToken(s.IDToken).Claims(&idClaims); err == nil {
			subject = idClaims.Subject
		}
	}
	bctx, cancel := m.bounded(ctx)
	defer cancel()
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: s.AccessToken, TokenType: "Bearer"})
	var claims map[string]interface{}
	if err := m.provider.UserInfo(bctx, ts, subject, &claims); err != nil {
		return nil, m.providerErr(bctx, op, err)
	}
	return claims, nil
}

// newSession builds a Session from a provider token.  Values the token doesn't
// carry (a refresh response may omit the id_token and refresh_token) are
// carried over from prev.  The expiry is required and kept in UTC.
func (m *Manager) newSession(tk *oidc.Tk, prev *session.Session) (*session.Session, error) {
	const op = "Manager.newSession"
	if tk == nil {
		return nil, fmt.Errorf("%s: token is nil: %w", op, ErrNilParameter)
	}
	s := &session.Session{
		AccessToken:  string(tk.AccessToken()),
		RefreshToken: string(tk.RefreshToken()),
		IDToken:      string(tk.IDToken()),
		ExpiresAt:    tk.Expiry(),
	}
	if prev != nil {
		if s.RefreshToken == "" {
			s.RefreshToken = prev.RefreshToken
		}
		if s.IDToken == "" {
			s.IDToken = prev.IDToken
		}
		s.Username = prev.Username
	}

	var idClaims usernameClaims
	if s.IDToken != "" {
		if err := oidc.IDToken(s.IDToken).Claims(&idClaims); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	atClaims := accessTokenClaims(s.AccessToken)
	if u := idClaims.username(); u != "" {
		s.Username = u
	} else if u := atClaims.username(); u != "" && s.Username == "" {
		s.Username = u
	}
	if s.ExpiresAt.IsZero() && atClaims.exp != nil {
		s.ExpiresAt = atClaims.exp.Time
	}
	if s.ExpiresAt.IsZero() {
		return nil, fmt.Errorf("%s: neither expires_in nor an exp claim: %w", op, ErrNoExpiry)
	}
	s.ExpiresAt = s.ExpiresAt.UTC()
	return s, nil
}

type usernameClaims struct {
	PreferredUsername string `json:"preferred_username"`
	Subject           string `json:"sub"`
	exp               *jwt.NumericDate
}

func (c usernameClaims) username() string {
	if c.PreferredUsername != "" {
		return c.PreferredUsername
	}
	return c.Subject
}

// accessTokenClaims reads the claims of a JWT access token without verifying
// it.  Opaque access tokens yield empty claims.
func accessTokenClaims(raw string) usernameClaims {
	var c usernameClaims
	tk, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return c
	}
	claims, ok := tk.Claims.(jwt.MapClaims)
	if !ok {
		return c
	}
	c.PreferredUsername, _ = claims["preferred_username"].(string)
	c.Subject, _ = claims.GetSubject()
	if exp, err := claims.GetExpirationTime(); err == nil {
		c.exp = exp
	}
	return c
}
