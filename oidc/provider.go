// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"

	"github.com/hashicorp/cap-session/oidc/internal/strutils"
)

// Provider provides integration with an OIDC provider.
//
// It's primary capabilities include:
//   - Kicking off a user authentication via either the authorization code flow
//     (with optional PKCE) and returning an URL for the initial user redirect
//   - The authorization code exchange
//   - Non-interactive renewal with a refresh_token
//   - Building the RP-initiated logout URL
//   - Verifying an id_token issued by a provider with its public keys (the
//     signature check itself is done by github.com/coreos/go-oidc)
//   - Retrieving a user's OAuth claims from the provider's UserInfo endpoint
type Provider struct {
	config   *Config
	provider *oidc.Provider

	// client uses a pooled transport that uses the config's ProviderCA if
	// provided, otherwise it will use the installed system CA chain.  This
	// client's idle connections are closed in Provider.Done()
	client *http.Client

	mu sync.Mutex

	// backgroundCtx is the context used by the provider for background
	// activities like: refreshing JWKs Key sets, refreshing tokens, etc
	backgroundCtx context.Context

	// backgroundCtxCancel is used to cancel any background activities running
	// in spawned go routines.
	backgroundCtxCancel context.CancelFunc
}

// NewProvider creates and initializes a Provider.  Intializing the provider,
// includes making an http request to the provider's issuer which is bounded by
// ctx.  When ctx ends before discovery completes, the returned error wraps
// ctx.Err(), so a deadline can be detected with errors.Is and
// context.DeadlineExceeded.
//
// See Provider.Done() which must be called to release provider resources.
func NewProvider(ctx context.Context, c *Config) (*Provider, error) {
	const op = "NewProvider"
	if ctx == nil {
		return nil, fmt.Errorf("%s: context is nil: %w", op, ErrNilParameter)
	}
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	// initializing the Provider with it's background ctx/cancel will
	// allow us to use p.Done() to release any resources when returning errors
	// from this function.
	p := &Provider{
		config:              c,
		backgroundCtx:       bgCtx,
		backgroundCtxCancel: cancel,
	}

	// discovery is bound to the caller's ctx.  go-oidc only keeps the http
	// client from it for the key set, not its deadline.
	oidcCtx, err := p.HTTPClientContext(ctx)
	if err != nil {
		p.Done() // release the backgroundCtxCancel resources
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}

	provider, err := oidc.NewProvider(oidcCtx, c.Issuer) // makes http req to issuer for discovery
	if err != nil {
		p.Done() // release the backgroundCtxCancel resources
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: discovery did not complete: %w: %w", op, ctxErr, err)
		}
		return nil, fmt.Errorf("%s: unable to create provider: %w", op, err)
	}
	p.provider = provider

	return p, nil
}

// Done with the provider's background resources and must be called for every
// Provider created
func (p *Provider) Done() {
	// checking for nil here prevents a panic when developers neglect to check
	// the for an error before deferring a call to p.Done():
	// p, err := NewProvider(...)
	// defer p.Done()
	// if err != nil { ... }
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backgroundCtxCancel != nil {
		p.backgroundCtxCancel()
		p.backgroundCtxCancel = nil
	}

	// release the http.Client's pooled transport resources.
	if p.client != nil {
		p.client.CloseIdleConnections()
	}
}

// RedirectURL returns the redirect URL of the provider's config.
func (p *Provider) RedirectURL() string {
	if p == nil || p.config == nil {
		return ""
	}
	return p.config.RedirectURL
}

// AuthURL will generate a URL the caller can use to kick off an OIDC
// authorization code flow with an IdP.  The redirect URL used is the
// oidcRequest's RedirectURL().
//
// See NewRequest() to create an oidc Request with a valid state and Nonce that
// will uniquely identify the user's authentication attempt throughout the flow.
func (p *Provider) AuthURL(ctx context.Context, oidcRequest Request) (string, error) {
	const op = "Provider.AuthURL"
	if p.config == nil || p.provider == nil {
		return "", fmt.Errorf("%s: provider is not initialized: %w", op, ErrNilParameter)
	}
	if oidcRequest == nil {
		return "", fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	if oidcRequest.State() == "" {
		return "", fmt.Errorf("%s: request state is empty: %w", op, ErrInvalidParameter)
	}
	if oidcRequest.Nonce() == "" {
		return "", fmt.Errorf("%s: request nonce is empty: %w", op, ErrInvalidParameter)
	}
	if oidcRequest.State() == oidcRequest.Nonce() {
		return "", fmt.Errorf("%s: request state and nonce cannot be equal: %w", op, ErrInvalidParameter)
	}
	if oidcRequest.IsExpired() {
		return "", fmt.Errorf("%s: request is expired: %w", op, ErrExpiredRequest)
	}

	oauth2Config := p.oauth2Config(oidcRequest.RedirectURL(), oidcRequest.Scopes())
	authCodeOpts := []oauth2.AuthCodeOption{
		oidc.Nonce(oidcRequest.Nonce()),
	}
	if v := oidcRequest.PKCEVerifier(); v != nil {
		authCodeOpts = append(authCodeOpts, oauth2.S256ChallengeOption(v.Verifier()))
	}
	return oauth2Config.AuthCodeURL(oidcRequest.State(), authCodeOpts...), nil
}

// Exchange will request a token from the oidc token endpoint, using the
// authorizationCode and authorizationState it received in an earlier successful
// oidc authentication response.
//
// Exchange will use PKCE when the user's oidc Request specifies its use.
//
// It will also validate the authorizationState it receives against the
// existing Request for the user's oidc authentication flow.
//
// On success, the Token returned will include an IDToken and may
// include an AccessToken and RefreshToken.
func (p *Provider) Exchange(ctx context.Context, oidcRequest Request, authorizationState string, authorizationCode string) (*Tk, error) {
	const op = "Provider.Exchange"
	if p.config == nil || p.provider == nil {
		return nil, fmt.Errorf("%s: provider is not initialized: %w", op, ErrNilParameter)
	}
	if oidcRequest == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	if oidcRequest.State() != authorizationState {
		return nil, fmt.Errorf("%s: authentication request state and authorization state are not equal: %w", op, ErrInvalidResponseState)
	}
	if oidcRequest.IsExpired() {
		return nil, fmt.Errorf("%s: authentication request is expired: %w", op, ErrExpiredRequest)
	}
	if authorizationCode == "" {
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	}

	oidcCtx, err := p.HTTPClientContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}

	var authCodeOpts []oauth2.AuthCodeOption
	if v := oidcRequest.PKCEVerifier(); v != nil {
		authCodeOpts = append(authCodeOpts, oauth2.VerifierOption(v.Verifier()))
	}
	oauth2Config := p.oauth2Config(oidcRequest.RedirectURL(), oidcRequest.Scopes())
	oauth2Token, err := oauth2Config.Exchange(oidcCtx, authorizationCode, authCodeOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to exchange auth code with provider: %w", op, err)
	}

	idToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || idToken == "" {
		return nil, fmt.Errorf("%s: id_token is missing from auth code exchange: %w", op, ErrMissingIDToken)
	}
	t, err := NewToken(IDToken(idToken), oauth2Token, WithNow(p.config.NowFunc))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create new id_token: %w", op, err)
	}
	verified, err := p.verifyIDToken(ctx, t.IDToken(), oidcRequest.Nonce(), oidcRequest.Audiences())
	if err != nil {
		return nil, fmt.Errorf("%s: id_token failed verification: %w", op, err)
	}
	if verified.AccessTokenHash != "" {
		if err := verified.VerifyAccessToken(string(t.AccessToken())); err != nil {
			return nil, fmt.Errorf("%s: access_token failed verification: %w", op, ErrIDTokenVerificationFailed)
		}
	}
	if t.IsExpired() {
		return nil, fmt.Errorf("%s: %w", op, ErrExpiredToken)
	}
	return t, nil
}

// Refresh performs a non-interactive renewal using the refresh_token grant.
// Providers are not required to return a new id_token or refresh_token; when
// the refresh_token is omitted from the response the one provided is retained.
// Any id_token returned is verified (without a nonce check, see: OIDC Core
// 12.2).
func (p *Provider) Refresh(ctx context.Context, rt RefreshToken) (*Tk, error) {
	const op = "Provider.Refresh"
	if p.config == nil || p.provider == nil {
		return nil, fmt.Errorf("%s: provider is not initialized: %w", op, ErrNilParameter)
	}
	if rt == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingRefreshToken)
	}
	oidcCtx, err := p.HTTPClientContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	oauth2Config := p.oauth2Config(p.config.RedirectURL, nil)
	// an empty access_token forces the token source to use the refresh_token
	oauth2Token, err := oauth2Config.TokenSource(oidcCtx, &oauth2.Token{RefreshToken: string(rt)}).Token()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to refresh token with provider: %w", op, err)
	}
	var idToken IDToken
	if raw, ok := oauth2Token.Extra("id_token").(string); ok && raw != "" {
		idToken = IDToken(raw)
		if _, err := p.verifyIDToken(ctx, idToken, "", nil); err != nil {
			return nil, fmt.Errorf("%s: id_token failed verification: %w", op, err)
		}
	}
	t, err := NewToken(idToken, oauth2Token, WithNow(p.config.NowFunc))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if t.IsExpired() {
		return nil, fmt.Errorf("%s: %w", op, ErrExpiredToken)
	}
	return t, nil
}

// VerifyIDToken will verify the inbound IDToken and return its claims.
// It verifies:
//   - signature (using the provider's published keys)
//   - expiration
//   - issuer
//   - audience (the config's client ID and optional audiences)
//   - nonce (if one is provided)
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#IDTokenValidation
func (p *Provider) VerifyIDToken(ctx context.Context, t IDToken, oidcRequest Request) (map[string]interface{}, error) {
	const op = "Provider.VerifyIDToken"
	if oidcRequest == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	if oidcRequest.Nonce() == "" {
		return nil, fmt.Errorf("%s: nonce is empty: %w", op, ErrInvalidParameter)
	}
	verified, err := p.verifyIDToken(ctx, t, oidcRequest.Nonce(), oidcRequest.Audiences())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var claims map[string]interface{}
	if err := verified.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%s: unable to get id_token claims: %w", op, err)
	}
	return claims, nil
}

func (p *Provider) verifyIDToken(ctx context.Context, t IDToken, nonce string, audiences []string) (*oidc.IDToken, error) {
	const op = "Provider.verifyIDToken"
	if t == "" {
		return nil, fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	if p.config == nil || p.provider == nil {
		return nil, fmt.Errorf("%s: provider is not initialized: %w", op, ErrNilParameter)
	}
	algs := make([]string, 0, len(p.config.SupportedSigningAlgs))
	for _, a := range p.config.SupportedSigningAlgs {
		algs = append(algs, string(a))
	}
	verifier := p.provider.Verifier(&oidc.Config{
		ClientID:             p.config.ClientID,
		SupportedSigningAlgs: algs,
		Now:                  p.config.Now,
	})
	oidcCtx, err := p.HTTPClientContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	verified, err := verifier.Verify(oidcCtx, string(t))
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, err, ErrIDTokenVerificationFailed)
	}
	if nonce != "" && verified.Nonce != nonce {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidNonce)
	}
	if len(audiences) == 0 {
		audiences = p.config.Audiences
	}
	if len(audiences) > 0 {
		var found bool
		for _, v := range audiences {
			if strutils.StrListContains(verified.Audience, v) {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidAudience)
		}
	}
	return verified, nil
}

// EndSessionURL builds the provider's RP-initiated logout URL.  The
// idTokenHint is optional but recommended.  The provider must advertise an
// end_session_endpoint in its discovery document, otherwise ErrUnsupported is
// returned.
//
// See: https://openid.net/specs/openid-connect-rpinitiated-1_0.html
func (p *Provider) EndSessionURL(idTokenHint IDToken) (string, error) {
	const op = "Provider.EndSessionURL"
	if p.config == nil || p.provider == nil {
		return "", fmt.Errorf("%s: provider is not initialized: %w", op, ErrNilParameter)
	}
	var discovery struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := p.provider.Claims(&discovery); err != nil {
		return "", fmt.Errorf("%s: unable to read discovery document: %w", op, err)
	}
	if discovery.EndSessionEndpoint == "" {
		return "", fmt.Errorf("%s: end_session_endpoint not advertised: %w", op, ErrUnsupported)
	}
	u, err := url.Parse(discovery.EndSessionEndpoint)
	if err != nil {
		return "", fmt.Errorf("%s: invalid end_session_endpoint %q: %w", op, discovery.EndSessionEndpoint, err)
	}
	q := u.Query()
	q.Set("client_id", p.config.ClientID)
	if idTokenHint != "" {
		q.Set("id_token_hint", string(idTokenHint))
	}
	if p.config.PostLogoutRedirectURL != "" {
		q.Set("post_logout_redirect_uri", p.config.PostLogoutRedirectURL)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// UserInfo gets the UserInfo claims from the provider using the token produced
// by the tokenSource.  When validSubject is not empty, the UserInfo "sub"
// claim must match it.
func (p *Provider) UserInfo(ctx context.Context, tokenSource oauth2.TokenSource, validSubject string, claims interface{}) error {
	const op = "Provider.UserInfo"
	if p.config == nil || p.provider == nil {
		return fmt.Errorf("%s: provider is not initialized: %w", op, ErrNilParameter)
	}
	if tokenSource == nil {
		return fmt.Errorf("%s: token source is nil: %w", op, ErrNilParameter)
	}
	if claims == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	oidcCtx, err := p.HTTPClientContext(ctx)
	if err != nil {
		return fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	userinfo, err := p.provider.UserInfo(oidcCtx, tokenSource)
	if err != nil {
		return fmt.Errorf("%s: provider UserInfo request failed (%s): %w", op, err, ErrUserInfoFailed)
	}
	if validSubject != "" && userinfo.Subject != validSubject {
		return fmt.Errorf("%s: subject %q does not match %q: %w", op, userinfo.Subject, validSubject, ErrUserInfoFailed)
	}
	if err := userinfo.Claims(claims); err != nil {
		return fmt.Errorf("%s: failed to get UserInfo claims: %w", op, err)
	}
	return nil
}

// HTTPClient returns an http.Client for the provider. The returned client uses
// a pooled transport (so it can reuse connections) that uses the provider's
// config CA certificate PEM if provided, otherwise it will use the installed
// system CA chain.  This client's idle connections are closed in
// Provider.Done()
func (p *Provider) HTTPClient() (*http.Client, error) {
	const op = "Provider.HTTPClient"
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	if p.config == nil {
		return nil, fmt.Errorf("%s: the provider's config is nil %w", op, ErrNilParameter)
	}

	// since it's called by the provider factory, we need to check that the
	// config isn't nil
	tr := cleanhttp.DefaultPooledTransport()
	if p.config.ProviderCA != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(p.config.ProviderCA)); !ok {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCACert)
		}
		tr.TLSClientConfig = &tls.Config{
			RootCAs: certPool,
		}
	}
	p.client = &http.Client{
		Transport: tr,
	}
	return p.client, nil
}

// HTTPClientContext returns a new Context that carries the provider's HTTP
// client. This method sets the same context key used by the
// github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the returned
// context works for those packages as well.
func (p *Provider) HTTPClientContext(ctx context.Context) (context.Context, error) {
	const op = "Provider.HTTPClientContext"
	c, err := p.HTTPClient()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// simple to implement as a wrapper for the coreos package
	return oidc.ClientContext(ctx, c), nil
}

// oauth2Config builds the oauth2 client config for one interaction.  Public
// clients (no secret) send their client_id in the request body, confidential
// clients use HTTP basic auth.  The style is never auto detected: detection
// repeats a rejected token request, and an authorization code must not be
// sent twice.
func (p *Provider) oauth2Config(redirectURL string, requestScopes []string) *oauth2.Config {
	scopes := requestScopes
	if len(scopes) == 0 {
		// Add the "openid" scope, which is a required scope for oidc flows
		scopes = append([]string{oidc.ScopeOpenID}, p.config.Scopes...)
	}
	endpoint := p.provider.Endpoint()
	endpoint.AuthStyle = oauth2.AuthStyleInHeader
	if p.config.ClientSecret == "" {
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}
	return &oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: string(p.config.ClientSecret),
		RedirectURL:  redirectURL,
		Endpoint:     endpoint,
		Scopes:       strutils.RemoveDuplicatesStable(scopes, false),
	}
}
