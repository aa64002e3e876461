// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"

	"github.com/hashicorp/cap-session/oidc/internal/strutils"
)

// TestProvider is a local http server that supports test provider capabilities
// which makes writing tests much easier.  Much of this TestProvider
// design/implementation comes from Consul's oauthtest package. A big thanks to
// the original package's contributors.
//
// It's important to remember that the TestProvider is stateful (see any of its
// receiver functions that begin with Set*).
//
// Once you've started a TestProvider http server with StartTestProvider(...),
// the following test endpoints are supported:
//
//   - GET /.well-known/openid-configuration    OIDC Discovery
//
//   - GET /.well-known/jwks.json               JWKs used to verify issued JWT tokens
//
//   - GET /authorize                           OIDC authorization, redirects to
//     the redirect_uri with the expected code and the request's state
//
//   - POST /token                              OIDC token endpoint, supports the
//     authorization_code and refresh_token grants
//
//   - GET /userinfo                            OAuth UserInfo endpoint
//
//   - GET /logout                              RP-initiated logout, redirects to
//     the post_logout_redirect_uri
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	jwks                *jose.JSONWebKeySet
	allowedRedirectURIs []string
	replySubject        string
	replyUserinfo       map[string]interface{}
	replyExpiry         time.Duration

	mu                   sync.Mutex
	clientID             string
	clientSecret         string
	expectedAuthCode     string
	expectedAuthNonce    string
	expectedRefreshToken string
	pkceVerifier         CodeVerifier
	customClaims         map[string]interface{}
	customAudiences      []string
	omitIDToken          bool
	omitRefreshIDToken   bool
	omitExpiresIn        bool
	opaqueAccessToken    bool
	disableUserInfo      bool
	disableEndSession    bool
	disableRefresh       bool
	tokenDelay           time.Duration
	tokenRequests        map[string]int
	nowFunc              func() time.Time

	publicKey  crypto.PublicKey
	privateKey crypto.PrivateKey
	alg        Alg
	keyID      string

	t *testing.T

	client *http.Client
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
	if p.client != nil {
		p.client.CloseIdleConnections()
	}
}

// StartTestProvider creates a disposable TestProvider.  The returned provider
// has client credentials of "test-client-id"/"test-client-secret", signs
// tokens with a generated ES256 key, allows the "https://example.com/callback"
// redirect URI and issues a refresh token of "test-refresh-token".
//
// Supported options: WithTestPort
func StartTestProvider(t *testing.T, opt ...Option) *TestProvider {
	t.Helper()
	require := require.New(t)
	opts := getTestProviderOpts(opt...)

	p := &TestProvider{
		t:                    t,
		clientID:             "test-client-id",
		clientSecret:         "test-client-secret",
		expectedRefreshToken: "test-refresh-token",
		allowedRedirectURIs: []string{
			"https://example.com/callback",
		},
		replySubject: "alice@example.com",
		replyUserinfo: map[string]interface{}{
			"sub":                "alice@example.com",
			"preferred_username": "alice",
			"email":              "alice@example.com",
		},
		replyExpiry:   5 * time.Minute,
		tokenRequests: map[string]int{},
		alg:           ES256,
		keyID:         "test-key-id",
	}
	p.publicKey, p.privateKey = TestGenerateKeys(t)
	p.jwks = &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       p.publicKey,
				KeyID:     p.keyID,
				Algorithm: string(p.alg),
				Use:       "sig",
			},
		},
	}

	p.httpServer = httptestNewUnstartedServerWithPort(t, p, opts.withPort)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.Stop)

	cert := p.httpServer.Certificate()

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(err)
	p.caCert = buf.String()
	p.client = p.httpServer.Client()

	return p
}

// testProviderOptions is the set of available options for TestProvider
// functions
type testProviderOptions struct {
	withPort int
}

// testProviderDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func testProviderDefaults() testProviderOptions {
	return testProviderOptions{}
}

// getTestProviderOpts gets the test provider defaults and applies the opt
// overrides passed in
func getTestProviderOpts(opt ...Option) testProviderOptions {
	opts := testProviderDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithTestPort provides an optional port for the test provider.
func WithTestPort(port int) Option {
	return func(o interface{}) {
		if o, ok := o.(*testProviderOptions); ok {
			o.withPort = port
		}
	}
}

// HTTPClient returns an http.Client configured to trust the test provider's
// TLS certificate.
func (p *TestProvider) HTTPClient() *http.Client { return p.client }

// Addr returns the current base URL for the test provider's running webserver,
// which can be used as an OIDC issuer for discovery.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// SigningAlg returns the algorithm used to sign issued JWTs.
func (p *TestProvider) SigningAlg() Alg { return p.alg }

// SigningKeys returns the test provider's keys used to sign JWTs.
func (p *TestProvider) SigningKeys() (crypto.PublicKey, crypto.PrivateKey) {
	return p.publicKey, p.privateKey
}

// ClientCreds returns the client ID and secret the provider expects.
func (p *TestProvider) ClientCreds() (clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientID, p.clientSecret
}

// SetClientCreds is for configuring the client information required for the
// OIDC workflows.  An empty clientSecret configures a public client.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the auth code to return from /authorize and
// the allowed auth code for /token.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetExpectedAuthNonce configures the nonce value required for /authorize and
// embedded in the id_token issued by /token.
func (p *TestProvider) SetExpectedAuthNonce(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthNonce = nonce
}

// SetPKCEVerifier configures the PKCE code_verifier required by /token.
func (p *TestProvider) SetPKCEVerifier(verifier CodeVerifier) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pkceVerifier = verifier
}

// SetExpectedRefreshToken configures the refresh_token issued by the
// authorization_code grant and accepted by the refresh_token grant.
func (p *TestProvider) SetExpectedRefreshToken(rt string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedRefreshToken = rt
}

// SetExpectedExpiry configures the lifetime of issued tokens.  A negative
// duration issues already expired tokens.
func (p *TestProvider) SetExpectedExpiry(exp time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyExpiry = exp
}

// SetAllowedRedirectURIs allows you to configure the allowed redirect URIs for
// the OIDC workflow.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetCustomClaims lets you set claims to return in the id_token and
// access_token issued by the provider.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetCustomAudience configures what audience value to embed in the JWT issued
// by the OIDC workflow.
func (p *TestProvider) SetCustomAudience(customAudiences ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudiences = customAudiences
}

// SetSubject configures the "sub" claim of issued tokens and userinfo.
func (p *TestProvider) SetSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replySubject = sub
	p.replyUserinfo["sub"] = sub
}

// SetUserInfoReply sets the UserInfo endpoint response.
func (p *TestProvider) SetUserInfoReply(resp map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyUserinfo = resp
}

// SetOmitIDTokens forces an error state where the /token endpoint does not
// return an id_token for the authorization_code grant.
func (p *TestProvider) SetOmitIDTokens(omitIDTokens bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = omitIDTokens
}

// SetOmitRefreshIDTokens stops the refresh_token grant from returning an
// id_token.
func (p *TestProvider) SetOmitRefreshIDTokens(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitRefreshIDToken = omit
}

// SetOmitExpiresIn stops the /token endpoint from returning expires_in.
func (p *TestProvider) SetOmitExpiresIn(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitExpiresIn = omit
}

// SetOpaqueAccessToken makes the /token endpoint issue access tokens which
// aren't JWTs, so they carry no claims.
func (p *TestProvider) SetOpaqueAccessToken(opaque bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opaqueAccessToken = opaque
}

// SetDisableUserInfo makes the userinfo endpoint return 404 and omits it from
// the discovery config.
func (p *TestProvider) SetDisableUserInfo(disable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = disable
}

// SetDisableEndSession omits the end_session_endpoint from the discovery
// config and makes /logout return 404.
func (p *TestProvider) SetDisableEndSession(disable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableEndSession = disable
}

// SetDisableRefresh makes the refresh_token grant fail with invalid_grant.
func (p *TestProvider) SetDisableRefresh(disable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableRefresh = disable
}

// SetTokenDelay delays every /token response.
func (p *TestProvider) SetTokenDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenDelay = d
}

// SetNowFunc configures how the test provider will determine the current time.
func (p *TestProvider) SetNowFunc(n func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nowFunc = n
}

// TokenRequests returns how many /token requests were received for the grant
// type.
func (p *TestProvider) TokenRequests(grantType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests[grantType]
}

func (p *TestProvider) now() time.Time {
	if p.nowFunc != nil {
		return p.nowFunc()
	}
	return time.Now()
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, redirectURL, state, errorCode, errorMessage string) {
	qv := url.Values{}
	qv.Set("state", state)
	qv.Set("error", errorCode)
	if errorMessage != "" {
		qv.Set("error_description", errorMessage)
	}
	http.Redirect(w, req, redirectURL+"?"+qv.Encode(), http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}

	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// issueJWT must be called with p.mu held.
func (p *TestProvider) issueJWT(nonce string) (string, error) {
	now := p.now()
	claims := map[string]interface{}{
		"sub": p.replySubject,
		"iss": p.Addr(),
		"nbf": float64(now.Add(-5 * time.Second).Unix()),
		"iat": float64(now.Unix()),
		"exp": float64(now.Add(p.replyExpiry).Unix()),
		"aud": []string{p.clientID},
	}
	if len(p.customAudiences) > 0 {
		claims["aud"] = append(p.customAudiences, p.clientID)
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	for k, v := range p.customClaims {
		claims[k] = v
	}
	return signJWT(p.privateKey, string(p.alg), claims, p.keyID)
}

// clientAuthenticated must be called with p.mu held.
func (p *TestProvider) clientAuthenticated(req *http.Request) bool {
	id, secret, ok := req.BasicAuth()
	if ok {
		id, _ = url.QueryUnescape(id)
		secret, _ = url.QueryUnescape(secret)
	} else {
		id, secret = req.FormValue("client_id"), req.FormValue("client_secret")
	}
	if id != p.clientID {
		return false
	}
	return p.clientSecret == "" || secret == p.clientSecret
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path == "/token" {
		p.mu.Lock()
		delay := p.tokenDelay
		p.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-req.Context().Done():
				return
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		reply := struct {
			Issuer             string   `json:"issuer"`
			AuthEndpoint       string   `json:"authorization_endpoint"`
			TokenEndpoint      string   `json:"token_endpoint"`
			JWKSURI            string   `json:"jwks_uri"`
			UserinfoEndpoint   string   `json:"userinfo_endpoint,omitempty"`
			EndSessionEndpoint string   `json:"end_session_endpoint,omitempty"`
			SigningAlgs        []string `json:"id_token_signing_alg_values_supported"`
		}{
			Issuer:             p.Addr(),
			AuthEndpoint:       p.Addr() + "/authorize",
			TokenEndpoint:      p.Addr() + "/token",
			JWKSURI:            p.Addr() + "/.well-known/jwks.json",
			UserinfoEndpoint:   p.Addr() + "/userinfo",
			EndSessionEndpoint: p.Addr() + "/logout",
			SigningAlgs:        []string{string(p.alg)},
		}
		if p.disableUserInfo {
			reply.UserinfoEndpoint = ""
		}
		if p.disableEndSession {
			reply.EndSessionEndpoint = ""
		}
		_ = p.writeJSON(w, &reply)

	case "/.well-known/jwks.json":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, p.jwks)

	case "/authorize":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()
		redirectURI := qv.Get("redirect_uri")
		if !strutils.StrListContains(p.allowedRedirectURIs, redirectURI) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		state := qv.Get("state")
		switch {
		case qv.Get("client_id") != p.clientID:
			p.writeAuthErrorResponse(w, req, redirectURI, state, "unauthorized_client", "")
			return
		case qv.Get("response_type") != "code":
			p.writeAuthErrorResponse(w, req, redirectURI, state, "unsupported_response_type", "")
			return
		case !strutils.StrListContains(strings.Fields(qv.Get("scope")), "openid"):
			p.writeAuthErrorResponse(w, req, redirectURI, state, "invalid_scope", "")
			return
		case p.expectedAuthCode == "":
			p.writeAuthErrorResponse(w, req, redirectURI, state, "access_denied", "")
			return
		case p.expectedAuthNonce != "" && p.expectedAuthNonce != qv.Get("nonce"):
			p.writeAuthErrorResponse(w, req, redirectURI, state, "access_denied", "unexpected nonce")
			return
		case state == "":
			p.writeAuthErrorResponse(w, req, redirectURI, state, "invalid_request", "missing state")
			return
		}
		if p.pkceVerifier != nil {
			if qv.Get("code_challenge") != p.pkceVerifier.Challenge() || qv.Get("code_challenge_method") != string(p.pkceVerifier.Method()) {
				p.writeAuthErrorResponse(w, req, redirectURI, state, "invalid_request", "unexpected code_challenge")
				return
			}
		}
		resp := url.Values{}
		resp.Set("state", state)
		resp.Set("code", p.expectedAuthCode)
		http.Redirect(w, req, redirectURI+"?"+resp.Encode(), http.StatusFound)

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		grantType := req.FormValue("grant_type")
		p.tokenRequests[grantType]++
		if !p.clientAuthenticated(req) {
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "unknown client")
			return
		}

		var nonce string
		omitIDToken := p.omitIDToken
		switch grantType {
		case "authorization_code":
			switch {
			case !strutils.StrListContains(p.allowedRedirectURIs, req.FormValue("redirect_uri")):
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
				return
			case p.expectedAuthCode == "" || req.FormValue("code") != p.expectedAuthCode:
				_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected auth code")
				return
			case p.pkceVerifier != nil && req.FormValue("code_verifier") != p.pkceVerifier.Verifier():
				_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_verifier", "verifier doesn't match")
				return
			}
			nonce = p.expectedAuthNonce
		case "refresh_token":
			switch {
			case p.disableRefresh:
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "refresh is disabled")
				return
			case p.expectedRefreshToken == "" || req.FormValue("refresh_token") != p.expectedRefreshToken:
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected refresh token")
				return
			}
			omitIDToken = p.omitRefreshIDToken
		default:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "bad grant_type")
			return
		}

		idToken, err := p.issueJWT(nonce)
		if err != nil {
			_ = p.writeTokenErrorResponse(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		accessToken, err := p.issueJWT("")
		if err != nil {
			_ = p.writeTokenErrorResponse(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		if p.opaqueAccessToken {
			accessToken = "opaque-" + strconv.Itoa(p.tokenRequests[grantType])
		}
		reply := struct {
			AccessToken  string `json:"access_token"`
			TokenType    string `json:"token_type"`
			IDToken      string `json:"id_token,omitempty"`
			RefreshToken string `json:"refresh_token,omitempty"`
			ExpiresIn    int64  `json:"expires_in,omitempty"`
		}{
			AccessToken:  accessToken,
			TokenType:    "Bearer",
			IDToken:      idToken,
			RefreshToken: p.expectedRefreshToken,
		}
		if !p.omitExpiresIn {
			reply.ExpiresIn = int64(p.replyExpiry.Seconds())
		}
		if omitIDToken {
			reply.IDToken = ""
		}
		_ = p.writeJSON(w, &reply)

	case "/userinfo":
		if p.disableUserInfo {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !strings.HasPrefix(req.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = p.writeJSON(w, p.replyUserinfo)

	case "/logout":
		if p.disableEndSession {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		target := req.URL.Query().Get("post_logout_redirect_uri")
		if target == "" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Redirect(w, req, target, http.StatusFound)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// AuthorizeRedirect follows a login URL generated by Provider.AuthURL against
// the test provider, as a user agent would, and returns the redirect the
// provider answers with (the callback URL carrying code and state, or an error
// response).
func (p *TestProvider) AuthorizeRedirect(t *testing.T, authURL string) *url.URL {
	t.Helper()
	require := require.New(t)
	client := &http.Client{
		Transport: p.client.Transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(authURL)
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusFound, resp.StatusCode)
	loc, err := resp.Location()
	require.NoError(err)
	return loc
}

// httptestNewUnstartedServerWithPort is roughly the same as
// httptest.NewUnstartedServer() but allows the caller to explicitly choose the
// port if desired.
func httptestNewUnstartedServerWithPort(t *testing.T, handler http.Handler, port int) *httptest.Server {
	t.Helper()
	require := require.New(t)
	if port == 0 {
		return httptest.NewUnstartedServer(handler)
	}
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	l, err := net.Listen("tcp", addr)
	require.NoError(err)

	return &httptest.Server{
		Listener: l,
		Config:   &http.Server{Handler: handler},
	}
}
