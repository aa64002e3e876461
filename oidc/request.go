// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Request basically represents one OIDC authentication flow for a user. It
// contains the data needed to uniquely represent that one-time flow across the
// multiple interactions needed to complete the OIDC flow the user is
// attempting.
//
// Request() is passed throughout the OIDC interactions to uniquely identify the
// flow's request. The Request.State() and Request.Nonce() cannot be equal, and
// will be used during the OIDC flow to prevent CSRF and replay attacks (see the
// oidc spec for specifics).
type Request interface {
	// State is a unique identifier and an opaque value used to maintain
	// request between the oidc request and the callback. State cannot equal
	// the Nonce.
	State() string

	// Nonce is a unique nonce and a string value used to associate a Client
	// session with an ID Token, and to mitigate replay attacks. Nonce cannot
	// equal the ID.
	Nonce() string

	// IsExpired returns true if the request has expired. Implementations
	// should support a time skew (perhaps RequestExpirySkew) when checking
	// expiration.
	IsExpired() bool

	// RedirectURL is a URL where providers will redirect responses to
	// authentication requests.
	RedirectURL() string

	// ReturnTo is the application path the user should land on once the
	// callback has been completed.
	ReturnTo() string

	// Scopes is a specific authentication attempt's list of scopes to
	// request of the provider. The required "oidc" scope is requested by
	// default, and does not need to be part of this optional list.
	Scopes() []string

	// Audiences is an specific authentication attempt's list of optional
	// case-sensitive strings to use when verifying an id_token's "aud" claim
	// (which is also a list).
	Audiences() []string

	// PKCEVerifier returns the PKCE code verifier used for the attempt, or nil
	// when PKCE is not used.
	PKCEVerifier() CodeVerifier
}

// Req represents the oidc request used for oidc flows and implements the
// Request interface.  A Req can be marshaled to JSON so it can be persisted
// while the user agent is away at the provider.
type Req struct {
	state       string
	nonce       string
	expiration  time.Time
	redirectURL string
	returnTo    string
	scopes      []string
	audiences   []string
	verifier    CodeVerifier

	// nowFunc is an optional function that returns the current time
	nowFunc func() time.Time
}

// ensure that Req implements the Request interface.
var _ Request = (*Req)(nil)

// NewRequest creates a new Request (*Req).
//
//	Supports the options:
//	 * WithState
//	 * WithNonce
//	 * WithNow
//	 * WithReturnTo
//	 * WithScopes
//	 * WithAudiences
//	 * WithPKCE
func NewRequest(expireIn time.Duration, redirectURL string, opt ...Option) (*Req, error) {
	const op = "oidc.NewRequest"
	opts := getReqOpts(opt...)
	if redirectURL == "" {
		return nil, fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	if expireIn <= 0 {
		return nil, fmt.Errorf("%s: expireIn not greater than zero: %w", op, ErrInvalidParameter)
	}
	nonce := opts.withNonce
	if nonce == "" {
		var err error
		nonce, err = NewID(WithPrefix("n"))
		if err != nil {
			return nil, fmt.Errorf("%s: unable to generate a request's nonce: %w", op, err)
		}
	}
	state := opts.withState
	if state == "" {
		var err error
		state, err = NewID(WithPrefix("st"))
		if err != nil {
			return nil, fmt.Errorf("%s: unable to generate a request's state: %w", op, err)
		}
	}
	if state == nonce {
		return nil, fmt.Errorf("%s: state and nonce cannot be equal: %w", op, ErrInvalidParameter)
	}
	r := &Req{
		state:       state,
		nonce:       nonce,
		redirectURL: redirectURL,
		returnTo:    opts.withReturnTo,
		nowFunc:     opts.withNowFunc,
		audiences:   opts.withAudiences,
		verifier:    opts.withVerifier,
	}
	r.expiration = r.now().Add(expireIn)
	if len(opts.withScopes) > 0 {
		r.scopes = append([]string{oidc.ScopeOpenID}, opts.withScopes...)
	}
	return r, nil
}

func (r *Req) State() string       { return r.state }       // State implements the Request.State() interface function.
func (r *Req) Nonce() string       { return r.nonce }       // Nonce implements the Request.Nonce() interface function.
func (r *Req) RedirectURL() string { return r.redirectURL } // RedirectURL implements the Request.RedirectURL() interface function.
func (r *Req) Scopes() []string    { return r.scopes }      // Scopes implements the Request.Scopes() interface function.
func (r *Req) Audiences() []string { return r.audiences }   // Audiences implements the Request.Audiences() interface function.

// ReturnTo implements the Request.ReturnTo() interface function and defaults
// to "/" when no return path was provided.
func (r *Req) ReturnTo() string {
	if r.returnTo == "" {
		return "/"
	}
	return r.returnTo
}

// PKCEVerifier implements the Request.PKCEVerifier() interface function and
// returns a copy of the CodeVerifier
func (r *Req) PKCEVerifier() CodeVerifier {
	if r.verifier == nil {
		return nil
	}
	return r.verifier.Copy()
}

// RequestExpirySkew defines a time skew when checking a Request's expiration.
const RequestExpirySkew = 1 * time.Second

// IsExpired returns true if the request has expired.
func (r *Req) IsExpired() bool {
	return r.expiration.Before(r.now().Add(RequestExpirySkew))
}

// Expiration returns the time the request expires.
func (r *Req) Expiration() time.Time { return r.expiration }

// now returns the current time using the optional timeFn
func (r *Req) now() time.Time {
	if r.nowFunc != nil {
		return r.nowFunc()
	}
	return time.Now() // fallback to this default
}

// reqJSON is the persisted form of a Req.
type reqJSON struct {
	State       string    `json:"state"`
	Nonce       string    `json:"nonce"`
	Expiration  time.Time `json:"expiration"`
	RedirectURL string    `json:"redirect_url"`
	ReturnTo    string    `json:"return_to,omitempty"`
	Scopes      []string  `json:"scopes,omitempty"`
	Audiences   []string  `json:"audiences,omitempty"`
	Verifier    string    `json:"code_verifier,omitempty"`
}

// MarshalJSON encodes the request, including its PKCE verifier, so it can be
// persisted between the redirect to the provider and the callback.
func (r *Req) MarshalJSON() ([]byte, error) {
	j := reqJSON{
		State:       r.state,
		Nonce:       r.nonce,
		Expiration:  r.expiration,
		RedirectURL: r.redirectURL,
		ReturnTo:    r.returnTo,
		Scopes:      r.scopes,
		Audiences:   r.audiences,
	}
	if r.verifier != nil {
		j.Verifier = r.verifier.Verifier()
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes a request previously encoded with MarshalJSON.
func (r *Req) UnmarshalJSON(data []byte) error {
	const op = "Req.UnmarshalJSON"
	var j reqJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if j.State == "" || j.Nonce == "" {
		return fmt.Errorf("%s: missing state or nonce: %w", op, ErrInvalidParameter)
	}
	*r = Req{
		state:       j.State,
		nonce:       j.Nonce,
		expiration:  j.Expiration,
		redirectURL: j.RedirectURL,
		returnTo:    j.ReturnTo,
		scopes:      j.Scopes,
		audiences:   j.Audiences,
	}
	if j.Verifier != "" {
		v, err := newS256Verifier(j.Verifier)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		r.verifier = v
	}
	return nil
}

// reqOptions is the set of available options for Req functions
type reqOptions struct {
	withNowFunc   func() time.Time
	withScopes    []string
	withAudiences []string
	withReturnTo  string
	withState     string
	withNonce     string
	withVerifier  CodeVerifier
}

// reqDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func reqDefaults() reqOptions {
	return reqOptions{}
}

// getReqOpts gets the request defaults and applies the opt overrides passed in
func getReqOpts(opt ...Option) reqOptions {
	opts := reqDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithPKCE provides an option to use a CodeVerifier with the authorization
// code flow.
func WithPKCE(v CodeVerifier) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withVerifier = v
		}
	}
}

// WithReturnTo provides an optional application path to return to after the
// callback completes.
func WithReturnTo(path string) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withReturnTo = path
		}
	}
}

// WithState allows you to specify a state value instead of a generated one.
func WithState(s string) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withState = s
		}
	}
}

// WithNonce allows you to specify a nonce value instead of a generated one.
func WithNonce(n string) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withNonce = n
		}
	}
}
