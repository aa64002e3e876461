// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package transport

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
)

// TokenSource returns the access token to send, or "" when there's none.
// session.Holder is a TokenSource.
type TokenSource interface {
	Token() string
}

// TokenSourceFunc adapts a func to a TokenSource.
type TokenSourceFunc func() string

// Token implements TokenSource.
func (f TokenSourceFunc) Token() string { return f() }

// BearerTransport is an http.RoundTripper which sets the Authorization header
// of requests to the backend origin.
type BearerTransport struct {
	base    http.RoundTripper
	source  TokenSource
	backend *url.URL
	logger  hclog.Logger
}

var _ http.RoundTripper = (*BearerTransport)(nil)

// NewBearerTransport creates a BearerTransport for the backend at backendURL.
// Only requests with the same scheme and host are decorated.
//
// Supported options: WithBase, WithLogger
func NewBearerTransport(backendURL string, src TokenSource, opt ...Option) (*BearerTransport, error) {
	const op = "transport.NewBearerTransport"
	if src == nil {
		return nil, fmt.Errorf("%s: token source is nil: %w", op, ErrNilParameter)
	}
	u, err := url.Parse(backendURL)
	if err != nil {
		return nil, fmt.Errorf("%s: backend url %q is invalid (%s): %w", op, backendURL, err, ErrInvalidParameter)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%s: backend url %q is not an absolute http(s) url: %w", op, backendURL, ErrInvalidParameter)
	}
	opts := getOpts(opt...)
	base := opts.withBase
	if base == nil {
		base = cleanhttp.DefaultPooledTransport()
	}
	return &BearerTransport{
		base:    base,
		source:  src,
		backend: u,
		logger:  opts.withLogger,
	}, nil
}

// RoundTrip implements http.RoundTripper.  The request is cloned before the
// header is set, the caller's request is never modified.
func (t *BearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.matches(req.URL) {
		return t.base.RoundTrip(req)
	}
	tk := t.source.Token()
	if tk == "" {
		t.logger.Trace("no token for backend request", "method", req.Method, "path", req.URL.Path)
		return t.base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+tk)
	return t.base.RoundTrip(r)
}

func (t *BearerTransport) matches(u *url.URL) bool {
	if u == nil {
		return false
	}
	return strings.EqualFold(u.Scheme, t.backend.Scheme) && strings.EqualFold(u.Host, t.backend.Host)
}

// NewClient returns an http.Client using a BearerTransport.
func NewClient(backendURL string, src TokenSource, opt ...Option) (*http.Client, error) {
	const op = "transport.NewClient"
	tr, err := NewBearerTransport(backendURL, src, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &http.Client{Transport: tr}, nil
}
