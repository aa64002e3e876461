// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package usermanager

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

const (
	// DefaultTimeout bounds every interaction with the provider.
	DefaultTimeout = 10 * time.Second

	// DefaultRequestTTL is how long a login request waits for its callback.
	DefaultRequestTTL = 10 * time.Minute
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(opts)
	}
}

type options struct {
	withLogger      hclog.Logger
	withTimeout     time.Duration
	withRequestTTL  time.Duration
	withRedirectURL string
	withScopes      []string
}

func getDefaultOptions() options {
	return options{
		withLogger:     hclog.NewNullLogger(),
		withTimeout:    DefaultTimeout,
		withRequestTTL: DefaultRequestTTL,
	}
}

func getOpts(opt ...Option) options {
	opts := getDefaultOptions()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && d > 0 {
			o.withTimeout = d
		}
	}
}

// WithRequestTTL overrides DefaultRequestTTL.
func WithRequestTTL(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && d > 0 {
			o.withRequestTTL = d
		}
	}
}

// WithRedirectURL overrides the redirect URL of the provider's config.
func WithRedirectURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withRedirectURL = u
		}
	}
}

// WithScopes sets the scopes of every login request, replacing the scopes of
// the provider's config.
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withScopes = scopes
		}
	}
}
