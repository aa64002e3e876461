// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/cap-session/session"
)

// DefaultCallbackPath is the path the provider redirects back to.
const DefaultCallbackPath = "/callback"

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

// controllerOptions is the set of available options for a Controller
type controllerOptions struct {
	withLogger       hclog.Logger
	withCallbackPath string
	withHolder       *session.Holder
	withNowFunc      func() time.Time
}

func controllerDefaults() controllerOptions {
	return controllerOptions{
		withLogger:       hclog.NewNullLogger(),
		withCallbackPath: DefaultCallbackPath,
	}
}

func getControllerOpts(opt ...Option) controllerOptions {
	opts := controllerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// renewerOptions is the set of available options for an AutoRenewer
type renewerOptions struct {
	withLogger        hclog.Logger
	withLead          time.Duration
	withRetryInterval time.Duration
	withNowFunc       func() time.Time
}

func renewerDefaults() renewerOptions {
	return renewerOptions{
		withLogger:        hclog.NewNullLogger(),
		withLead:          DefaultRenewLead,
		withRetryInterval: DefaultRetryInterval,
	}
}

func getRenewerOpts(opt ...Option) renewerOptions {
	opts := renewerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger, for: Controller and AutoRenewer
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		switch v := o.(type) {
		case *controllerOptions:
			v.withLogger = l
		case *renewerOptions:
			v.withLogger = l
		}
	}
}

// WithNow provides an optional func for determining what the current time it
// is, for: Controller and AutoRenewer
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if now == nil {
			return
		}
		switch v := o.(type) {
		case *controllerOptions:
			v.withNowFunc = now
		case *renewerOptions:
			v.withNowFunc = now
		}
	}
}

// WithCallbackPath overrides DefaultCallbackPath.  The path must match the
// path of the redirect URL registered with the provider.
func WithCallbackPath(p string) Option {
	return func(o interface{}) {
		if o, ok := o.(*controllerOptions); ok {
			o.withCallbackPath = p
		}
	}
}

// WithHolder provides the Holder the controller publishes the session to, so
// it can be shared with an http transport.  A new Holder is created when not
// provided.
func WithHolder(h *session.Holder) Option {
	return func(o interface{}) {
		if o, ok := o.(*controllerOptions); ok {
			o.withHolder = h
		}
	}
}

// WithLead sets how long before expiry an AutoRenewer renews the session.
func WithLead(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*renewerOptions); ok && d > 0 {
			o.withLead = d
		}
	}
}

// WithRetryInterval sets how long an AutoRenewer waits after a failed
// renewal, or when no session is held.
func WithRetryInterval(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*renewerOptions); ok && d > 0 {
			o.withRetryInterval = d
		}
	}
}
