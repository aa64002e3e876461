// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package browser

import "github.com/hashicorp/go-hclog"

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
	withOpener      Opener
	withLogger      hclog.Logger
	withSuccessHTML string
}

func getDefaultOptions() options {
	return options{
		withLogger:      hclog.NewNullLogger(),
		withSuccessHTML: successHTML,
	}
}

func getOpts(opt ...Option) options {
	opts := getDefaultOptions()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithOpener sets the Opener used by Location.Navigate.
func WithOpener(o Opener) Option {
	return func(opts interface{}) {
		if opts, ok := opts.(*options); ok {
			opts.withOpener = o
		}
	}
}

// WithLogger provides an optional logger for a CallbackServer.
func WithLogger(l hclog.Logger) Option {
	return func(opts interface{}) {
		if opts, ok := opts.(*options); ok && l != nil {
			opts.withLogger = l
		}
	}
}

// WithSuccessHTML overrides the page a CallbackServer answers the callback
// with.
func WithSuccessHTML(page string) Option {
	return func(opts interface{}) {
		if opts, ok := opts.(*options); ok && page != "" {
			opts.withSuccessHTML = page
		}
	}
}
