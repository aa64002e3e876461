// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package api

import "github.com/hashicorp/go-hclog"

// DefaultBasePath is where the backend serves its API.
const DefaultBasePath = "/api/"

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
	withLogger   hclog.Logger
	withBasePath string
}

func getDefaultOptions() options {
	return options{
		withLogger:   hclog.NewNullLogger(),
		withBasePath: DefaultBasePath,
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

// WithBasePath overrides DefaultBasePath.
func WithBasePath(p string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && p != "" {
			o.withBasePath = p
		}
	}
}
