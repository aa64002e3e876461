// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

// DefaultDotEnv is the .env file read when no WithDotEnv option is given.
const DefaultDotEnv = ".env"

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
	withEnvironment map[string]string
	withDotEnv      []string
	requireDotEnv   bool
}

func getDefaultOptions() options {
	return options{
		withDotEnv: []string{DefaultDotEnv},
	}
}

func getOpts(opt ...Option) options {
	opts := getDefaultOptions()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithEnvironment replaces the process environment as the source of
// variables.
func WithEnvironment(env map[string]string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withEnvironment = env
		}
	}
}

// WithDotEnv reads the given .env files instead of DefaultDotEnv.  Unlike
// the default file they must exist.  Calling it without files disables .env
// loading.
func WithDotEnv(files ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withDotEnv = files
			o.requireDotEnv = true
		}
	}
}
