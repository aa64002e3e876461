// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import "time"

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
	withNowFunc func() time.Time
	withKey     string
}

func getDefaultOptions() options {
	return options{
		withKey: DefaultKey,
	}
}

func getOpts(opt ...Option) options {
	opts := getDefaultOptions()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithNow provides an optional func for determining what the current time it
// is, for: Holder
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && now != nil {
			o.withNowFunc = now
		}
	}
}

// WithKey overrides the KV key a Store persists the session under.
func WithKey(key string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && key != "" {
			o.withKey = key
		}
	}
}
