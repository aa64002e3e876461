// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
)

// Opener sends the user agent to target.
type Opener func(ctx context.Context, target string) error

// Location is the application's current address.  It's safe for concurrent
// use.
type Location struct {
	mu          sync.Mutex
	current     *url.URL
	navigations []string
	opener      Opener
}

// NewLocation creates a Location at the absolute URL raw.
//
// Supported options: WithOpener
func NewLocation(raw string, opt ...Option) (*Location, error) {
	const op = "browser.NewLocation"
	u, err := parseAbs(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getOpts(opt...)
	return &Location{
		current: u,
		opener:  opts.withOpener,
	}, nil
}

func parseAbs(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%q is invalid (%s): %w", raw, err, ErrInvalidParameter)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%q is not an absolute url: %w", raw, ErrInvalidParameter)
	}
	return u, nil
}

// Location returns a copy of the current address.
func (l *Location) Location() *url.URL {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *l.current
	return &cp
}

// ReplaceState rewrites the current address to p, resolved against the
// current address.  The query and fragment are replaced by those of p.
func (l *Location) ReplaceState(p string) {
	ref, err := url.Parse(p)
	if err != nil {
		ref = &url.URL{Path: "/"}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = l.current.ResolveReference(ref)
}

// Load replaces the current address, like a new page load.
func (l *Location) Load(raw string) error {
	const op = "Location.Load"
	u, err := parseAbs(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = u
	return nil
}

// Navigate sends the user agent to target with the Location's Opener and
// records the navigation.  Without an Opener the navigation is only recorded.
func (l *Location) Navigate(ctx context.Context, target string) error {
	const op = "Location.Navigate"
	if _, err := parseAbs(target); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	l.mu.Lock()
	opener := l.opener
	l.mu.Unlock()
	if opener != nil {
		if err := opener(ctx, target); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.navigations = append(l.navigations, target)
	return nil
}

// Navigations returns every target passed to a successful Navigate.
func (l *Location) Navigations() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.navigations...)
}
