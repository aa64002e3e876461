// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"net/url"
	"sync"

	"github.com/hashicorp/cap-session/session"
)

// fakeProvider is an IdentityProvider with canned results that counts every
// call.
type fakeProvider struct {
	mu sync.Mutex

	current    *session.Session
	currentErr error

	signin    *SigninResponse
	signinErr error

	renewed  *session.Session
	renewErr error

	loginErr  error
	logoutErr error

	calls      map[string]int
	returnTos  []string
	callbackAt []*url.URL
}

var _ IdentityProvider = (*fakeProvider)(nil)

func newFakeProvider() *fakeProvider {
	return &fakeProvider{calls: map[string]int{}}
}

func (f *fakeProvider) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeProvider) CurrentSession(context.Context) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["CurrentSession"]++
	return f.current.Clone(), f.currentErr
}

func (f *fakeProvider) CompleteCallback(_ context.Context, u *url.URL) (*SigninResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["CompleteCallback"]++
	f.callbackAt = append(f.callbackAt, u)
	if f.signinErr != nil {
		return nil, f.signinErr
	}
	// a completed callback persists the session, like a real provider client
	f.current = f.signin.Session.Clone()
	return f.signin, nil
}

func (f *fakeProvider) SilentRenew(context.Context) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["SilentRenew"]++
	if f.renewErr != nil {
		return nil, f.renewErr
	}
	f.current = f.renewed.Clone()
	return f.renewed.Clone(), nil
}

func (f *fakeProvider) RedirectToLogin(_ context.Context, returnTo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["RedirectToLogin"]++
	f.returnTos = append(f.returnTos, returnTo)
	return f.loginErr
}

func (f *fakeProvider) RedirectToLogout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["RedirectToLogout"]++
	if f.logoutErr != nil {
		return f.logoutErr
	}
	f.current = nil
	return nil
}

// fakeNavigator records location rewrites.
type fakeNavigator struct {
	mu       sync.Mutex
	loc      *url.URL
	replaced []string
}

var _ Navigator = (*fakeNavigator)(nil)

func newFakeNavigator(raw string) *fakeNavigator {
	u, err := url.Parse(raw)
	if err != nil {
		panic(err)
	}
	return &fakeNavigator{loc: u}
}

func (n *fakeNavigator) Location() *url.URL {
	n.mu.Lock()
	defer n.mu.Unlock()
	cp := *n.loc
	return &cp
}

func (n *fakeNavigator) ReplaceState(p string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.replaced = append(n.replaced, p)
	if u, err := url.Parse(p); err == nil {
		n.loc = n.loc.ResolveReference(u)
	}
}

func (n *fakeNavigator) Navigate(context.Context, string) error { return nil }
