// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/cap-session/api"
	"github.com/hashicorp/cap-session/browser"
	"github.com/hashicorp/cap-session/config"
	"github.com/hashicorp/cap-session/lifecycle"
	"github.com/hashicorp/cap-session/oidc"
	"github.com/hashicorp/cap-session/session"
	"github.com/hashicorp/cap-session/storage"
	"github.com/hashicorp/cap-session/transport"
	"github.com/hashicorp/cap-session/usermanager"
)

// loginTimeout bounds the wait for the browser to come back.
const loginTimeout = 5 * time.Minute

// errLoginRequired is returned by the navigator of commands which can't sign
// in interactively.
var errLoginRequired = errors.New("not signed in, run: gladview login")

type app struct {
	cfg      *config.Config
	logger   hclog.Logger
	out      io.Writer
	kv       storage.KV
	store    *session.Store
	provider *oidc.Provider
}

func newApp(ctx context.Context, cfg *config.Config, logger hclog.Logger, out io.Writer) (*app, error) {
	kv, err := cfg.KV(ctx)
	if err != nil {
		return nil, err
	}
	a, err := newAppWithKV(ctx, cfg, kv, logger, out)
	if err != nil {
		if c, ok := kv.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, err
	}
	return a, nil
}

func newAppWithKV(ctx context.Context, cfg *config.Config, kv storage.KV, logger hclog.Logger, out io.Writer) (*app, error) {
	store, err := session.NewStore(kv)
	if err != nil {
		return nil, err
	}
	oc, err := cfg.OIDC()
	if err != nil {
		return nil, err
	}
	p, err := discover(ctx, oc, cfg.ProviderTimeout)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:      cfg,
		logger:   logger,
		out:      out,
		kv:       kv,
		store:    store,
		provider: p,
	}, nil
}

// discover creates the provider, giving discovery at most timeout.
func discover(ctx context.Context, oc *oidc.Config, timeout time.Duration) (*oidc.Provider, error) {
	const op = "discover"
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	p, err := oidc.NewProvider(ctx, oc)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: no response within %s: %w: %w", op, timeout, lifecycle.ErrProviderTimeout, err)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// close releases the provider and, for backends holding a connection, the
// session store.
func (a *app) close() {
	a.provider.Done()
	if c, ok := a.kv.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Warn("unable to close the session store", "error", err)
		}
	}
}

// controller wires a Controller whose user agent starts at the root of
// appURL.
func (a *app) controller(appURL, redirectURL string, opener browser.Opener) (*lifecycle.Controller, *usermanager.Manager, *browser.Location, error) {
	root, err := url.Parse(appURL)
	if err != nil {
		return nil, nil, nil, err
	}
	root.Path, root.RawQuery, root.Fragment = "/", "", ""
	loc, err := browser.NewLocation(root.String(), browser.WithOpener(opener))
	if err != nil {
		return nil, nil, nil, err
	}
	mgr, err := usermanager.NewManager(a.provider, a.store, loc,
		usermanager.WithLogger(a.logger.Named("usermanager")),
		usermanager.WithTimeout(a.cfg.ProviderTimeout),
		usermanager.WithRedirectURL(redirectURL),
	)
	if err != nil {
		return nil, nil, nil, err
	}
	c, err := lifecycle.NewController(mgr, loc,
		lifecycle.WithCallbackPath(a.cfg.CallbackPath),
		lifecycle.WithLogger(a.logger.Named("lifecycle")),
	)
	if err != nil {
		return nil, nil, nil, err
	}
	return c, mgr, loc, nil
}

// openBrowser is the Opener of interactive commands.  The URL is always
// printed so the flow can be finished without a local browser.
func (a *app) openBrowser(ctx context.Context, target string) error {
	fmt.Fprintf(a.out, "Opening %s\n", gray(target))
	if err := browser.Open(ctx, target); err != nil {
		a.logger.Warn("unable to open a browser", "error", err)
		fmt.Fprintln(a.out, yellow("Unable to open a browser, visit the URL above to continue."))
	}
	return nil
}

// login signs in through the browser.  cb receives the provider's redirect.
func (a *app) login(ctx context.Context, cb *browser.CallbackServer, opener browser.Opener, force bool) error {
	c, _, loc, err := a.controller(cb.URL(), cb.URL(), opener)
	if err != nil {
		return err
	}

	var out lifecycle.Outcome
	if force {
		out = c.Login(ctx, "/")
	} else {
		out = c.Initialize(ctx)
	}
	switch {
	case out.Authenticated():
		fmt.Fprintf(a.out, "Already signed in as %s\n", green(out.Session.Username))
		return nil
	case !out.RedirectIssued:
		return out.Err
	}

	wctx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()
	callback, err := cb.Wait(wctx)
	if err != nil {
		return fmt.Errorf("waiting for the browser: %w", err)
	}
	if err := loc.Load(callback.String()); err != nil {
		return err
	}
	out = c.Initialize(ctx)
	if !out.Authenticated() {
		return out.Err
	}
	fmt.Fprintf(a.out, "Signed in as %s\n", green(out.Session.Username))
	return nil
}

// resume returns the stored session, renewing it when needed.  It never
// starts an interactive login.
func (a *app) resume(ctx context.Context) (*lifecycle.Controller, *usermanager.Manager, error) {
	s, err := a.store.Load(ctx)
	switch {
	case err != nil:
		return nil, nil, err
	case s == nil:
		return nil, nil, errLoginRequired
	}
	refuse := func(context.Context, string) error { return errLoginRequired }
	c, mgr, _, err := a.controller(a.cfg.RedirectURL, a.cfg.RedirectURL, refuse)
	if err != nil {
		return nil, nil, err
	}
	out := c.Initialize(ctx)
	if !out.Authenticated() {
		if errors.Is(out.Err, errLoginRequired) {
			return nil, nil, errLoginRequired
		}
		return nil, nil, out.Err
	}
	return c, mgr, nil
}

func (a *app) logout(ctx context.Context, opener browser.Opener, local bool) error {
	if local {
		if err := a.store.Clear(ctx); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Forgot the stored session")
		return nil
	}
	s, err := a.store.Load(ctx)
	if err != nil {
		return err
	}
	if s == nil {
		fmt.Fprintln(a.out, "Not signed in")
		return nil
	}
	c, _, _, err := a.controller(a.cfg.RedirectURL, a.cfg.RedirectURL, opener)
	if err != nil {
		return err
	}
	if err := c.Logout(ctx); err != nil {
		if errors.Is(err, oidc.ErrUnsupported) {
			return fmt.Errorf("%w (use --local to only forget the stored session)", err)
		}
		return err
	}
	fmt.Fprintf(a.out, "Signed out %s\n", green(s.Username))
	return nil
}

func (a *app) whoami(ctx context.Context, claims bool) error {
	c, mgr, err := a.resume(ctx)
	if err != nil {
		return err
	}
	s := c.Session()
	fmt.Fprintf(a.out, "%s %s\n", green(s.Username), gray(fmt.Sprintf("(expires %s)", s.ExpiresAt.Local().Format(time.RFC3339))))
	if !claims {
		return nil
	}
	info, err := mgr.UserInfo(ctx)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(a.out, "%s: %v\n", yellow(k), info[k])
	}
	return nil
}

func (a *app) token(ctx context.Context) error {
	c, _, err := a.resume(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, c.Holder().Token())
	return nil
}

func (a *app) keepalive(ctx context.Context) error {
	c, mgr, err := a.resume(ctx)
	if err != nil {
		return err
	}
	r, err := lifecycle.NewAutoRenewer(mgr, c.Holder(), lifecycle.WithLogger(a.logger.Named("renewer")))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Keeping %s signed in, press Ctrl-C to stop\n", green(c.Session().Username))
	r.Run(ctx)
	return nil
}

// apiClient returns a backend client whose requests carry the controller's
// current token.
func (a *app) apiClient(c *lifecycle.Controller) (*api.Client, error) {
	hc, err := transport.NewClient(a.cfg.APIURL, c.Holder(), transport.WithLogger(a.logger.Named("transport")))
	if err != nil {
		return nil, err
	}
	return api.NewClient(a.cfg.APIURL, hc, api.WithLogger(a.logger.Named("api")))
}

func (a *app) meta(ctx context.Context) error {
	c, _, err := a.resume(ctx)
	if err != nil {
		return err
	}
	client, err := a.apiClient(c)
	if err != nil {
		return err
	}
	m, err := client.Meta(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

func (a *app) layers(ctx context.Context, date string) error {
	var day time.Time
	if date != "" {
		var err error
		if day, err = time.Parse(api.DateFormat, date); err != nil {
			return fmt.Errorf("invalid --date %q, expected YYYY-MM-DD", date)
		}
	}
	c, _, err := a.resume(ctx)
	if err != nil {
		return err
	}
	client, err := a.apiClient(c)
	if err != nil {
		return err
	}
	layers, err := client.Layers(ctx, day)
	if err != nil {
		return err
	}
	for _, l := range layers {
		fmt.Fprintf(a.out, "%s %s\n", gray(fmt.Sprintf("%6.1f", l.ZLevel)), l.Name())
	}
	return nil
}
