// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/cap-session/session"
)

// phases used as the "phase" key of failure logs
const (
	phaseCallback      = "callback"
	phaseSessionRead   = "session_read"
	phaseSilentRenew   = "silent_renew"
	phaseRedirectLogin = "redirect_login"
	phaseLogout        = "logout"
)

// Controller runs the session lifecycle for one application.  Initialize is
// expected to be called once per application load and is not safe for
// concurrent use with Login or Logout. The Holder it publishes to is.
type Controller struct {
	idp          IdentityProvider
	nav          Navigator
	holder       *session.Holder
	callbackPath string
	logger       hclog.Logger
	nowFunc      func() time.Time
}

// NewController creates a Controller.
//
// Supported options: WithCallbackPath, WithHolder, WithLogger, WithNow
func NewController(idp IdentityProvider, nav Navigator, opt ...Option) (*Controller, error) {
	const op = "lifecycle.NewController"
	if idp == nil {
		return nil, fmt.Errorf("%s: identity provider is nil: %w", op, ErrConfiguration)
	}
	if nav == nil {
		return nil, fmt.Errorf("%s: navigator is nil: %w", op, ErrConfiguration)
	}
	opts := getControllerOpts(opt...)
	if !strings.HasPrefix(opts.withCallbackPath, "/") {
		return nil, fmt.Errorf("%s: callback path %q must start with /: %w", op, opts.withCallbackPath, ErrConfiguration)
	}
	holder := opts.withHolder
	if holder == nil {
		holder = session.NewHolder(session.WithNow(opts.withNowFunc))
	}
	return &Controller{
		idp:          idp,
		nav:          nav,
		holder:       holder,
		callbackPath: opts.withCallbackPath,
		logger:       opts.withLogger,
		nowFunc:      opts.withNowFunc,
	}, nil
}

func (c *Controller) now() time.Time {
	if c.nowFunc != nil {
		return c.nowFunc()
	}
	return time.Now()
}

// Holder returns the Holder the controller publishes the session to.
func (c *Controller) Holder() *session.Holder { return c.holder }

// Session returns the currently held session, or nil.
func (c *Controller) Session() *session.Session { return c.holder.Current() }

// Initialize resolves the session for this application load.  See the
// package documentation for the order of the steps.  Every provider failure is
// logged with the phase it happened in and mapped to an Outcome, Initialize
// never returns an unclassified failure.
func (c *Controller) Initialize(ctx context.Context) Outcome {
	const op = "Controller.Initialize"
	loc := c.nav.Location()
	if loc != nil && loc.Path == c.callbackPath {
		return c.completeCallback(ctx, loc)
	}

	var renewErr error
	sess, err := c.idp.CurrentSession(ctx)
	switch {
	case err != nil:
		c.logger.Warn("unable to read stored session", "op", op, "phase", phaseSessionRead, "error", err)
	case sess == nil:
		c.logger.Debug("no stored session", "op", op)
	case sess.Valid(c.now()):
		c.holder.Set(sess)
		c.logger.Debug("adopted stored session", "op", op, "username", sess.Username)
		return authenticated(sess.Clone())
	default:
		c.logger.Debug("stored session expired, renewing", "op", op, "expires_at", sess.ExpiresAt)
		renewed, err := c.idp.SilentRenew(ctx)
		if err == nil && !renewed.Valid(c.now()) {
			err = errUnusableSession
		}
		if err == nil {
			c.holder.Set(renewed)
			c.logger.Debug("renewed stored session", "op", op, "username", renewed.Username)
			return authenticated(renewed.Clone())
		}
		renewErr = fmt.Errorf("%s: %w: %w", op, ErrSilentRenewal, err)
		c.holder.Clear()
		c.logger.Error("silent renewal failed", "op", op, "phase", phaseSilentRenew, "error", err)
	}

	out := c.Login(ctx, returnPath(loc))
	if out.Err == nil {
		out.Err = renewErr
	}
	return out
}

// completeCallback consumes the authorization response.  The location is
// rewritten in both outcomes so a reload can't replay the response.
func (c *Controller) completeCallback(ctx context.Context, loc *url.URL) Outcome {
	const op = "Controller.completeCallback"
	resp, err := c.idp.CompleteCallback(ctx, loc)
	if err == nil && (resp == nil || !resp.Session.Valid(c.now())) {
		err = errUnusableSession
	}
	if err != nil {
		c.nav.ReplaceState("/")
		c.logger.Error("login callback failed", "op", op, "phase", phaseCallback, "error", err)
		return Outcome{
			State: StateNeedsLogin,
			Err:   fmt.Errorf("%s: %w: %w", op, ErrCallbackExchange, err),
		}
	}
	c.holder.Set(resp.Session)
	c.nav.ReplaceState(c.safeReturnTo(resp.ReturnTo))
	c.logger.Debug("login callback completed", "op", op, "username", resp.Session.Username)
	return authenticated(resp.Session.Clone())
}

// Login sends the user agent to the provider's login page, returnTo is
// restored after the callback.  It's used by Initialize and for a user
// initiated login (for example after a failed callback).
func (c *Controller) Login(ctx context.Context, returnTo string) Outcome {
	const op = "Controller.Login"
	if err := c.idp.RedirectToLogin(ctx, c.safeReturnTo(returnTo)); err != nil {
		c.logger.Error("unable to redirect to login", "op", op, "phase", phaseRedirectLogin, "error", err)
		return Outcome{
			State: StateFailed,
			Err:   fmt.Errorf("%s: %w: %w", op, ErrLoginRedirect, err),
		}
	}
	return Outcome{State: StateNeedsLogin, RedirectIssued: true}
}

// Logout sends the user agent to the provider's logout page.  The held
// session is only cleared once the redirect was issued, on failure it is left
// exactly as it was.
func (c *Controller) Logout(ctx context.Context) error {
	const op = "Controller.Logout"
	if err := c.idp.RedirectToLogout(ctx); err != nil {
		c.logger.Error("unable to redirect to logout", "op", op, "phase", phaseLogout, "error", err)
		return fmt.Errorf("%s: %w: %w", op, ErrLogoutInitiation, err)
	}
	c.holder.Clear()
	return nil
}

// safeReturnTo only allows local paths and never the callback path itself.
func (c *Controller) safeReturnTo(p string) string {
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") {
		return "/"
	}
	u, err := url.Parse(p)
	if err != nil || u.IsAbs() || u.Host != "" || u.Path == c.callbackPath {
		return "/"
	}
	return p
}

// returnPath is the path and query of the location.
func returnPath(loc *url.URL) string {
	if loc == nil {
		return "/"
	}
	return loc.RequestURI()
}
