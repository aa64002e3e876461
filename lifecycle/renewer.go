// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/cap-session/session"
)

const (
	// DefaultRenewLead is how long before expiry an AutoRenewer renews.
	DefaultRenewLead = 60 * time.Second

	// DefaultRetryInterval is how long an AutoRenewer waits after a failed
	// renewal.
	DefaultRetryInterval = 30 * time.Second
)

// AutoRenewer keeps the held session fresh by renewing it shortly before it
// expires.
type AutoRenewer struct {
	renewer       Renewer
	holder        *session.Holder
	lead          time.Duration
	retryInterval time.Duration
	logger        hclog.Logger
	nowFunc       func() time.Time
}

// NewAutoRenewer creates an AutoRenewer for the session in h.
//
// Supported options: WithLead, WithRetryInterval, WithLogger, WithNow
func NewAutoRenewer(r Renewer, h *session.Holder, opt ...Option) (*AutoRenewer, error) {
	const op = "lifecycle.NewAutoRenewer"
	if r == nil {
		return nil, fmt.Errorf("%s: renewer is nil: %w", op, ErrConfiguration)
	}
	if h == nil {
		return nil, fmt.Errorf("%s: holder is nil: %w", op, ErrConfiguration)
	}
	opts := getRenewerOpts(opt...)
	return &AutoRenewer{
		renewer:       r,
		holder:        h,
		lead:          opts.withLead,
		retryInterval: opts.withRetryInterval,
		logger:        opts.withLogger,
		nowFunc:       opts.withNowFunc,
	}, nil
}

func (a *AutoRenewer) now() time.Time {
	if a.nowFunc != nil {
		return a.nowFunc()
	}
	return time.Now()
}

// Next returns how long to wait before the held session should be renewed.
// It returns false when there's nothing to renew.
func (a *AutoRenewer) Next() (time.Duration, bool) {
	s := a.holder.Peek()
	if s == nil || s.RefreshToken == "" || s.ExpiresAt.IsZero() {
		return 0, false
	}
	wait := s.ExpiresAt.Add(-a.lead).Sub(a.now())
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

// RenewIfDue renews the held session when it is within the lead of its
// expiry.  It reports whether a renewal happened.
func (a *AutoRenewer) RenewIfDue(ctx context.Context) (bool, error) {
	const op = "AutoRenewer.RenewIfDue"
	wait, ok := a.Next()
	if !ok || wait > 0 {
		return false, nil
	}
	renewed, err := a.renewer.SilentRenew(ctx)
	if err == nil && !renewed.Valid(a.now()) {
		err = errUnusableSession
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w: %w", op, ErrSilentRenewal, err)
	}
	a.holder.Set(renewed)
	return true, nil
}

// Run renews the held session until ctx is done.  Failures are logged and
// retried after the retry interval.
func (a *AutoRenewer) Run(ctx context.Context) {
	const op = "AutoRenewer.Run"
	for {
		wait, ok := a.Next()
		if !ok {
			wait = a.retryInterval
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		renewed, err := a.RenewIfDue(ctx)
		switch {
		case err != nil:
			a.logger.Error("automatic renewal failed", "op", op, "phase", phaseSilentRenew, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(a.retryInterval):
			}
		case renewed:
			a.logger.Debug("session renewed", "op", op)
			if wait, ok := a.Next(); ok && wait == 0 {
				// the provider issues tokens shorter lived than the lead
				a.logger.Warn("renewed session is already due for renewal", "op", op, "lead", a.lead)
				select {
				case <-ctx.Done():
					return
				case <-time.After(a.retryInterval):
				}
			}
		}
	}
}
