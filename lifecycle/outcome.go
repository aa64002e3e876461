// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"fmt"

	"github.com/hashicorp/cap-session/session"
)

// State is the result of one Initialize pass.
type State int

const (
	// StateAuthenticated means a session is held and the application can
	// start.
	StateAuthenticated State = iota + 1

	// StateNeedsLogin means there's no usable session.  When the outcome's
	// RedirectIssued is true the user agent is already on its way to the
	// login page and nothing else should run for this load.
	StateNeedsLogin

	// StateFailed means no session could be established and no redirect
	// could be issued.
	StateFailed
)

// String returns the state's name.
func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateNeedsLogin:
		return "needs_login"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Outcome of Initialize or Login.
type Outcome struct {
	State State

	// Session is set when State is StateAuthenticated.
	Session *session.Session

	// RedirectIssued is true when the user agent was sent to the provider.
	RedirectIssued bool

	// Err explains a failed phase.  It may be set for StateNeedsLogin, for
	// example after a failed callback exchange or silent renewal.
	Err error
}

// Authenticated returns true when the outcome holds a session.
func (o Outcome) Authenticated() bool {
	return o.State == StateAuthenticated && o.Session != nil
}

// String is safe to log, the session's tokens are redacted.
func (o Outcome) String() string {
	switch {
	case o.State == StateAuthenticated && o.Session != nil:
		return fmt.Sprintf("%s (user %q)", o.State, o.Session.Username)
	case o.Err != nil:
		return fmt.Sprintf("%s (redirect issued: %t): %s", o.State, o.RedirectIssued, o.Err)
	default:
		return fmt.Sprintf("%s (redirect issued: %t)", o.State, o.RedirectIssued)
	}
}

func authenticated(s *session.Session) Outcome {
	return Outcome{State: StateAuthenticated, Session: s}
}
