// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package session models the authenticated user session: the Session value,
// its durable Store and the in-memory Holder the rest of the application
// reads the current token from.
package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/cap-session/oidc"
)

// ExpirySkew is subtracted from a session's expiry so a token is never
// handed out moments before the backend would reject it.
const ExpirySkew = oidc.TokenExpirySkew

// Session is the authenticated user's session.  It's replaced as a whole,
// never mutated in place.
type Session struct {
	Username     string
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresAt    time.Time
}

// Expired returns true when the session's expiry is within ExpirySkew of now.
// A session without an expiry is expired.
func (s *Session) Expired(now time.Time) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return true
	}
	return !s.ExpiresAt.After(now.Add(ExpirySkew))
}

// Valid returns true when the session has an access token and isn't expired.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.AccessToken != "" && !s.Expired(now)
}

// Clone returns a copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

// String redacts every token, it's safe to log.
func (s Session) String() string {
	return fmt.Sprintf("Session{Username: %q, AccessToken: %s, RefreshToken: %s, IDToken: %s, ExpiresAt: %s}",
		s.Username,
		redact(s.AccessToken, oidc.AccessToken(s.AccessToken)),
		redact(s.RefreshToken, oidc.RefreshToken(s.RefreshToken)),
		redact(s.IDToken, oidc.IDToken(s.IDToken)),
		s.ExpiresAt.Format(time.RFC3339),
	)
}

func redact(raw string, t fmt.Stringer) string {
	if raw == "" {
		return `""`
	}
	return t.String()
}

// sessionJSON is the persisted form of a Session.
type sessionJSON struct {
	Username     string    `json:"username,omitempty"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

func (s *Session) marshal() ([]byte, error) {
	return json.Marshal(sessionJSON{
		Username:     s.Username,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		IDToken:      s.IDToken,
		ExpiresAt:    s.ExpiresAt,
	})
}

func unmarshal(raw []byte) (*Session, error) {
	var j sessionJSON
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, err
	}
	return &Session{
		Username:     j.Username,
		AccessToken:  j.AccessToken,
		RefreshToken: j.RefreshToken,
		IDToken:      j.IDToken,
		ExpiresAt:    j.ExpiresAt.UTC(),
	}, nil
}
