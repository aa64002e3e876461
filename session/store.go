// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/cap-session/oidc"
	"github.com/hashicorp/cap-session/storage"
)

const (
	// DefaultKey is the KV key the session is stored under.
	DefaultKey = "session"

	// RequestKeyPrefix prefixes the state of a pending login request to form
	// its KV key.
	RequestKeyPrefix = "oidc.request."
)

// Store persists the session and pending login requests in a storage.KV.
type Store struct {
	kv  storage.KV
	key string
}

// NewStore creates a Store.  Supported options: WithKey
func NewStore(kv storage.KV, opt ...Option) (*Store, error) {
	const op = "session.NewStore"
	if kv == nil {
		return nil, fmt.Errorf("%s: kv is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts(opt...)
	return &Store{
		kv:  kv,
		key: opts.withKey,
	}, nil
}

// Load returns the stored session, or nil when there isn't one.
func (s *Store) Load(ctx context.Context) (*Session, error) {
	const op = "Store.Load"
	raw, err := s.kv.Get(ctx, s.key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sess, err := unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, err, ErrCorrupt)
	}
	return sess, nil
}

// Save replaces the stored session.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	const op = "Store.Save"
	if sess == nil {
		return fmt.Errorf("%s: session is nil: %w", op, ErrNilParameter)
	}
	if sess.AccessToken == "" {
		return fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	}
	raw, err := sess.marshal()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.kv.Set(ctx, s.key, raw, 0); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Clear removes the stored session.
func (s *Store) Clear(ctx context.Context) error {
	const op = "Store.Clear"
	if err := s.kv.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SaveRequest persists a pending login request until it expires.
func (s *Store) SaveRequest(ctx context.Context, r *oidc.Req) error {
	const op = "Store.SaveRequest"
	if r == nil {
		return fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	ttl := time.Until(r.Expiration())
	if ttl <= 0 {
		return fmt.Errorf("%s: request is expired: %w", op, ErrInvalidParameter)
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.kv.Set(ctx, RequestKeyPrefix+r.State(), raw, ttl); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// TakeRequest returns the pending login request for the state and removes it,
// a request can only be consumed once.
func (s *Store) TakeRequest(ctx context.Context, state string) (*oidc.Req, error) {
	const op = "Store.TakeRequest"
	if state == "" {
		return nil, fmt.Errorf("%s: state is empty: %w", op, ErrInvalidParameter)
	}
	raw, err := s.kv.Take(ctx, RequestKeyPrefix+state)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("%s: no pending request for state: %w", op, ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var r oidc.Req
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, err, ErrCorrupt)
	}
	return &r, nil
}
