// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/cap-session/oidc"
	"github.com/hashicorp/cap-session/storage"
)

func TestNewStore(t *testing.T) {
	t.Parallel()
	_, err := NewStore(nil)
	assert.ErrorIs(t, err, ErrNilParameter)
}

func TestStore_SessionExpiryInUTC(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	s, err := NewStore(storage.NewMemoryKV())
	require.NoError(err)

	local := time.Date(2025, 6, 1, 14, 0, 0, 123, time.FixedZone("CEST", 2*60*60))
	require.NoError(s.Save(ctx, &Session{AccessToken: "access", ExpiresAt: local}))
	got, err := s.Load(ctx)
	require.NoError(err)
	assert.True(local.Equal(got.ExpiresAt))
	assert.Equal(time.UTC, got.ExpiresAt.Location())
	assert.Equal(&Session{AccessToken: "access", ExpiresAt: local.UTC()}, got)
}

func TestStore_Session(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	kv := storage.NewMemoryKV()
	s, err := NewStore(kv)
	require.NoError(err)

	got, err := s.Load(ctx)
	require.NoError(err)
	assert.Nil(got, "empty store")

	want := &Session{
		Username:     "alice",
		AccessToken:  "access",
		RefreshToken: "refresh",
		IDToken:      "id",
		ExpiresAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(s.Save(ctx, want))
	got, err = s.Load(ctx)
	require.NoError(err)
	assert.Equal(want.Username, got.Username)
	assert.Equal(want.AccessToken, got.AccessToken)
	assert.Equal(want.RefreshToken, got.RefreshToken)
	assert.Equal(want.IDToken, got.IDToken)
	assert.True(want.ExpiresAt.Equal(got.ExpiresAt))
	assert.Equal(want, got)

	require.NoError(s.Clear(ctx))
	got, err = s.Load(ctx)
	require.NoError(err)
	assert.Nil(got)

	assert.ErrorIs(s.Save(ctx, nil), ErrNilParameter)
	assert.ErrorIs(s.Save(ctx, &Session{Username: "no-token"}), ErrInvalidParameter)
}

func TestStore_SurvivesReload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	dir := t.TempDir()

	kv, err := storage.NewFileKV(dir)
	require.NoError(err)
	s, err := NewStore(kv)
	require.NoError(err)
	require.NoError(s.Save(ctx, &Session{Username: "alice", AccessToken: "T1"}))

	kv2, err := storage.NewFileKV(dir)
	require.NoError(err)
	s2, err := NewStore(kv2)
	require.NoError(err)
	got, err := s2.Load(ctx)
	require.NoError(err)
	require.NotNil(got)
	assert.Equal("T1", got.AccessToken)
}

func TestStore_Corrupt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	require.NoError(t, kv.Set(ctx, "custom", []byte("not json"), 0))
	s, err := NewStore(kv, WithKey("custom"))
	require.NoError(t, err)
	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestStore_Requests(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	kv := storage.NewMemoryKV()
	s, err := NewStore(kv)
	require.NoError(err)

	v, err := oidc.NewCodeVerifier()
	require.NoError(err)
	req, err := oidc.NewRequest(time.Minute, "http://127.0.0.1:8250/callback", oidc.WithPKCE(v), oidc.WithReturnTo("/layers"))
	require.NoError(err)
	require.NoError(s.SaveRequest(ctx, req))

	_, err = kv.Get(ctx, RequestKeyPrefix+req.State())
	require.NoError(err, "request is stored under its state")

	got, err := s.TakeRequest(ctx, req.State())
	require.NoError(err)
	assert.Equal(req.State(), got.State())
	assert.Equal(req.Nonce(), got.Nonce())
	assert.Equal("/layers", got.ReturnTo())
	assert.Equal(v.Verifier(), got.PKCEVerifier().Verifier())

	_, err = s.TakeRequest(ctx, req.State())
	assert.ErrorIs(err, ErrNotFound, "requests are read-once")

	_, err = s.TakeRequest(ctx, "")
	assert.ErrorIs(err, ErrInvalidParameter)
	assert.ErrorIs(s.SaveRequest(ctx, nil), ErrNilParameter)

	expired, err := oidc.NewRequest(time.Minute, "http://127.0.0.1:8250/callback",
		oidc.WithNow(func() time.Time { return time.Now().Add(-time.Hour) }))
	require.NoError(err)
	assert.ErrorIs(s.SaveRequest(ctx, expired), ErrInvalidParameter)
}
