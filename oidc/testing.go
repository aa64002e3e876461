// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// TestGenerateKeys will generate a test ECDSA P-256 pub/priv key pair.
func TestGenerateKeys(t *testing.T) (crypto.PublicKey, crypto.PrivateKey) {
	t.Helper()
	require := require.New(t)
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)
	return &priv.PublicKey, priv
}

// TestSignJWT will bundle the provided claims into a test signed JWT.
func TestSignJWT(t *testing.T, key crypto.PrivateKey, alg string, claims interface{}, keyID []byte) string {
	t.Helper()
	require := require.New(t)
	raw, err := signJWT(key, alg, claims, string(keyID))
	require.NoError(err)
	return raw
}

func signJWT(key crypto.PrivateKey, alg string, claims interface{}, keyID string) (string, error) {
	hdr := map[jose.HeaderKey]interface{}{}
	if keyID != "" {
		hdr["kid"] = keyID
	}
	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.SignatureAlgorithm(alg), Key: key},
		(&jose.SignerOptions{ExtraHeaders: hdr}).WithType("JWT"),
	)
	if err != nil {
		return "", err
	}
	return jwt.Signed(sig).Claims(claims).CompactSerialize()
}
