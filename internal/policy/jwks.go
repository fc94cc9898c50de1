// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package policy

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
)

// jwkSet is the subset of RFC 7517 this package understands: RSA and
// EC public keys, matching the algorithms the original supports via
// jsonwebtoken::jwk::AlgorithmParameters.
type jwkSet struct {
	Keys []rawJWK `json:"keys"`
}

type rawJWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	// RSA
	N string `json:"n"`
	E string `json:"e"`
	// EC
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

type jwk struct {
	kid string
	alg string
	key crypto.PublicKey
}

// parseJWKSet parses raw JWKS JSON into the kid-keyed, algorithm-tagged
// keys this package validates tokens against. Keys with an algorithm
// this package cannot use are skipped, matching the original's "warn
// and continue" handling of unsupported key algorithms.
func parseJWKSet(data []byte) ([]jwk, error) {
	var set jwkSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("policy: cannot parse JWKS: %w", err)
	}

	out := make([]jwk, 0, len(set.Keys))
	for _, raw := range set.Keys {
		if raw.Kid == "" {
			return nil, fmt.Errorf("policy: JWK is missing the kid attribute")
		}
		switch raw.Kty {
		case "RSA":
			pub, err := rsaPublicKey(raw)
			if err != nil {
				return nil, fmt.Errorf("policy: cannot decode RSA key %q: %w", raw.Kid, err)
			}
			out = append(out, jwk{kid: raw.Kid, alg: rsaAlg(raw.Alg), key: pub})
		case "EC":
			pub, err := ecPublicKey(raw)
			if err != nil {
				return nil, fmt.Errorf("policy: cannot decode EC key %q: %w", raw.Kid, err)
			}
			out = append(out, jwk{kid: raw.Kid, alg: ecAlg(raw.Crv), key: pub})
		default:
			// Unsupported key type (e.g. "oct", "OKP"); skip it, matching the
			// original's non-fatal "tokens signed by that key will not be
			// accepted" warning.
			continue
		}
	}
	return out, nil
}

func rsaAlg(alg string) string {
	if alg != "" {
		return alg
	}
	return "RS256"
}

func ecAlg(crv string) string {
	switch crv {
	case "P-384":
		return "ES384"
	case "P-521":
		return "ES512"
	default:
		return "ES256"
	}
}

func rsaPublicKey(raw rawJWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(raw.N)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(raw.E)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

func ecPublicKey(raw rawJWK) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch raw.Crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported curve %q", raw.Crv)
	}
	xBytes, err := base64.RawURLEncoding.DecodeString(raw.X)
	if err != nil {
		return nil, fmt.Errorf("invalid x coordinate: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(raw.Y)
	if err != nil {
		return nil, fmt.Errorf("invalid y coordinate: %w", err)
	}
	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}
