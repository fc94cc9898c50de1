// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// Mode controls how Jwt reacts to a missing or invalid token.
type Mode int

const (
	// ModeOptional passes requests through unauthenticated when no token
	// is present, but rejects an invalid one. Default.
	ModeOptional Mode = iota
	// ModeStrict rejects any request without a valid token.
	ModeStrict
	// ModePermissive never rejects a request; invalid or missing tokens
	// are logged and the request proceeds unauthenticated.
	ModePermissive
)

// Provider is one configured JWT issuer: the set of keys it signs with
// and the audiences it is allowed to target.
type Provider struct {
	Issuer    string
	Audiences []string
	keys      map[string]jwk
}

// NewProviderFromJWKS builds a Provider from a static JWKS document, the
// inline-keys path of the original's Provider::from_jwks.
func NewProviderFromJWKS(jwksJSON []byte, issuer string, audiences []string) (*Provider, error) {
	keys, err := parseJWKSet(jwksJSON)
	if err != nil {
		return nil, err
	}
	return newProvider(issuer, audiences, keys), nil
}

// NewProviderFromDiscovery resolves jwks_uri via OIDC discovery on issuer
// and fetches the JWKS from there, the original's Provider::from_issuer
// discovery path.
func NewProviderFromDiscovery(ctx context.Context, issuer string, audiences []string) (*Provider, error) {
	oidcProvider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("policy: OIDC discovery failed for issuer %q: %w", issuer, err)
	}
	var discovery struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := oidcProvider.Claims(&discovery); err != nil {
		return nil, fmt.Errorf("policy: OIDC discovery document for %q has no jwks_uri: %w", issuer, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discovery.JWKSURI, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("policy: fetching JWKS from %q: %w", discovery.JWKSURI, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("policy: fetching JWKS from %q: unexpected status %d", discovery.JWKSURI, resp.StatusCode)
	}

	keys, err := parseJWKSet(body)
	if err != nil {
		return nil, err
	}
	return newProvider(issuer, audiences, keys), nil
}

func newProvider(issuer string, audiences []string, keys []jwk) *Provider {
	m := make(map[string]jwk, len(keys))
	for _, k := range keys {
		m[k.kid] = k
	}
	return &Provider{Issuer: issuer, Audiences: audiences, keys: m}
}

// Claims is the result of a successful token validation.
type Claims struct {
	Inner jwt.MapClaims
	Raw   string
}

// Jwt validates bearer tokens against a set of configured issuers,
// grounded on http/jwt.rs.
type Jwt struct {
	Mode      Mode
	Providers []*Provider
}

// NewJwt builds a Jwt policy from the given providers.
func NewJwt(mode Mode, providers ...*Provider) *Jwt {
	return &Jwt{Mode: mode, Providers: providers}
}

type claimsContextKey struct{}

// ClaimsFromContext returns the Claims attached by a prior Jwt.Apply call,
// if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*Claims)
	return c, ok
}

// Apply implements Policy.
func (j *Jwt) Apply(req *http.Request) (Response, error) {
	token := bearerToken(req.Header.Get("Authorization"))
	if token == "" {
		if j.Mode == ModeStrict {
			return Response{}, fmt.Errorf("policy: missing bearer token")
		}
		return Response{}, nil
	}

	claims, err := j.validateClaims(token)
	if err != nil {
		if j.Mode == ModePermissive {
			return Response{}, nil
		}
		return Response{}, fmt.Errorf("policy: invalid JWT: %w", err)
	}

	req.Header.Del("Authorization")
	*req = *req.WithContext(context.WithValue(req.Context(), claimsContextKey{}, claims))
	return Response{}, nil
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

// validateClaims mirrors Jwt::validate_claims: it peeks at the unverified
// kid, finds the matching provider/key pair across all configured
// providers, then fully verifies signature, issuer and audience.
func (j *Jwt) validateClaims(token string) (*Claims, error) {
	unverified, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("cannot parse token header: %w", err)
	}
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("token is missing a kid header")
	}

	provider, key, ok := j.findKey(kid)
	if !ok {
		return nil, fmt.Errorf("no configured provider has a key matching kid %q", kid)
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{key.alg}), jwt.WithIssuer(provider.Issuer))
	claims := jwt.MapClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return key.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("signature or claim verification failed: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("token is not valid")
	}

	if len(provider.Audiences) > 0 && !audienceMatches(claims, provider.Audiences) {
		return nil, fmt.Errorf("token audience does not match any configured audience")
	}

	return &Claims{Inner: claims, Raw: token}, nil
}

func (j *Jwt) findKey(kid string) (*Provider, jwk, bool) {
	for _, p := range j.Providers {
		if k, ok := p.keys[kid]; ok {
			return p, k, true
		}
	}
	return nil, jwk{}, false
}

// audienceMatches implements "match any configured audience", since the
// original's jsonwebtoken crate and jwt/v5 both only natively support a
// single expected audience, whereas providers here may list several.
func audienceMatches(claims jwt.MapClaims, audiences []string) bool {
	raw, ok := claims["aud"]
	if !ok {
		return false
	}

	var tokenAuds []string
	switch v := raw.(type) {
	case string:
		tokenAuds = []string{v}
	case []interface{}:
		for _, e := range v {
			if s, ok := e.(string); ok {
				tokenAuds = append(tokenAuds, s)
			}
		}
	case json.Number:
		tokenAuds = []string{v.String()}
	}

	for _, want := range audiences {
		for _, got := range tokenAuds {
			if want == got {
				return true
			}
		}
	}
	return false
}
