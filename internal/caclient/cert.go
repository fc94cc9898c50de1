// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package caclient

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Expiration mirrors the certificate's NotBefore/NotAfter validity
// window.
type Expiration struct {
	NotBefore time.Time
	NotAfter  time.Time
}

// WorkloadCertificate is a fetched mTLS identity: the leaf certificate
// and its chain, the matching private key, and the root pool used to
// verify peers presenting the same trust domain. It caches the
// *tls.Config built for a given destination identity set, since pool
// membership (not config identity) is what makes Go's HTTP/2 connection
// pooling reuse connections.
type WorkloadCertificate struct {
	Identity   string
	Expiry     Expiration
	roots      *x509.CertPool
	chain      [][]byte // leaf + intermediates, DER, in x509.Certificate.Raw order
	leaf       *x509.Certificate
	privateKey crypto.Signer

	mu          sync.RWMutex
	legacyCache map[string]*tls.Config
	hboneCache  map[string]*tls.Config
}

// IsExpired reports whether the certificate's validity window has
// already closed.
func (c *WorkloadCertificate) IsExpired() bool {
	return time.Now().After(c.Expiry.NotAfter)
}

// RefreshAt returns the midpoint of the validity window, matching the
// original's half-life refresh policy.
func (c *WorkloadCertificate) RefreshAt() time.Time {
	validFor := c.Expiry.NotAfter.Sub(c.Expiry.NotBefore)
	if validFor <= 0 {
		return c.Expiry.NotAfter
	}
	return c.Expiry.NotBefore.Add(validFor / 2)
}

func cacheKey(identities []string) string {
	cp := append([]string(nil), identities...)
	sort.Strings(cp)
	return strings.Join(cp, ",")
}

func (c *WorkloadCertificate) clientConfig(cache map[string]*tls.Config, identities []string, alpn []string, sni bool) (*tls.Config, error) {
	key := cacheKey(identities)

	c.mu.RLock()
	if cfg, ok := cache[key]; ok {
		c.mu.RUnlock()
		return cfg, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg, ok := cache[key]; ok {
		return cfg, nil
	}

	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		RootCAs:      c.roots,
		Certificates: []tls.Certificate{{Certificate: c.chain, PrivateKey: c.privateKey, Leaf: c.leaf}},
		NextProtos:   alpn,
		ServerName:   "",
	}
	if !sni {
		// hbone connections dial by workload address, not hostname; skip SNI
		// and rely on the custom identity verifier below instead.
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = verifyPeerIdentity(c.roots, identities)
	}
	cache[key] = cfg
	return cfg, nil
}

// LegacyMTLS returns (building and caching as needed) a *tls.Config for
// sidecar-style mTLS to peers whose SPIFFE identity must be one of
// identities, with ALPN "istio".
func (c *WorkloadCertificate) LegacyMTLS(identities []string) (*tls.Config, error) {
	return c.clientConfig(c.legacyCache, identities, []string{"istio"}, true)
}

// HboneMTLS returns (building and caching as needed) a *tls.Config for
// HBONE (ambient mesh tunnel) connections, ALPN "h2", SNI disabled.
func (c *WorkloadCertificate) HboneMTLS(identities []string) (*tls.Config, error) {
	return c.clientConfig(c.hboneCache, identities, []string{"h2"}, false)
}

// HboneTermination returns a server-side *tls.Config for terminating
// HBONE connections, requiring a client certificate from the pool.
func (c *WorkloadCertificate) HboneTermination() *tls.Config {
	return c.serverConfig(nil)
}

// HTTPSMTLSTermination returns a server-side *tls.Config for HTTPS
// listeners that accept both mesh mTLS clients (ALPN "istio") and plain
// HTTP/2 or HTTP/1.1 clients.
func (c *WorkloadCertificate) HTTPSMTLSTermination() *tls.Config {
	return c.serverConfig([]string{"istio", "h2", "http/1.1"})
}

func (c *WorkloadCertificate) serverConfig(alpn []string) *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		ClientCAs:    c.roots,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		Certificates: []tls.Certificate{{Certificate: c.chain, PrivateKey: c.privateKey, Leaf: c.leaf}},
		NextProtos:   alpn,
	}
}

// verifyPeerIdentity returns a VerifyPeerCertificate callback that
// checks the peer's leaf certificate chains to roots and carries a
// SPIFFE URI SAN in wantIdentities, replacing Go's hostname-based
// verification (disabled via InsecureSkipVerify) with an identity-based
// check equivalent to the original's IdentityVerifier.
func verifyPeerIdentity(roots *x509.CertPool, wantIdentities []string) func([][]byte, [][]*x509.Certificate) error {
	want := make(map[string]bool, len(wantIdentities))
	for _, id := range wantIdentities {
		want[id] = true
	}
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.New("caclient: no peer certificate presented")
		}
		leaf, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("caclient: cannot parse peer certificate: %w", err)
		}
		intermediates := x509.NewCertPool()
		for _, raw := range rawCerts[1:] {
			ic, err := x509.ParseCertificate(raw)
			if err == nil {
				intermediates.AddCert(ic)
			}
		}
		if _, err := leaf.Verify(x509.VerifyOptions{Roots: roots, Intermediates: intermediates, KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny}}); err != nil {
			return fmt.Errorf("caclient: peer certificate verification failed: %w", err)
		}
		for _, u := range leaf.URIs {
			if want[u.String()] {
				return nil
			}
		}
		return fmt.Errorf("caclient: peer identity not in expected set %v", wantIdentities)
	}
}

// newWorkloadCertificate parses the PEM leaf/chain returned by the CA
// alongside the PEM private key generated for the CSR, following the
// original's WorkloadCertificate::new: the last PEM block in the chain
// is treated as the (possibly multi-certificate) root bundle, everything
// in between is an intermediate.
func newWorkloadCertificate(keyPEM []byte, leafPEM []byte, chainPEM [][]byte) (*WorkloadCertificate, error) {
	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}
	leaf, err := parseCert(leafPEM)
	if err != nil {
		return nil, err
	}
	identity, err := certIdentity(leaf)
	if err != nil {
		return nil, err
	}

	if len(chainPEM) == 0 {
		return nil, errors.New("caclient: no root certificate present")
	}
	rootBundle := chainPEM[len(chainPEM)-1]
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(rootBundle) {
		return nil, errors.New("caclient: no valid root certificates found")
	}

	chainDER := [][]byte{leaf.Raw}
	for _, block := range chainPEM[:len(chainPEM)-1] {
		ic, err := parseCert(block)
		if err != nil {
			return nil, err
		}
		chainDER = append(chainDER, ic.Raw)
	}

	return &WorkloadCertificate{
		Identity:    identity,
		Expiry:      Expiration{NotBefore: leaf.NotBefore, NotAfter: leaf.NotAfter},
		roots:       roots,
		chain:       chainDER,
		leaf:        leaf,
		privateKey:  key,
		legacyCache: map[string]*tls.Config{},
		hboneCache:  map[string]*tls.Config{},
	}, nil
}

func parsePrivateKey(keyPEM []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("caclient: no private key PEM block found")
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if signer, ok := key.(crypto.Signer); ok {
			return signer, nil
		}
		return nil, errors.New("caclient: PKCS8 key is not a signer")
	}
	return nil, errors.New("caclient: unsupported private key encoding")
}

func parseCert(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("caclient: no certificate PEM block found")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("caclient: cannot parse certificate: %w", err)
	}
	return cert, nil
}

// certIdentity extracts the SPIFFE URI SAN from a leaf certificate, the
// Go analog of the original's x509_parser-based `identity` helper.
func certIdentity(cert *x509.Certificate) (string, error) {
	for _, u := range cert.URIs {
		if u.Scheme == "spiffe" {
			return u.String(), nil
		}
	}
	return "", errors.New("caclient: no SPIFFE identity found in certificate SAN")
}
