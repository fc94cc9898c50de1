// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package caclient

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"net/url"
)

// signedCSR is the output of generateCSR: a PEM-encoded PKCS#10 request
// plus the PEM-encoded private key it was signed with.
type signedCSR struct {
	CSRPEM        []byte
	PrivateKeyPEM []byte
}

// generateCSR builds an ECDSA P-256/SHA-256 certificate signing request
// carrying san as a URI SubjectAltName, matching the original's
// rcgen-based CsrOptions.generate (PKCS_ECDSA_P256_SHA256, no CN set).
func generateCSR(san string) (*signedCSR, error) {
	uri, err := url.Parse(san)
	if err != nil {
		return nil, fmt.Errorf("invalid SAN URI %q: %w", san, err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cannot generate ECDSA key: %w", err)
	}

	template := &x509.CertificateRequest{
		// Deliberately no Subject.CommonName: a real CA only cares about the
		// SPIFFE URI SAN below.
		Subject:            pkix.Name{},
		SignatureAlgorithm: x509.ECDSAWithSHA256,
		URIs:               []*url.URL{uri},
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	if err != nil {
		return nil, fmt.Errorf("cannot create CSR: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal private key: %w", err)
	}

	return &signedCSR{
		CSRPEM:        pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}),
		PrivateKeyPEM: pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	}, nil
}
