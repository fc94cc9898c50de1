// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package caclient fetches and refreshes a workload mTLS certificate from
// an Istio Citadel-compatible CA over the istio.v1.auth
// IstioCertificateService, grounded on original_source's
// control/caclient.rs. The fetch/backoff/refresh state machine is
// ported one to one; the `tokio::sync::watch` channel it uses to publish
// state has no direct Go equivalent, so it is replaced with a small
// broadcaster built from a mutex and per-waiter close-on-update channels,
// the usual Go substitute for a single-value pub/sub primitive.
package caclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	securityv1alpha1 "istio.io/api/security/v1alpha1"
)

// Initial backoff delay after a failed certificate fetch.
const initialBackoff = 1 * time.Second

// Maximum backoff delay between retry attempts.
const maxBackoff = 120 * time.Second

// How often to check if a refresh is needed once we hold a valid cert.
const checkInterval = 30 * time.Second

var (
	// ErrNotReady is returned when no certificate has ever been fetched and
	// the fetcher goroutine has stopped (e.g. context cancellation).
	ErrNotReady = errors.New("caclient: certificate not ready")
	// ErrExpired is returned when the only certificate on hand has expired.
	ErrExpired = errors.New("caclient: certificate expired")
)

// Config configures the CA client. TLSConfig and DialOptions control how
// the gRPC channel to the CA is established; pass nil/none for a plain
// insecure connection (e.g. istiod's debug port) or supply
// credentials.TransportCredentials for TLS.
type Config struct {
	// Address is the CA's gRPC endpoint, "host:port".
	Address string
	// SecretTTL is the certificate validity requested on each CSR.
	SecretTTL time.Duration
	// Identity is the SPIFFE identity to request, e.g.
	// "spiffe://cluster.local/ns/default/sa/agentgateway".
	Identity string
	// DialOptions are appended to the default gRPC dial options; use this
	// to supply transport credentials, keepalive, and auth interceptors.
	DialOptions []grpc.DialOption
}

func (c Config) dialOptions() []grpc.DialOption {
	if len(c.DialOptions) > 0 {
		return c.DialOptions
	}
	return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
}

type stateKind int

const (
	stateNotReady stateKind = iota
	stateAvailable
	stateError
)

type certState struct {
	kind stateKind
	cert *WorkloadCertificate
	err  error
}

// broadcaster is a single-value watch primitive: Set publishes a new
// value and wakes every outstanding Wait channel; Get reads the current
// value without blocking.
type broadcaster struct {
	mu   sync.Mutex
	cur  certState
	subs []chan struct{}
}

func (b *broadcaster) Get() certState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cur
}

func (b *broadcaster) Set(s certState) {
	b.mu.Lock()
	b.cur = s
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
}

// Wait returns a channel that is closed the next time Set is called.
func (b *broadcaster) Wait() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan struct{})
	b.subs = append(b.subs, ch)
	return ch
}

// Client fetches and refreshes a workload certificate in the background.
// The zero value is not usable; construct with New.
type Client struct {
	config Config
	state  broadcaster
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts the background fetcher and returns immediately; the first
// certificate is not available until the fetcher completes its first CA
// round trip, which GetIdentity blocks on.
func New(cfg Config) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{config: cfg, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(c.done)
		c.runFetcher(ctx)
	}()
	return c
}

// Close stops the background fetcher. It does not invalidate any
// certificate already handed out.
func (c *Client) Close() {
	c.cancel()
	<-c.done
}

// GetIdentity returns the current certificate, blocking until the first
// one is available or ctx is cancelled. After the first successful
// fetch this returns immediately (a cached, possibly-refreshed cert).
func (c *Client) GetIdentity(ctx context.Context) (*WorkloadCertificate, error) {
	for {
		s := c.state.Get()
		switch s.kind {
		case stateAvailable:
			if s.cert.IsExpired() {
				return nil, ErrExpired
			}
			return s.cert, nil
		case stateError:
			return nil, s.err
		default:
			select {
			case <-c.state.Wait():
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
}

func (c *Client) runFetcher(ctx context.Context) {
	backoff := initialBackoff
	nextAttempt := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(nextAttempt)):
		}

		cur := c.state.Get()
		shouldFetch := true
		var validExpiry *time.Time
		switch cur.kind {
		case stateAvailable:
			shouldFetch = time.Now().After(cur.cert.RefreshAt()) || time.Now().Equal(cur.cert.RefreshAt())
			if !cur.cert.IsExpired() {
				t := cur.cert.Expiry.NotAfter
				validExpiry = &t
			}
		}

		if !shouldFetch {
			nextAttempt = time.Now().Add(checkInterval)
			continue
		}

		cert, err := c.fetchCertificate(ctx)
		if err == nil {
			c.state.Set(certState{kind: stateAvailable, cert: cert})
			backoff = initialBackoff
			nextAttempt = time.Now().Add(checkInterval)
			continue
		}
		if errors.Is(err, context.Canceled) {
			return
		}

		retryDelay := backoff
		if validExpiry != nil {
			if untilExpiry := time.Until(*validExpiry); untilExpiry < retryDelay {
				retryDelay = untilExpiry
			}
			// We still hold a valid certificate: keep using it and just retry.
		} else {
			c.state.Set(certState{kind: stateError, err: err})
		}
		nextAttempt = time.Now().Add(retryDelay)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Client) fetchCertificate(ctx context.Context) (*WorkloadCertificate, error) {
	conn, err := grpc.NewClient(c.config.Address, c.config.dialOptions()...)
	if err != nil {
		return nil, fmt.Errorf("caclient: cannot dial %s: %w", c.config.Address, err)
	}
	defer func() { _ = conn.Close() }()

	client := securityv1alpha1.NewIstioCertificateServiceClient(conn)

	signed, err := generateCSR(c.config.Identity)
	if err != nil {
		return nil, fmt.Errorf("caclient: cannot generate CSR: %w", err)
	}

	resp, err := client.CreateCertificate(ctx, &securityv1alpha1.IstioCertificateRequest{
		Csr:              signed.CSRPEM,
		ValidityDuration: int64(c.config.SecretTTL.Seconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("caclient: CreateCertificate: %w", err)
	}

	chain := resp.GetCertChain()
	if len(chain) == 0 {
		return nil, errors.New("caclient: empty certificate response")
	}

	cert, err := newWorkloadCertificate(signed.PrivateKeyPEM, []byte(chain[0]), pemStrings(chain[1:]))
	if err != nil {
		return nil, err
	}
	if cert.Identity != c.config.Identity {
		return nil, fmt.Errorf("caclient: certificate SAN mismatch: expected %s, got %s", c.config.Identity, cert.Identity)
	}
	return cert, nil
}

func pemStrings(s []string) [][]byte {
	out := make([][]byte, len(s))
	for i, v := range s {
		out[i] = []byte(v)
	}
	return out
}
