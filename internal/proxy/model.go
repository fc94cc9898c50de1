// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package proxy implements the standalone HTTP/TCP front-end: the static
// Bind/Listener/Route/Backend routing tree and the selection algorithms that
// turn an accepted connection into a resolved backend target.
package proxy

import (
	"crypto/tls"
	"time"
)

// Protocol is the wire protocol a Listener speaks.
type Protocol int

const (
	// ProtocolHTTP is plaintext HTTP/1.1 or HTTP/2 (h2c).
	ProtocolHTTP Protocol = iota
	// ProtocolTLS is TLS-terminated HTTP, negotiated via ALPN (h2, http/1.1).
	ProtocolTLS
	// ProtocolHBONE is HTTP/2 CONNECT tunneling inside mTLS (istio ALPN).
	ProtocolHBONE
)

// Bind is a key identifying a listening socket. It is not an address: many
// Listeners can share one Bind (selected further by SNI/hostname), and the
// same Bind key is reused across reloads to keep the underlying socket.
type Bind string

// HostMatchKind ranks how specifically a hostname pattern matched, used to
// break ties between routes: Exact beats WildcardSuffix beats None.
type HostMatchKind int

const (
	// HostMatchNone means the route carries no hostname restriction.
	HostMatchNone HostMatchKind = iota
	// HostMatchWildcardSuffix means the route matched via a "*.example.com" pattern.
	HostMatchWildcardSuffix
	// HostMatchExact means the route's hostname matched the request exactly.
	HostMatchExact
)

// Listener has a protocol, an optional TLS config, a hostname used for SNI/
// Host-header based selection, a set of HTTP routes, and a set of TCP routes
// keyed by hostname match.
type Listener struct {
	Bind     Bind
	Protocol Protocol
	// Hostname selects this Listener among others sharing a Bind, matched
	// against SNI for TLS/HBONE or the HTTP Host header otherwise. Empty
	// matches any hostname.
	Hostname string
	TLS      *tls.Config

	HTTPRoutes []*HTTPRoute
	TCPRoutes  []*TCPRoute
}

// BackendRefKind discriminates the three ways a route can reference a backend.
type BackendRefKind int

const (
	// BackendRefService names a namespaced hostname and port, resolved
	// through service discovery.
	BackendRefService BackendRefKind = iota
	// BackendRefOpaque names a concrete host:port target directly.
	BackendRefOpaque
	// BackendRefInvalid is a reference that failed to parse or resolve;
	// routing to it always yields BackendDoesNotExist.
	BackendRefInvalid
	// BackendRefAI names an AIBackend, resolved via two-choices endpoint
	// selection rather than weighted-random.
	BackendRefAI
)

// BackendRef is one weighted entry in a route's backend list.
type BackendRef struct {
	Kind   BackendRefKind
	Weight int

	// Service fields (BackendRefService).
	Namespace string
	Name      string
	Port      int

	// Opaque fields (BackendRefOpaque).
	Target string

	// AI fields (BackendRefAI).
	AIBackend *AIBackend

	Policies BackendPolicies
}

// BackendPolicies are the inline, per-backend-reference policy overrides
// merged into the resolved SimpleBackend's effective policy set.
type BackendPolicies struct {
	Timeout time.Duration
	Retry   *RetryPolicy
}

// RetryPolicy configures upstream retry behavior for a backend reference.
type RetryPolicy struct {
	Attempts   int
	PerTryTime time.Duration
}

// HTTPMatch is one matcher clause (path/method/header/query) for an HTTPRoute.
type HTTPMatch struct {
	PathPrefix  string
	PathExact   string
	Method      string
	HeaderName  string
	HeaderValue string
	QueryName   string
	QueryValue  string
}

// HTTPRoute carries matchers, an ordered filter list, and a weighted backend
// list. CreatedAt and NamespacedName are used only to break hostname-match
// ties deterministically.
type HTTPRoute struct {
	Hostname        string
	HostMatch       HostMatchKind
	Matches         []HTTPMatch
	Filters         []string
	Timeout         time.Duration
	Retry           *RetryPolicy
	Backends        []BackendRef
	CreatedAt       time.Time
	NamespacedName  string
}

// TCPRoute is the TCP analog of HTTPRoute: a hostname match (from SNI) plus
// a weighted backend list.
type TCPRoute struct {
	Hostname        string
	HostMatch       HostMatchKind
	Backends        []BackendRef
	CreatedAt       time.Time
	NamespacedName  string
}

// ProviderType enumerates the AI providers an AIBackend endpoint can target.
type ProviderType int

const (
	ProviderOpenAI ProviderType = iota
	ProviderAnthropic
	ProviderGemini
	ProviderVertex
	ProviderBedrock
	ProviderAzureOpenAI
)

// NamedAIProvider is one endpoint in an AIBackend's EndpointSet.
type NamedAIProvider struct {
	Name          string
	Provider      ProviderType
	ModelOverride string
	HostOverride  string
	PathOverride  string
	Tokenize      bool
	Policies      BackendPolicies
}

// AIBackend holds the set of provider endpoints a request routed to this
// backend reference may be dispatched to; SelectProvider applies
// power-of-two-choices weighted by endpoint health (see endpointset.go).
type AIBackend struct {
	Endpoints *EndpointSet[NamedAIProvider]
}

// SimpleBackend is the concrete, resolved dispatch target produced by the
// Resolver: either a dialable network address (opaque/service) or an AI
// provider endpoint, never both.
type SimpleBackend struct {
	Target   string // host:port, empty for AI backends
	Provider *NamedAIProvider
	Policies BackendPolicies
}
