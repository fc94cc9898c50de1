// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package proxy

import (
	"errors"
	"math/rand/v2"
	"sort"
	"strings"
)

// Errors returned by route/backend resolution, mapped to HTTP status codes
// by the Server (404/503/500 respectively).
var (
	ErrRouteNotFound           = errors.New("no matching bind/listener/route")
	ErrBackendDoesNotExist     = errors.New("backend reference resolved to invalid")
	ErrBackendAuthFailed       = errors.New("backend authentication failed")
)

// Resolver holds the static routing tree (Listeners grouped by Bind) and
// implements bind/listener/route/backend selection per the hostname-match
// and weighted-random rules.
type Resolver struct {
	listenersByBind map[Bind][]*Listener
}

// NewResolver creates an empty Resolver.
func NewResolver() *Resolver {
	return &Resolver{listenersByBind: make(map[Bind][]*Listener)}
}

// AddListener registers a Listener under its Bind.
func (r *Resolver) AddListener(l *Listener) {
	r.listenersByBind[l.Bind] = append(r.listenersByBind[l.Bind], l)
}

// SelectListener picks the Listener on bind whose Hostname matches sni (for
// TLS/HBONE) or host (the HTTP Host header) most specifically. An empty
// Listener.Hostname matches anything. Returns nil if bind has no listeners
// or none match.
func (r *Resolver) SelectListener(bind Bind, sni, host string) *Listener {
	candidate := sni
	if candidate == "" {
		candidate = host
	}
	listeners := r.listenersByBind[bind]
	var best *Listener
	bestKind := HostMatchNone - 1
	for _, l := range listeners {
		kind, ok := matchHostname(l.Hostname, candidate)
		if !ok {
			continue
		}
		if kind > bestKind {
			best = l
			bestKind = kind
		}
	}
	return best
}

// matchHostname reports how specifically pattern matches host, mirroring
// the exact > wildcard-suffix > none precedence used for route selection.
// An empty pattern always matches at HostMatchNone precedence.
func matchHostname(pattern, host string) (HostMatchKind, bool) {
	if pattern == "" {
		return HostMatchNone, true
	}
	if strings.EqualFold(pattern, host) {
		return HostMatchExact, true
	}
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:] // ".example.com"
		if len(host) > len(suffix) && strings.HasSuffix(strings.ToLower(host), strings.ToLower(suffix)) {
			return HostMatchWildcardSuffix, true
		}
	}
	return HostMatchNone, false
}

// SelectHTTPRoute picks the best HTTPRoute on the listener whose hostname
// matches host, using exact > wildcard-suffix > none precedence; ties are
// broken by earliest CreatedAt then lexicographically smallest
// NamespacedName. matches(route) additionally filters by path/method/
// header/query — callers pass a predicate since matcher evaluation needs
// the live *http.Request.
func SelectHTTPRoute(routes []*HTTPRoute, host string, matches func(*HTTPRoute) bool) *HTTPRoute {
	var candidates []*HTTPRoute
	bestKind := HostMatchNone - 1
	for _, rt := range routes {
		kind, ok := matchHostname(rt.Hostname, host)
		if !ok || (matches != nil && !matches(rt)) {
			continue
		}
		if kind > bestKind {
			bestKind = kind
			candidates = []*HTTPRoute{rt}
		} else if kind == bestKind {
			candidates = append(candidates, rt)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.NamespacedName < b.NamespacedName
	})
	return candidates[0]
}

// SelectTCPRoute is the TCP analog of SelectHTTPRoute, matched on SNI alone.
func SelectTCPRoute(routes []*TCPRoute, sni string) *TCPRoute {
	var candidates []*TCPRoute
	bestKind := HostMatchNone - 1
	for _, rt := range routes {
		kind, ok := matchHostname(rt.Hostname, sni)
		if !ok {
			continue
		}
		if kind > bestKind {
			bestKind = kind
			candidates = []*TCPRoute{rt}
		} else if kind == bestKind {
			candidates = append(candidates, rt)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.NamespacedName < b.NamespacedName
	})
	return candidates[0]
}

// SelectBackend picks one backend reference from a weighted list
// (choose_weighted); for BackendRefAI entries it then applies two-choices
// selection over the backend's own EndpointSet. Returns ErrBackendDoesNotExist
// if refs is empty or the chosen reference is Invalid.
func SelectBackend(refs []BackendRef) (*SimpleBackend, *BackendRef, error) {
	ref := chooseWeighted(refs)
	if ref == nil || ref.Kind == BackendRefInvalid {
		return nil, ref, ErrBackendDoesNotExist
	}
	switch ref.Kind {
	case BackendRefAI:
		if ref.AIBackend == nil {
			return nil, ref, ErrBackendDoesNotExist
		}
		endpoint := ref.AIBackend.Endpoints.SelectTwoChoices()
		if endpoint == nil {
			return nil, ref, ErrBackendDoesNotExist
		}
		return &SimpleBackend{Provider: &endpoint.Value, Policies: ref.Policies}, ref, nil
	case BackendRefOpaque:
		return &SimpleBackend{Target: ref.Target, Policies: ref.Policies}, ref, nil
	case BackendRefService:
		return &SimpleBackend{Target: ref.Namespace + "/" + ref.Name, Policies: ref.Policies}, ref, nil
	default:
		return nil, ref, ErrBackendDoesNotExist
	}
}

// chooseWeighted picks one entry from refs with probability proportional to
// Weight (treating a non-positive Weight as 1). Returns nil for an empty list.
func chooseWeighted(refs []BackendRef) *BackendRef {
	if len(refs) == 0 {
		return nil
	}
	total := 0
	for _, r := range refs {
		w := r.Weight
		if w <= 0 {
			w = 1
		}
		total += w
	}
	pick := rand.IntN(total)
	for i := range refs {
		w := refs[i].Weight
		if w <= 0 {
			w = 1
		}
		if pick < w {
			return &refs[i]
		}
		pick -= w
	}
	return &refs[len(refs)-1]
}
