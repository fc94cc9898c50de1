// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package policy

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSConfig is the user-facing configuration for CORS.
type CORSConfig struct {
	AllowCredentials bool
	AllowHeaders     []string
	AllowMethods     []string
	AllowOrigins     []string
	ExposeHeaders    []string
	MaxAge           *time.Duration
}

type wildcardOrList struct {
	wildcard bool
	list     []string
}

func newWildcardOrList(values []string) wildcardOrList {
	for _, v := range values {
		if v == "*" {
			return wildcardOrList{wildcard: true}
		}
	}
	return wildcardOrList{list: values}
}

func (w wildcardOrList) isNone() bool { return !w.wildcard && len(w.list) == 0 }

func (w wildcardOrList) headerValue() (string, bool) {
	switch {
	case w.isNone():
		return "", false
	case w.wildcard:
		return "*", true
	default:
		return strings.Join(w.list, ","), true
	}
}

// CORS implements cross-origin resource sharing following Envoy's
// semantics with forwardNotMatchingPreflights=false, grounded on
// http/cors.rs.
type CORS struct {
	allowCredentials bool
	allowHeaders     wildcardOrList
	allowMethods     wildcardOrList
	allowOrigins     wildcardOrList
	exposeHeaders    wildcardOrList
	maxAge           string
}

// NewCORS builds a CORS policy from cfg.
func NewCORS(cfg CORSConfig) *CORS {
	c := &CORS{
		allowCredentials: cfg.AllowCredentials,
		allowHeaders:     newWildcardOrList(cfg.AllowHeaders),
		allowMethods:     newWildcardOrList(cfg.AllowMethods),
		allowOrigins:     newWildcardOrList(cfg.AllowOrigins),
		exposeHeaders:    newWildcardOrList(cfg.ExposeHeaders),
	}
	if cfg.MaxAge != nil {
		c.maxAge = strconv.FormatInt(int64(cfg.MaxAge.Seconds()), 10)
	}
	return c
}

// Apply implements Policy.
func (c *CORS) Apply(req *http.Request) (Response, error) {
	origin := req.Header.Get("Origin")
	if origin == "" {
		return Response{}, nil
	}

	isPreflight := req.Method == http.MethodOptions &&
		strings.TrimSpace(req.Header.Get("Access-Control-Request-Method")) != ""

	parsedOrigin := parseOrigin(origin, false)
	originAllowed := false
	switch {
	case c.allowOrigins.wildcard:
		originAllowed = true
	case len(c.allowOrigins.list) > 0 && parsedOrigin != nil:
		for _, allowed := range c.allowOrigins.list {
			if matchesAllowedOrigin(allowed, parsedOrigin) {
				originAllowed = true
				break
			}
		}
	}

	if !originAllowed {
		if isPreflight {
			return Response{DirectResponse: emptyResponse(http.StatusOK, nil)}, nil
		}
		return Response{}, nil
	}

	if req.Method == http.MethodOptions {
		headers := http.Header{}
		headers.Set("Access-Control-Allow-Origin", origin)
		if h := c.preflightAllowMethods(req.Header); h != "" {
			headers.Set("Access-Control-Allow-Methods", h)
		}
		if h := c.preflightAllowHeaders(req.Header); h != "" {
			headers.Set("Access-Control-Allow-Headers", h)
		}
		if c.maxAge != "" {
			headers.Set("Access-Control-Max-Age", c.maxAge)
		}
		if c.allowCredentials {
			headers.Set("Access-Control-Allow-Credentials", "true")
		}
		if h, ok := c.exposeHeaders.headerValue(); ok {
			headers.Set("Access-Control-Expose-Headers", h)
		}
		return Response{DirectResponse: emptyResponse(http.StatusOK, headers)}, nil
	}

	headers := http.Header{}
	headers.Set("Access-Control-Allow-Origin", origin)
	if c.allowCredentials {
		headers.Set("Access-Control-Allow-Credentials", "true")
	}
	if h, ok := c.exposeHeaders.headerValue(); ok {
		headers.Set("Access-Control-Expose-Headers", h)
	}
	return Response{ResponseHeaders: headers}, nil
}

func (c *CORS) preflightAllowMethods(headers http.Header) string {
	switch {
	case c.allowMethods.isNone():
		return ""
	case c.allowMethods.wildcard:
		if v := normalizeTokenHeaderValue(headers.Get("Access-Control-Request-Method")); v != "" {
			return v
		}
		if c.allowCredentials {
			return ""
		}
		return "*"
	default:
		h, _ := c.allowMethods.headerValue()
		return h
	}
}

func (c *CORS) preflightAllowHeaders(headers http.Header) string {
	switch {
	case c.allowHeaders.isNone():
		return ""
	case c.allowHeaders.wildcard:
		if v := normalizeCSVHeaderValue(headers.Get("Access-Control-Request-Headers")); v != "" {
			return v
		}
		if c.allowCredentials {
			return ""
		}
		return "*"
	default:
		h, _ := c.allowHeaders.headerValue()
		return h
	}
}

func normalizeTokenHeaderValue(v string) string { return strings.TrimSpace(v) }

func normalizeCSVHeaderValue(v string) string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}

func emptyResponse(status int, headers http.Header) *http.Response {
	if headers == nil {
		headers = http.Header{}
	}
	return &http.Response{StatusCode: status, Header: headers, Body: io.NopCloser(strings.NewReader(""))}
}

type originScheme int

const (
	schemeHTTP originScheme = iota
	schemeHTTPS
)

func parseOriginScheme(s string) (originScheme, bool) {
	switch strings.ToLower(s) {
	case "http":
		return schemeHTTP, true
	case "https":
		return schemeHTTPS, true
	default:
		return 0, false
	}
}

func (s originScheme) defaultPort() string {
	if s == schemeHTTPS {
		return "443"
	}
	return "80"
}

type parsedOrigin struct {
	scheme originScheme
	host   string
	port   string
}

// parseOrigin mirrors the original's hand-rolled origin parser: it
// rejects paths/queries/fragments and validates the port, optionally
// allowing a literal "*" in the host when allowWildcardHost is set (used
// only when parsing the allowlist side of a comparison).
func parseOrigin(value string, allowWildcardHost bool) *parsedOrigin {
	schemeStr, hostPort, ok := strings.Cut(value, "://")
	if !ok {
		return nil
	}
	scheme, ok := parseOriginScheme(schemeStr)
	if !ok {
		return nil
	}
	if hostPort == "" || strings.ContainsAny(hostPort, "/?#") {
		return nil
	}

	var host, port string
	if idx := strings.LastIndex(hostPort, ":"); idx >= 0 {
		host, port = hostPort[:idx], hostPort[idx+1:]
		if host == "" || strings.Contains(host, ":") || port == "" || !isAllDigits(port) {
			return nil
		}
		if p, err := strconv.Atoi(port); err != nil || p == 0 || p > 65535 {
			return nil
		}
	} else {
		host = hostPort
		port = scheme.defaultPort()
	}

	if host == "" || (!allowWildcardHost && strings.Contains(host, "*")) {
		return nil
	}

	return &parsedOrigin{scheme: scheme, host: strings.ToLower(host), port: port}
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func matchesAllowedOrigin(allowed string, req *parsedOrigin) bool {
	parsedAllowed := parseOrigin(allowed, true)
	if parsedAllowed == nil {
		return false
	}
	return parsedAllowed.scheme == req.scheme &&
		parsedAllowed.port == req.port &&
		hostMatches(parsedAllowed.host, req.host)
}

func hostMatches(pattern, host string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == host
	}
	return wildcardMatch(pattern, host)
}

// wildcardMatch is a single-`*`-aware glob matcher over byte strings,
// ported from the original's manual two-pointer scan.
func wildcardMatch(pattern, value string) bool {
	p, v := []byte(pattern), []byte(value)
	pi, vi := 0, 0
	starIdx := -1
	starMatchIdx := 0

	for vi < len(v) {
		if pi < len(p) && (p[pi] == v[vi] || p[pi] == '*') {
			if p[pi] == '*' {
				starIdx = pi
				starMatchIdx = vi
				pi++
			} else {
				pi++
				vi++
			}
		} else if starIdx >= 0 {
			pi = starIdx + 1
			starMatchIdx++
			vi = starMatchIdx
		} else {
			return false
		}
	}

	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}
