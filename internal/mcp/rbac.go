// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package mcp

import (
	"fmt"
	"net/http"

	celgo "github.com/google/cel-go/cel"

	"github.com/agentgateway/agentgateway-go/internal/cel"
	"github.com/agentgateway/agentgateway-go/internal/filterapi"
)

// rbacRule is one compiled CEL RBAC rule, evaluated against a
// mcp.{type,server,name} resource descriptor (and the live request's
// headers, so rules can key off jwt/apiKey claims already extracted into
// headers upstream) before a tools/call, prompts/get, or list-merge
// contribution is allowed through.
type rbacRule struct {
	id   string
	prog celgo.Program
}

// rbacRuleSet is the compiled form of a route's MCPRBACRules, evaluated
// with AND semantics: every rule must evaluate true for the resource to
// be allowed. An empty rbacRuleSet allows everything, matching the "no
// rules configured" default.
type rbacRuleSet []rbacRule

// buildRBACRuleSet compiles a route's configured RBAC rules once at
// config-load time, so a malformed CEL expression fails config load
// rather than every request it would otherwise deny.
func buildRBACRuleSet(rules []filterapi.MCPRBACRule) (rbacRuleSet, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	set := make(rbacRuleSet, 0, len(rules))
	for _, r := range rules {
		prog, err := cel.NewProgram(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("failed to compile RBAC rule %q: %w", r.ID, err)
		}
		set = append(set, rbacRule{id: r.ID, prog: prog})
	}
	return set, nil
}

// allows evaluates every rule in the set against the given resource
// descriptor. It returns true (and an empty denial reason) only if the
// set is empty or every rule evaluates to true; the first rule that
// evaluates false or errors names the denial.
func (s rbacRuleSet) allows(headers http.Header, resourceType, server, name string) (bool, string) {
	if len(s) == 0 {
		return true, ""
	}
	exec := &cel.Executor{
		Request: requestHeadersExecutorContext(headers),
		MCP:     &cel.MCPContext{ResourceType: resourceType, Server: server, Name: name},
	}
	for _, r := range s {
		if !exec.EvalBool(r.prog) {
			return false, r.id
		}
	}
	return true, ""
}

// requestHeadersExecutorContext exposes only the headers a CEL RBAC rule
// can key off (jwt/apiKey subject claims are already baked into
// downstream headers elsewhere in the request lifecycle); it deliberately
// avoids threading the full http.Request through the list-merge fan-out
// helpers, which only carry headers past this package's request entry
// point.
func requestHeadersExecutorContext(headers http.Header) *cel.RequestContext {
	if headers == nil {
		return &cel.RequestContext{}
	}
	h := make(map[string]string, len(headers))
	for k := range headers {
		h[k] = headers.Get(k)
	}
	return &cel.RequestContext{Headers: h}
}
