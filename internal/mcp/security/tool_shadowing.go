// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package security

import (
	"context"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolShadowingGuard detects a newly-connected upstream server claiming a
// tool name already owned by a different, previously-seen server. Since
// every tool is later namespaced as "{server}_{name}" before reaching the
// client, a raw-name collision across servers can't corrupt routing, but
// it can trick a careless caller (or an agent matching on the
// unqualified name) into invoking the impostor's implementation instead
// of the one it has already vetted.
type ToolShadowingGuard struct {
	mu    sync.Mutex
	owner map[string]string // raw tool name -> server that first claimed it
}

// NewToolShadowingGuard returns a guard with empty ownership state.
func NewToolShadowingGuard() *ToolShadowingGuard {
	return &ToolShadowingGuard{owner: make(map[string]string)}
}

// EvaluateToolsList implements [Guard.EvaluateToolsList]. It must be
// called once per upstream server's raw (pre-namespacing) tool list, with
// gctx.ServerName identifying that server.
func (g *ToolShadowingGuard) EvaluateToolsList(_ context.Context, tools []*mcp.Tool, gctx Context) (*DenyReason, error) {
	if gctx.ServerName == "" {
		return nil, fmt.Errorf("tool shadowing guard requires a server name in context")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, tool := range tools {
		owner, ok := g.owner[tool.Name]
		if !ok {
			g.owner[tool.Name] = gctx.ServerName
			continue
		}
		if owner != gctx.ServerName {
			return &DenyReason{
				Code:    "tool_shadowing_detected",
				Message: fmt.Sprintf("server %q claims tool %q already owned by server %q", gctx.ServerName, tool.Name, owner),
				Details: map[string]any{"tool": tool.Name, "claimant": gctx.ServerName, "owner": owner},
			}, nil
		}
	}
	return nil, nil
}
