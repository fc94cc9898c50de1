// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package security

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ServerWhitelistGuard denies any tools/list contribution from an
// upstream server not present in the configured allow-list, guarding
// against a route being silently reconfigured to include an
// unauthorized MCP server.
type ServerWhitelistGuard struct {
	allowed map[string]struct{}
}

// NewServerWhitelistGuard builds a guard permitting exactly the given
// server names.
func NewServerWhitelistGuard(allowedServers []string) *ServerWhitelistGuard {
	allowed := make(map[string]struct{}, len(allowedServers))
	for _, s := range allowedServers {
		allowed[s] = struct{}{}
	}
	return &ServerWhitelistGuard{allowed: allowed}
}

// EvaluateToolsList implements [Guard.EvaluateToolsList]. Like
// [ToolShadowingGuard], it must be called once per upstream server with
// gctx.ServerName set to that server.
func (g *ServerWhitelistGuard) EvaluateToolsList(_ context.Context, tools []*mcp.Tool, gctx Context) (*DenyReason, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	if gctx.ServerName == "" {
		return nil, fmt.Errorf("server whitelist guard requires a server name in context")
	}
	if _, ok := g.allowed[gctx.ServerName]; !ok {
		return &DenyReason{
			Code:    "server_not_whitelisted",
			Message: fmt.Sprintf("server %q is not in the configured whitelist", gctx.ServerName),
			Details: map[string]any{"server": gctx.ServerName},
		}, nil
	}
	return nil, nil
}
