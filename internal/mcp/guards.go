// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package mcp

import (
	"fmt"
	"time"

	"github.com/agentgateway/agentgateway-go/internal/filterapi"
	"github.com/agentgateway/agentgateway-go/internal/mcp/security"
)

// buildGuardExecutor translates a route's configured security guards into
// a [security.Executor], constructing each guard's native implementation
// from its Kind-specific config.
func buildGuardExecutor(configs []filterapi.MCPSecurityGuard) (*security.Executor, error) {
	built := make([]security.Config, 0, len(configs))
	for _, c := range configs {
		g, err := newGuard(c)
		if err != nil {
			return nil, fmt.Errorf("failed to build MCP security guard %q: %w", c.ID, err)
		}

		failureMode := security.FailClosed
		if c.FailureMode == "failOpen" {
			failureMode = security.FailOpen
		}
		priority := c.Priority
		if priority == 0 {
			priority = 100
		}
		timeout := time.Duration(c.TimeoutMS) * time.Millisecond
		if timeout <= 0 {
			timeout = 100 * time.Millisecond
		}

		built = append(built, security.Config{
			ID:          c.ID,
			Priority:    priority,
			FailureMode: failureMode,
			Timeout:     timeout,
			Guard:       g,
		})
	}
	return security.NewExecutor(built), nil
}

func newGuard(c filterapi.MCPSecurityGuard) (security.Guard, error) {
	switch c.Kind {
	case "toolPoisoning":
		cfg := c.ToolPoisoning
		if cfg == nil {
			cfg = &filterapi.MCPToolPoisoningConfig{}
		}
		return security.NewToolPoisoningGuard(cfg.CustomPatterns, cfg.AlertThreshold)
	case "rugPull":
		return security.NewRugPullGuard(), nil
	case "toolShadowing":
		return security.NewToolShadowingGuard(), nil
	case "serverWhitelist":
		cfg := c.ServerWhitelist
		if cfg == nil {
			cfg = &filterapi.MCPServerWhitelistConfig{}
		}
		return security.NewServerWhitelistGuard(cfg.AllowedServers), nil
	default:
		return nil, fmt.Errorf("unknown MCP security guard kind %q", c.Kind)
	}
}
