// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package filterapi

// MCPConfig is the configuration for the MCP listener and routing.
type MCPConfig struct {
	// BackendListenerAddr is the address that speaks plain HTTP and can be used to
	// route to each backend directly without interruption.
	//
	// The listener should only listen on the local interface, and equipped with
	// the HCM filter with the plain header-based routing for each backend based
	// on the [internalapi.MCPBackendHeader] header.
	BackendListenerAddr string `json:"backendListenerAddr"`

	// Routes is the list of routes that this listener can route to.
	Routes []MCPRoute `json:"routes,omitempty"`
}

// MCPRoute is the route configuration for routing to each MCP backend based on the tool name.
type MCPRoute struct {
	// Name is the fully qualified identifier of a MCPRoute.
	// This name is set in [internalapi.MCPRouteHeader] header to identify the route.
	Name MCPRouteName `json:"name"`

	// Backends is the list of backends that this route can route to.
	Backends []MCPBackend `json:"backends"`

	// SecurityGuards configures the pluggable tools/list security guards
	// (tool poisoning, rug-pull, tool-shadowing, server whitelist) run
	// against this route's merged tool set. Guards run in ascending
	// Priority order; if unset, no guards run for this route.
	SecurityGuards []MCPSecurityGuard `json:"securityGuards,omitempty"`

	// RBACRules are CEL expressions evaluated against the mcp.* (and
	// request.*) object graph before a tools/call, prompts/get, or any
	// list-merge contribution is allowed through. All rules must evaluate
	// true for the operation to proceed; if unset, no RBAC checks run for
	// this route.
	RBACRules []MCPRBACRule `json:"rbacRules,omitempty"`
}

// MCPRBACRule is one CEL-based authorization rule for an MCP route.
// Expression is compiled once at config-load time and evaluated per
// tools/list|call, prompts/list|get, resources/list,
// resources/templates/list request against a mcp.{type,server,name}
// context describing the resource being accessed.
type MCPRBACRule struct {
	// ID identifies this rule in deny logs and error messages.
	ID string `json:"id"`

	// Expression is a CEL expression over the mcp.* object graph
	// (ResourceType, Server, Name) that must evaluate to a bool. A
	// compile error at load time fails config load; a runtime evaluation
	// error or non-bool result is treated as deny.
	Expression string `json:"expression"`
}

// MCPSecurityGuard configures one security guard instance. Kind selects
// which guard implementation runs; exactly one of the Kind-specific
// config fields should be set, matching Kind.
type MCPSecurityGuard struct {
	// ID uniquely identifies this guard instance, surfaced in deny reasons
	// and logs.
	ID string `json:"id"`

	// Kind selects the guard implementation: "toolPoisoning", "rugPull",
	// "toolShadowing", or "serverWhitelist".
	Kind string `json:"kind"`

	// Priority orders guard execution; lower runs first. Defaults to 100.
	Priority uint32 `json:"priority,omitempty"`

	// FailureMode controls behavior when the guard times out or errors:
	// "failClosed" (default) denies the operation; "failOpen" logs and
	// allows it through.
	FailureMode string `json:"failureMode,omitempty"`

	// TimeoutMS bounds how long the guard may run. Defaults to 100ms.
	TimeoutMS uint64 `json:"timeoutMs,omitempty"`

	ToolPoisoning   *MCPToolPoisoningConfig   `json:"toolPoisoning,omitempty"`
	RugPull         *MCPRugPullConfig         `json:"rugPull,omitempty"`
	ToolShadowing   *MCPToolShadowingConfig   `json:"toolShadowing,omitempty"`
	ServerWhitelist *MCPServerWhitelistConfig `json:"serverWhitelist,omitempty"`
}

// MCPToolPoisoningConfig configures the ToolPoisoning guard.
type MCPToolPoisoningConfig struct {
	// CustomPatterns are additional RE2 regular expressions checked
	// alongside the built-in prompt-injection/system-override pattern set.
	CustomPatterns []string `json:"customPatterns,omitempty"`

	// AlertThreshold is the minimum number of pattern matches across the
	// tool list required to deny. Defaults to 1.
	AlertThreshold int `json:"alertThreshold,omitempty"`
}

// MCPRugPullConfig configures the RugPull guard, which flags a tool
// whose description or schema changed since the last observed tools/list
// for the same downstream name.
type MCPRugPullConfig struct{}

// MCPToolShadowingConfig configures the ToolShadowing guard, which flags
// a tool name collision across two distinct upstream servers in the same
// merged tools/list.
type MCPToolShadowingConfig struct{}

// MCPServerWhitelistConfig configures the ServerWhitelist guard.
type MCPServerWhitelistConfig struct {
	// AllowedServers is the set of backend names permitted to contribute
	// tools. Any tool from a backend not in this list is denied.
	AllowedServers []string `json:"allowedServers,omitempty"`
}

// MCPBackend is the MCP backend configuration.
type MCPBackend struct {
	// Name is the fully qualified identifier of a MCP backend.
	// This name is set in [internalapi.MCPBackendHeader] header to route the request to the specific backend.
	Name MCPBackendName `json:"name"`

	// Path is the HTTP endpoint path of the backend MCP server.
	Path string `json:"path"`

	// ToolSelector filters the tools exposed by this backend. If not set, all tools are exposed.
	ToolSelector *MCPNameSelector `json:"toolSelector,omitempty"`
}

// MCPBackendName is the name of the MCP backend.
type MCPBackendName = string

// MCPNameSelector is a filter that selects MCP resources by their names.
// Only one of Include or IncludeRegex can be specified.
type MCPNameSelector struct {
	// Include is a list of strings to include. If specified, only the strings in this list are included.
	Include []string `json:"include,omitempty"`

	// IncludeRegex is a list of RE2-compatible regular expressions that, when matched, include the string.
	IncludeRegex []string `json:"includeRegex,omitempty"`
}

// MCPRouteName is the name of the MCP route.
type MCPRouteName = string
