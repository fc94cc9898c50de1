// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package security implements the pluggable MCP tools/list security
// guards: ToolPoisoning, RugPull, ToolShadowing and ServerWhitelist.
// Each guard inspects the merged tool list of an MCP session before it
// is returned downstream and either allows it through or denies the
// operation with a reason.
package security

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// FailureMode controls guard behavior on timeout or execution error.
type FailureMode int

const (
	// FailClosed denies the operation on guard timeout/error. The secure
	// default.
	FailClosed FailureMode = iota
	// FailOpen allows the operation through on guard timeout/error,
	// favoring availability over security.
	FailOpen
)

// DenyReason explains why a guard denied an operation.
type DenyReason struct {
	// Code is a short machine-readable reason, e.g. "tool_poisoning_detected".
	Code string
	// Message is a human-readable explanation.
	Message string
	// Details carries guard-specific diagnostic data (matched patterns,
	// colliding server names, etc.).
	Details map[string]any
}

func (d DenyReason) Error() string { return fmt.Sprintf("%s: %s", d.Code, d.Message) }

// Context carries the per-backend/session information a guard may use
// when evaluating a tools/list response.
type Context struct {
	// ServerName is the backend that contributed the tool(s) under
	// evaluation, or empty when evaluating the whole merged list.
	ServerName string
	// Identity is the authenticated subject of the downstream session, if
	// any.
	Identity string
}

// Guard evaluates a tools/list response. Implementations must be safe
// for concurrent use; a single Guard instance is shared across sessions.
type Guard interface {
	// EvaluateToolsList inspects tools (already namespaced with their
	// backend prefix) and returns a non-nil *DenyReason to block the
	// operation, or nil to allow it.
	EvaluateToolsList(ctx context.Context, tools []*mcp.Tool, gctx Context) (*DenyReason, error)
}

// Config is the common configuration every guard instance carries,
// independent of which Guard implementation it wraps.
type Config struct {
	ID          string
	Priority    uint32
	FailureMode FailureMode
	Timeout     time.Duration
	Guard       Guard
}

// Executor runs a set of guards in ascending priority order against a
// tools/list response, short-circuiting on the first deny.
type Executor struct {
	guards []Config
}

// NewExecutor sorts configs by ascending Priority and returns an
// Executor ready to evaluate tool lists.
func NewExecutor(configs []Config) *Executor {
	sorted := make([]Config, len(configs))
	copy(sorted, configs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	return &Executor{guards: sorted}
}

// EvaluateToolsList runs every configured guard in priority order. The
// first guard to deny stops evaluation and its reason is returned. A
// guard that errors or exceeds its timeout is resolved according to its
// FailureMode: FailClosed turns the failure into a deny, FailOpen treats
// it as an allow and evaluation continues to the next guard.
func (e *Executor) EvaluateToolsList(ctx context.Context, tools []*mcp.Tool, gctx Context) (*DenyReason, error) {
	for _, cfg := range e.guards {
		reason, err := e.runWithTimeout(ctx, cfg, tools, gctx)
		if err != nil {
			if cfg.FailureMode == FailClosed {
				return nil, fmt.Errorf("security guard %q failed: %w", cfg.ID, err)
			}
			continue
		}
		if reason != nil {
			return reason, nil
		}
	}
	return nil, nil
}

func (e *Executor) runWithTimeout(ctx context.Context, cfg Config, tools []*mcp.Tool, gctx Context) (*DenyReason, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		reason *DenyReason
		err    error
	}
	done := make(chan result, 1)
	go func() {
		reason, err := cfg.Guard.EvaluateToolsList(runCtx, tools, gctx)
		done <- result{reason: reason, err: err}
	}()

	select {
	case r := <-done:
		return r.reason, r.err
	case <-runCtx.Done():
		return nil, fmt.Errorf("guard %q timed out after %s", cfg.ID, timeout)
	}
}
