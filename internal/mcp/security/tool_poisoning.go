// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package security

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// builtinToolPoisoningPatterns are case-insensitive RE2 patterns matching
// known prompt-injection/system-override/safety-bypass phrasing found in
// malicious tool descriptions and schemas.
var builtinToolPoisoningPatterns = []string{
	// Prompt injection attempts.
	`(?i)ignore\s+(all\s+)?previous\s+(instructions?|commands?|prompts?)`,
	`(?i)disregard\s+(all\s+)?(previous|prior|earlier)\s+(instructions?|commands?)`,
	`(?i)forget\s+(all\s+)?(previous|prior|earlier)\s+(instructions?|commands?)`,

	// System override attempts.
	`(?i)SYSTEM:\s*(override|execute|run|bypass)`,
	`(?i)ADMIN:\s*(override|execute|run|bypass)`,
	`(?i)ROOT:\s*(execute|run)`,
	`(?i)execute\s+as\s+(root|admin|system)`,

	// Safety bypass.
	`(?i)disregard\s+(all\s+)?(safety|security|restrictions?)`,
	`(?i)bypass\s+(all\s+)?(safety|security|restrictions?)`,
	`(?i)ignore\s+(all\s+)?(safety|security|restrictions?)`,
	`(?i)disable\s+(all\s+)?(safety|security|guardrails?)`,

	// Role manipulation.
	`(?i)you\s+are\s+now\s+(a\s+)?(admin|root|system|jailbroken)`,
	`(?i)act\s+as\s+(if\s+you\s+are\s+)?(admin|root|system)`,
	`(?i)pretend\s+(you\s+are|to\s+be)\s+(admin|root|system)`,

	// Hidden instructions.
	`(?i)\[HIDDEN\]`,
	`(?i)\[SECRET\]`,
	`(?i)<!--\s*INJECT`,

	// Prompt leaking.
	`(?i)print\s+(your|the)\s+(system\s+)?prompt`,
	`(?i)show\s+(me\s+)?(your|the)\s+(system\s+)?prompt`,
	`(?i)reveal\s+(your|the)\s+(system\s+)?prompt`,

	// Unicode/encoding tricks.
	`(?i)\\u[0-9a-f]{4}.*execute`,
	`(?i)\\x[0-9a-f]{2}.*execute`,
}

// toolPoisoningViolation is one scan hit.
type toolPoisoningViolation struct {
	Field       string `json:"field"`
	Pattern     string `json:"pattern"`
	MatchedText string `json:"matchedText"`
}

// ToolPoisoningGuard scans tool names, descriptions and input schemas for
// prompt-injection and safety-bypass patterns, denying the tools/list
// response once the number of matches reaches AlertThreshold.
type ToolPoisoningGuard struct {
	patterns       []*regexp.Regexp
	alertThreshold int
}

// NewToolPoisoningGuard compiles the built-in pattern set plus any
// customPatterns. alertThreshold <= 0 defaults to 1 (deny on first match).
func NewToolPoisoningGuard(customPatterns []string, alertThreshold int) (*ToolPoisoningGuard, error) {
	if alertThreshold <= 0 {
		alertThreshold = 1
	}
	all := make([]string, 0, len(builtinToolPoisoningPatterns)+len(customPatterns))
	all = append(all, builtinToolPoisoningPatterns...)
	all = append(all, customPatterns...)

	compiled := make([]*regexp.Regexp, 0, len(all))
	for _, p := range all {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid tool-poisoning pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return &ToolPoisoningGuard{patterns: compiled, alertThreshold: alertThreshold}, nil
}

// EvaluateToolsList implements [Guard.EvaluateToolsList].
func (g *ToolPoisoningGuard) EvaluateToolsList(_ context.Context, tools []*mcp.Tool, _ Context) (*DenyReason, error) {
	var violations []toolPoisoningViolation
	for _, tool := range tools {
		if v := g.scanText(tool.Name, "tool.name"); v != nil {
			violations = append(violations, *v)
		}
		if v := g.scanText(tool.Description, "tool.description"); v != nil {
			violations = append(violations, *v)
		}
		if tool.InputSchema != nil {
			if schemaJSON, err := json.Marshal(tool.InputSchema); err == nil {
				if v := g.scanText(string(schemaJSON), "tool.inputSchema"); v != nil {
					violations = append(violations, *v)
				}
			}
		}
	}

	if len(violations) < g.alertThreshold {
		return nil, nil
	}
	details := make([]any, len(violations))
	for i, v := range violations {
		details[i] = v
	}
	return &DenyReason{
		Code:    "tool_poisoning_detected",
		Message: fmt.Sprintf("detected %d potential tool poisoning pattern(s) in MCP server response", len(violations)),
		Details: map[string]any{"violations": details, "threshold": g.alertThreshold},
	}, nil
}

func (g *ToolPoisoningGuard) scanText(text, field string) *toolPoisoningViolation {
	for _, pattern := range g.patterns {
		if m := pattern.FindString(text); m != "" {
			return &toolPoisoningViolation{Field: field, Pattern: pattern.String(), MatchedText: m}
		}
	}
	return nil
}
