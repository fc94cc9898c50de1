// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package security

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RugPullGuard detects a "rug pull": a tool whose description or input
// schema silently changes after a client has already seen and presumably
// vetted it under the same name. It fingerprints every tool it observes
// and denies a tools/list response that shows a fingerprint change for a
// name it has seen before.
//
// State is shared across sessions for the lifetime of the guard, since
// the threat model is a server changing its tool definition between
// unrelated clients' initialize calls, not within one session.
type RugPullGuard struct {
	mu   sync.Mutex
	seen map[string]uint64 // tool name -> fingerprint of description+schema
}

// NewRugPullGuard returns a guard with empty observation state.
func NewRugPullGuard() *RugPullGuard {
	return &RugPullGuard{seen: make(map[string]uint64)}
}

// EvaluateToolsList implements [Guard.EvaluateToolsList].
func (g *RugPullGuard) EvaluateToolsList(_ context.Context, tools []*mcp.Tool, _ Context) (*DenyReason, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, tool := range tools {
		fp, err := fingerprintTool(tool)
		if err != nil {
			continue
		}
		prev, ok := g.seen[tool.Name]
		if !ok {
			g.seen[tool.Name] = fp
			continue
		}
		if prev != fp {
			return &DenyReason{
				Code:    "rug_pull_detected",
				Message: fmt.Sprintf("tool %q changed description or schema since it was first observed", tool.Name),
				Details: map[string]any{"tool": tool.Name},
			}, nil
		}
	}
	return nil, nil
}

func fingerprintTool(tool *mcp.Tool) (uint64, error) {
	schemaJSON, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return 0, err
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(tool.Description))
	_, _ = h.Write(schemaJSON)
	return h.Sum64(), nil
}
