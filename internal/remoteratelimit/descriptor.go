// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package remoteratelimit

import (
	"encoding/json"
	"fmt"

	celgo "github.com/google/cel-go/cel"

	ratelimitv3 "github.com/envoyproxy/go-control-plane/ratelimit/envoy/extensions/common/ratelimit/v3"

	"github.com/agentgateway/agentgateway-go/internal/cel"
)

// RateLimitType selects which counter a descriptor entry contributes to:
// one hit per request, or hits_addend set to the LLM token cost.
type RateLimitType int

const (
	// RateLimitTypeRequests counts one hit per request (the default).
	RateLimitTypeRequests RateLimitType = iota
	// RateLimitTypeTokens counts hits_addend = token cost, evaluated once
	// up front and amended once the provider reports actual usage.
	RateLimitTypeTokens
)

// UnmarshalJSON accepts "requests" (default) or "tokens".
func (t *RateLimitType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "", "requests":
		*t = RateLimitTypeRequests
	case "tokens":
		*t = RateLimitTypeTokens
	default:
		return fmt.Errorf("remoteratelimit: unknown descriptor type %q", s)
	}
	return nil
}

// MarshalJSON renders the canonical lowercase form.
func (t RateLimitType) MarshalJSON() ([]byte, error) {
	if t == RateLimitTypeTokens {
		return json.Marshal("tokens")
	}
	return json.Marshal("requests")
}

// descriptorKV is one key/CEL-expression pair, as authored in config.
type descriptorKV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// descriptor is a compiled key + CEL program pair, evaluated per request
// to produce one entry in the outgoing RateLimitDescriptor.
type descriptor struct {
	key  string
	prog celgo.Program
	expr string
}

// DescriptorEntry is one line item sent to the rate-limit service: a set
// of key/value entries (each resolved via CEL against the request) plus
// the RateLimitType it counts against.
type DescriptorEntry struct {
	Entries []descriptor
	Type    RateLimitType
}

// UnmarshalJSON parses `{"entries": [{"key","value"}...], "type": "..."}`,
// compiling each entry's CEL expression eagerly so evaluation errors
// surface at config-load time rather than on the request hot path.
func (e *DescriptorEntry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Entries []descriptorKV `json:"entries"`
		Type    RateLimitType  `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	entries := make([]descriptor, 0, len(raw.Entries))
	for _, kv := range raw.Entries {
		prog, err := cel.NewProgram(kv.Value)
		if err != nil {
			return fmt.Errorf("remoteratelimit: descriptor %q: %w", kv.Key, err)
		}
		entries = append(entries, descriptor{key: kv.Key, prog: prog, expr: kv.Value})
	}
	e.Entries = entries
	e.Type = raw.Type
	return nil
}

// DescriptorSet is the full set of descriptor entries configured for a
// RemoteRateLimit, mirroring DescriptorSet(Vec<DescriptorEntry>).
type DescriptorSet []DescriptorEntry

func (s DescriptorSet) hasType(t RateLimitType) bool {
	for _, e := range s {
		if e.Type == t {
			return true
		}
	}
	return false
}

// eval resolves every descriptor's CEL expression against exec. If any
// expression fails to evaluate or resolve to a string, the entire entry
// is dropped (the "all-or-nothing" semantics Envoy's rate-limit service
// requires per descriptor), matching build_request/eval_descriptor.
func (e *DescriptorEntry) eval(exec *cel.Executor) ([]*ratelimitv3.RateLimitDescriptor_Entry, bool) {
	out := make([]*ratelimitv3.RateLimitDescriptor_Entry, 0, len(e.Entries))
	for _, d := range e.Entries {
		val, err := exec.Eval(d.prog)
		if err != nil {
			return nil, false
		}
		s, ok := val.Value().(string)
		if !ok {
			return nil, false
		}
		out = append(out, &ratelimitv3.RateLimitDescriptor_Entry{Key: d.key, Value: s})
	}
	return out, true
}
