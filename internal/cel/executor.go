// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package cel exposes the per-request object graph ({request, response,
// source, jwt, apiKey, basicAuth, llm, mcp, backend, extauthz}) to CEL
// programs without copying data out of the live HTTP request. It follows
// the same "compile once, share via a package Env, evaluate with a
// variable map" idiom as internal/llmcostcel, generalized from a single
// token-cost expression to the full policy/log object graph.
package cel

import (
	"fmt"
	"math/rand"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"
)

// topLevelFields are the object-graph roots a CEL expression may reference.
// Declared as cel.DynType because each is a heterogeneous, lazily
// populated map (request.headers, llm.inputTokens, ...); cel-go resolves
// field/index access against the underlying Go map/slice values at eval
// time, so no static schema is required up front.
var topLevelFields = []string{
	"request", "response", "source", "jwt", "apiKey", "basicAuth",
	"llm", "mcp", "backend", "extauthz",
}

var env *cel.Env

func init() {
	opts := make([]cel.EnvOption, 0, len(topLevelFields))
	for _, f := range topLevelFields {
		opts = append(opts, cel.Variable(f, cel.DynType))
	}
	var err error
	env, err = cel.NewEnv(opts...)
	if err != nil {
		panic(fmt.Sprintf("cannot create CEL environment: %v", err))
	}
}

// NewProgram compiles expr once against the shared gateway CEL environment.
// The returned cel.Program is safe to share across goroutines and is
// typically cached by the policy that owns expr (rate-limit descriptors,
// RBAC rules, prompt-guard conditions, ...).
func NewProgram(expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cannot compile CEL expression %q: %w", expr, issues.Err())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cannot create CEL program for %q: %w", expr, err)
	}
	return prog, nil
}

// Executor presents the request/response/source/... object graph to CEL
// programs. Each field is populated on demand by the caller (a live HTTP
// request populates it from context.Context extensions; a log writer
// populates it from an already-drained RequestSnapshot) so the same
// struct serves both code paths, per invariant 1 in the specification:
// serialize(NewRequest(r)) == serialize(NewLogger(snapshot(r))).
type Executor struct {
	Request   *RequestContext
	Response  *ResponseContext
	Source    *SourceContext
	JWT       map[string]any
	APIKey    map[string]any
	BasicAuth map[string]any
	LLM       *LLMContext
	MCP       *MCPContext
	Backend   *BackendContext
	ExtAuthz  map[string]any
}

// RequestContext mirrors the `request.*` fields exposed to CEL.
type RequestContext struct {
	Method  string
	Path    string
	Host    string
	Scheme  string
	Query   map[string]string
	Headers map[string]string
	Body    []byte // JSON-serialized as base64, exposed to CEL as bytes.
}

// ResponseContext mirrors the `response.*` fields exposed to CEL.
type ResponseContext struct {
	Code    int
	Headers map[string]string
	Body    []byte
}

// SourceContext mirrors the `source.*` fields: the downstream connection
// identity, plus the SPIFFE identity if this is an HBONE/mTLS connection.
type SourceContext struct {
	Address string
	Port    int
	Identity string // SPIFFE URI, empty if not present.
}

// LLMContext mirrors the `llm.*` fields threaded from the translator.
type LLMContext struct {
	RequestModel    string
	ResponseModel   string
	Provider        string
	Streaming       bool
	InputTokens     uint64
	OutputTokens    uint64
	TotalTokens     uint64
	CountTokens     uint64
	ReasoningTokens uint64
	CacheCreationInputTokens uint64
	CachedInputTokens        uint64
	Completion      string
}

// MCPContext mirrors the `mcp.*` RBAC-evaluation context: the resource
// being accessed, keyed by kind (tool|prompt) and (server, name).
type MCPContext struct {
	ResourceType string // "tool" | "prompt" | "resource"
	Server       string
	Name         string
}

// BackendContext mirrors the `backend.*` fields.
type BackendContext struct {
	Name     string
	Type     string // ai|mcp|static|dynamic|service|unknown
	Protocol string // http|tcp|a2a|mcp|llm
}

// activation adapts an *Executor to cel-go's interpreter.Activation
// contract via cel.Program's map-based Eval entry point: we build the
// variable map lazily, one entry per populated top-level field, mirroring
// the Rust resolver's per-field dispatch without materializing fields
// nobody asked for in the header hot path.
func (e *Executor) vars() map[string]any {
	m := make(map[string]any, len(topLevelFields))
	if e.Request != nil {
		m["request"] = requestMap(e.Request)
	}
	if e.Response != nil {
		m["response"] = responseMap(e.Response)
	}
	if e.Source != nil {
		m["source"] = map[string]any{
			"address":  e.Source.Address,
			"port":     e.Source.Port,
			"identity": e.Source.Identity,
		}
	}
	if e.JWT != nil {
		m["jwt"] = e.JWT
	}
	if e.APIKey != nil {
		m["apiKey"] = e.APIKey
	}
	if e.BasicAuth != nil {
		m["basicAuth"] = e.BasicAuth
	}
	if e.LLM != nil {
		m["llm"] = llmMap(e.LLM)
	}
	if e.MCP != nil {
		m["mcp"] = map[string]any{
			"type":   e.MCP.ResourceType,
			"server": e.MCP.Server,
			"name":   e.MCP.Name,
		}
	}
	if e.Backend != nil {
		m["backend"] = map[string]any{
			"name":     e.Backend.Name,
			"type":     e.Backend.Type,
			"protocol": e.Backend.Protocol,
		}
	}
	if e.ExtAuthz != nil {
		m["extauthz"] = e.ExtAuthz
	}
	return m
}

func requestMap(r *RequestContext) map[string]any {
	return map[string]any{
		"method":  r.Method,
		"path":    r.Path,
		"host":    r.Host,
		"scheme":  r.Scheme,
		"query":   toAnyMap(r.Query),
		"headers": toAnyMap(r.Headers),
		"body":    r.Body,
	}
}

func responseMap(r *ResponseContext) map[string]any {
	return map[string]any{
		"code":    r.Code,
		"headers": toAnyMap(r.Headers),
		"body":    r.Body,
	}
}

func llmMap(l *LLMContext) map[string]any {
	return map[string]any{
		"requestModel":             l.RequestModel,
		"responseModel":            l.ResponseModel,
		"provider":                 l.Provider,
		"streaming":                l.Streaming,
		"inputTokens":              l.InputTokens,
		"outputTokens":             l.OutputTokens,
		"totalTokens":              l.TotalTokens,
		"countTokens":              l.CountTokens,
		"reasoningTokens":          l.ReasoningTokens,
		"cacheCreationInputTokens": l.CacheCreationInputTokens,
		"cachedInputTokens":        l.CachedInputTokens,
		"completion":               l.Completion,
	}
}

func toAnyMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Eval resolves expr against e. The returned error preserves the
// underlying CEL evaluation cause (an opaque "CelError" per spec).
func (e *Executor) Eval(prog cel.Program) (ref.Val, error) {
	out, _, err := prog.Eval(e.vars())
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}
	return out, nil
}

// EvalExpr compiles and evaluates expr in one step. Prefer Eval with a
// cached cel.Program on any hot path (request/response policy
// evaluation); EvalExpr is for one-off or test evaluation.
func (e *Executor) EvalExpr(expr string) (ref.Val, error) {
	prog, err := NewProgram(expr)
	if err != nil {
		return nil, err
	}
	return e.Eval(prog)
}

// EvalBool returns false on any evaluation error or non-bool result.
func (e *Executor) EvalBool(prog cel.Program) bool {
	v, err := e.Eval(prog)
	if err != nil {
		return false
	}
	b, ok := v.Value().(bool)
	return ok && b
}

// EvalRNG implements the probabilistic-sampling contract: bool results
// pass through; float results are clamped to [0,1] and used as a
// Bernoulli draw probability; int results are clamped to {0,1}; anything
// else is false. Used only where probabilistic sampling is intended
// (e.g. fractional traffic mirroring), never for security decisions.
func (e *Executor) EvalRNG(prog cel.Program) bool {
	v, err := e.Eval(prog)
	if err != nil {
		return false
	}
	switch val := v.Value().(type) {
	case bool:
		return val
	case float64:
		p := val
		if p < 0 {
			p = 0
		} else if p > 1 {
			p = 1
		}
		return rand.Float64() < p //nolint:gosec // sampling, not a security decision.
	case int64:
		return val >= 1
	case uint64:
		return val >= 1
	default:
		return false
	}
}
