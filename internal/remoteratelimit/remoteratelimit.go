// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package remoteratelimit implements the Envoy-ratelimit v3 gRPC client
// used for both per-request and per-token rate limiting, grounded 1:1 on
// original_source's http/remoteratelimit.rs. A RemoteRateLimit evaluates
// its configured descriptor CEL expressions against a request, calls the
// remote rate-limit service, and translates the response into headers to
// add or a direct 429 response, matching the Rust implementation's
// build_request/check_internal/apply pipeline.
package remoteratelimit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	ratelimitv3 "github.com/envoyproxy/go-control-plane/ratelimit/envoy/extensions/common/ratelimit/v3"
	rlsv3 "github.com/envoyproxy/go-control-plane/ratelimit/envoy/service/ratelimit/v3"

	"github.com/agentgateway/agentgateway-go/internal/cel"
	"github.com/agentgateway/agentgateway-go/internal/policy"
)

// Target is the address of the remote rate-limit service, "host:port".
// It generalizes the original's SimpleBackendReference, which resolves a
// descriptor-backed backend through the full endpoint set; here it is
// the plain dial target supplied by the caller (the proxy layer), since
// backend resolution lives outside this package.
type Target struct {
	Address     string
	DialOptions []grpc.DialOption
}

func (t Target) dialOptions() []grpc.DialOption {
	if len(t.DialOptions) > 0 {
		return t.DialOptions
	}
	return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
}

// RemoteRateLimit evaluates descriptors against requests and enforces
// limits via a remote envoy.service.ratelimit.v3 RateLimitService.
type RemoteRateLimit struct {
	Domain       string
	Target       Target
	Descriptors  DescriptorSet
	Timeout      time.Duration
	FailureMode  FailureMode

	mu   sync.Mutex
	conn *grpc.ClientConn
}

// ErrRateLimitFailed is returned when the remote service could not be
// reached and FailureMode is FailClosed.
var ErrRateLimitFailed = fmt.Errorf("remoteratelimit: rate limit service unavailable")

func (r *RemoteRateLimit) client(ctx context.Context) (rlsv3.RateLimitServiceClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return rlsv3.NewRateLimitServiceClient(r.conn), nil
	}
	conn, err := grpc.NewClient(r.Target.Address, r.Target.dialOptions()...)
	if err != nil {
		return nil, fmt.Errorf("remoteratelimit: cannot dial %s: %w", r.Target.Address, err)
	}
	r.conn = conn
	return rlsv3.NewRateLimitServiceClient(conn), nil
}

// Check evaluates the Requests-typed descriptors against req, on the
// request path before the request is forwarded upstream.
func (r *RemoteRateLimit) Check(ctx context.Context, req *http.Request) (policy.Response, error) {
	if !r.Descriptors.hasType(RateLimitTypeRequests) {
		return policy.Response{}, nil
	}
	request, ok := r.buildRequest(req, RateLimitTypeRequests, nil)
	if !ok {
		return policy.Response{}, nil
	}
	resp, err := r.checkInternal(ctx, request)
	if err != nil {
		return r.handleFailure(err)
	}
	return r.apply(req, resp)
}

// Amend is returned by CheckLLM so the caller can report the actual
// token cost once known (streaming responses only learn usage at the
// end), mirroring LLMResponseAmend's fire-and-forget amend_tokens.
type Amend struct {
	rrl     *RemoteRateLimit
	request *rlsv3.RateLimitRequest
}

// AmendTokens re-submits the same descriptors with hits_addend set to
// the token delta, fire-and-forget; negative deltas (cost revised down)
// cannot be expressed by the protocol and are dropped, matching the
// original's "we cannot currently do negative amendments" comment.
func (a *Amend) AmendTokens(tokens int64) {
	if tokens <= 0 {
		return
	}
	req := &rlsv3.RateLimitRequest{
		Domain:      a.request.Domain,
		Descriptors: a.request.Descriptors,
	}
	for _, d := range req.Descriptors {
		addend := uint32(tokens) //nolint:gosec // bounded by provider-reported usage.
		d.HitsAddend = &addend
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = a.rrl.checkInternal(ctx, req)
	}()
}

// CheckLLM evaluates the Tokens-typed descriptors with an initial cost
// estimate, returning an Amend the caller can use to correct the cost
// once the provider reports actual usage.
func (r *RemoteRateLimit) CheckLLM(ctx context.Context, req *http.Request, cost uint64) (policy.Response, *Amend, error) {
	if !r.Descriptors.hasType(RateLimitTypeTokens) {
		return policy.Response{}, nil, nil
	}
	addend := uint32(cost) //nolint:gosec // bounded token estimate.
	request, ok := r.buildRequest(req, RateLimitTypeTokens, &addend)
	if !ok {
		return policy.Response{}, nil, nil
	}
	amend := &Amend{rrl: r, request: request}
	resp, err := r.checkInternal(ctx, request)
	if err != nil {
		pr, ferr := r.handleFailure(err)
		return pr, amend, ferr
	}
	pr, err := r.apply(req, resp)
	return pr, amend, err
}

func (r *RemoteRateLimit) handleFailure(err error) (policy.Response, error) {
	if r.FailureMode == FailureModeFailClosed {
		return policy.Response{}, err
	}
	return policy.Response{}, nil
}

func (r *RemoteRateLimit) buildRequest(req *http.Request, typ RateLimitType, hitsAddend *uint32) (*rlsv3.RateLimitRequest, bool) {
	exec := requestExecutor(req)
	var descriptors []*ratelimitv3.RateLimitDescriptor
	for _, entry := range r.Descriptors {
		if entry.Type != typ {
			continue
		}
		entries, ok := entry.eval(exec)
		if !ok || len(entries) == 0 {
			continue
		}
		descriptors = append(descriptors, &ratelimitv3.RateLimitDescriptor{
			Entries:    entries,
			HitsAddend: hitsAddend,
		})
	}
	if len(descriptors) == 0 {
		return nil, false
	}
	return &rlsv3.RateLimitRequest{
		Domain:      r.Domain,
		Descriptors: descriptors,
	}, true
}

func (r *RemoteRateLimit) checkInternal(ctx context.Context, request *rlsv3.RateLimitRequest) (*rlsv3.RateLimitResponse, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	c, err := r.client(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.ShouldRateLimit(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRateLimitFailed, err)
	}
	return resp, nil
}

func (r *RemoteRateLimit) apply(req *http.Request, cr *rlsv3.RateLimitResponse) (policy.Response, error) {
	if cr.OverallCode != rlsv3.RateLimitResponse_OK {
		headers := http.Header{}
		applyHeaders(headers, cr.ResponseHeadersToAdd)
		direct := &http.Response{
			StatusCode: http.StatusTooManyRequests,
			Header:     headers,
			Body:       io.NopCloser(strings.NewReader(string(cr.RawBody))),
		}
		return policy.Response{DirectResponse: direct}, nil
	}

	if req.Header == nil {
		req.Header = http.Header{}
	}
	applyHeaders(req.Header, cr.RequestHeadersToAdd)

	res := policy.Response{}
	if len(cr.ResponseHeadersToAdd) > 0 {
		res.ResponseHeaders = http.Header{}
		applyHeaders(res.ResponseHeaders, cr.ResponseHeadersToAdd)
	}
	return res, nil
}

func applyHeaders(h http.Header, add []*ratelimitv3.HeaderValue) {
	for _, kv := range add {
		if kv.GetKey() == "" {
			continue
		}
		h.Set(kv.GetKey(), kv.GetValue())
	}
}

func requestExecutor(req *http.Request) *cel.Executor {
	headers := make(map[string]string, len(req.Header))
	for k := range req.Header {
		headers[k] = req.Header.Get(k)
	}
	query := make(map[string]string, len(req.URL.Query()))
	for k, v := range req.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}
	return &cel.Executor{
		Request: &cel.RequestContext{
			Method:  req.Method,
			Path:    req.URL.Path,
			Host:    req.Host,
			Scheme:  req.URL.Scheme,
			Query:   query,
			Headers: headers,
		},
	}
}
