// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package llm

import (
	"encoding/json"
	"fmt"
	"io"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	extprocv3 "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"

	anthropicschema "github.com/agentgateway/agentgateway-go/internal/apischema/anthropic"
	"github.com/agentgateway/agentgateway-go/internal/filterapi"
	"github.com/agentgateway/agentgateway-go/internal/internalapi"
)

// CountTokensTranslator translates the request and response messages
// between the client and the backend API schemas for Anthropic's
// /v1/messages/count_tokens endpoint, a caller shape internal/extproc/translator
// never modeled. Unlike the other shapes, CountTokens never streams and
// never consumes a rate-limit budget (spec: "translate once; set
// count_tokens on LLMResponse; do not amend rate limit"), so ResponseBody
// returns the counted token total directly rather than an LLMTokenUsage.
//
// This is created per request and is not thread-safe.
type CountTokensTranslator interface {
	// RequestBody translates the request body.
	RequestBody(raw []byte, body *anthropicschema.MessagesRequest, forceBodyMutation bool) (
		headerMutation *extprocv3.HeaderMutation,
		bodyMutation *extprocv3.BodyMutation,
		err error,
	)

	// ResponseHeaders translates the response headers.
	ResponseHeaders(headers map[string]string) (headerMutation *extprocv3.HeaderMutation, err error)

	// ResponseBody translates the response body and extracts the token count.
	ResponseBody(respHeaders map[string]string, body io.Reader) (
		headerMutation *extprocv3.HeaderMutation,
		bodyMutation *extprocv3.BodyMutation,
		inputTokens uint32,
		err error,
	)

	// ResponseError translates the response error.
	ResponseError(respHeaders map[string]string, body io.Reader) (
		headerMutation *extprocv3.HeaderMutation,
		bodyMutation *extprocv3.BodyMutation,
		err error,
	)
}

// NewCountTokensTranslator resolves the [CountTokensTranslator] for the
// ShapeCountTokens x provider cell of the matrix, per spec row "CountTokens
// | Anthropic/Bedrock/Vertex".
func NewCountTokensTranslator(provider Provider, apiVersion string, modelNameOverride internalapi.ModelNameOverride) (CountTokensTranslator, error) {
	switch provider {
	case filterapi.APISchemaAnthropic:
		return newAnthropicCountTokensTranslator(modelNameOverride), nil
	case filterapi.APISchemaAWSAnthropic:
		return newBedrockCountTokensTranslator(apiVersion, modelNameOverride), nil
	case filterapi.APISchemaGCPAnthropic:
		return newVertexCountTokensTranslator(apiVersion, modelNameOverride), nil
	default:
		return nil, fmt.Errorf("llm: no CountTokens translator wired for provider %q", provider)
	}
}

// anthropicCountTokensTranslator is a passthrough translator for native
// Anthropic's /v1/messages/count_tokens, adapted from
// internal/extproc/translator/anthropic_anthropic.go's Messages passthrough.
type anthropicCountTokensTranslator struct {
	modelNameOverride internalapi.ModelNameOverride
}

func newAnthropicCountTokensTranslator(modelNameOverride internalapi.ModelNameOverride) *anthropicCountTokensTranslator {
	return &anthropicCountTokensTranslator{modelNameOverride: modelNameOverride}
}

// RequestBody implements [CountTokensTranslator.RequestBody].
func (a *anthropicCountTokensTranslator) RequestBody(original []byte, body *anthropicschema.MessagesRequest, forceBodyMutation bool) (
	headerMutation *extprocv3.HeaderMutation, bodyMutation *extprocv3.BodyMutation, err error,
) {
	var newBody []byte
	if a.modelNameOverride != "" {
		newBody, err = sjsonSet(original, "model", string(a.modelNameOverride))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to set model name: %w", err)
		}
	}
	if forceBodyMutation && len(newBody) == 0 {
		newBody = original
	}

	headerMutation = &extprocv3.HeaderMutation{
		SetHeaders: []*corev3.HeaderValueOption{
			{Header: &corev3.HeaderValue{Key: ":path", RawValue: []byte("/v1/messages/count_tokens")}},
		},
	}
	if len(newBody) > 0 {
		bodyMutation = &extprocv3.BodyMutation{Mutation: &extprocv3.BodyMutation_Body{Body: newBody}}
		setContentLength(headerMutation, newBody)
	}
	return
}

// ResponseHeaders implements [CountTokensTranslator.ResponseHeaders].
func (a *anthropicCountTokensTranslator) ResponseHeaders(map[string]string) (headerMutation *extprocv3.HeaderMutation, err error) {
	return nil, nil
}

// ResponseBody implements [CountTokensTranslator.ResponseBody].
func (a *anthropicCountTokensTranslator) ResponseBody(_ map[string]string, body io.Reader) (
	headerMutation *extprocv3.HeaderMutation, bodyMutation *extprocv3.BodyMutation, inputTokens uint32, err error,
) {
	buf, err := io.ReadAll(body)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to read body: %w", err)
	}
	var resp anthropicschema.CountTokensResponse
	if err := json.Unmarshal(buf, &resp); err != nil {
		return nil, nil, 0, fmt.Errorf("failed to unmarshal body: %w", err)
	}
	return nil, &extprocv3.BodyMutation{Mutation: &extprocv3.BodyMutation_Body{Body: buf}}, uint32(resp.InputTokens), nil //nolint:gosec
}

// ResponseError implements [CountTokensTranslator.ResponseError].
func (a *anthropicCountTokensTranslator) ResponseError(map[string]string, io.Reader) (
	headerMutation *extprocv3.HeaderMutation, bodyMutation *extprocv3.BodyMutation, err error,
) {
	return nil, nil, nil
}
