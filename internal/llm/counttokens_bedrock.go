// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package llm

import (
	"cmp"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/url"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	extprocv3 "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"

	anthropicschema "github.com/agentgateway/agentgateway-go/internal/apischema/anthropic"
	"github.com/agentgateway/agentgateway-go/internal/internalapi"
)

// bedrockCountTokensTranslator wraps a native Anthropic count_tokens
// request as a base64-encoded InvokeModel body, the shape AWS Bedrock's
// /model/{model}/count-tokens endpoint expects, grounded on
// internal/extproc/translator/anthropic_awsanthropic.go's Bedrock path
// handling plus the wrap-as-base64-InvokeModel-payload behavior from
// original_source's llm/bedrock.rs (translate_count_tokens_request).
type bedrockCountTokensTranslator struct {
	apiVersion        string
	modelNameOverride internalapi.ModelNameOverride
	requestModel      internalapi.RequestModel
}

func newBedrockCountTokensTranslator(apiVersion string, modelNameOverride internalapi.ModelNameOverride) *bedrockCountTokensTranslator {
	return &bedrockCountTokensTranslator{apiVersion: apiVersion, modelNameOverride: modelNameOverride}
}

// bedrockCountTokensRequest is AWS Bedrock's count-tokens request envelope:
// the native Anthropic body, JSON-marshaled then base64-encoded, nested
// under input.invokeModel.body.
type bedrockCountTokensRequest struct {
	Input bedrockCountTokensInput `json:"input"`
}

type bedrockCountTokensInput struct {
	InvokeModel bedrockInvokeModelBody `json:"invokeModel"`
}

type bedrockInvokeModelBody struct {
	Body string `json:"body"`
}

// bedrockCountTokensResponse is AWS Bedrock's count-tokens response.
type bedrockCountTokensResponse struct {
	InputTokens int `json:"inputTokens"`
}

// RequestBody implements [CountTokensTranslator.RequestBody].
func (b *bedrockCountTokensTranslator) RequestBody(_ []byte, body *anthropicschema.MessagesRequest, _ bool) (
	headerMutation *extprocv3.HeaderMutation, bodyMutation *extprocv3.BodyMutation, err error,
) {
	anthropicReq := make(map[string]any, len(*body))
	maps.Copy(anthropicReq, *body)

	modelName := cmp.Or(string(b.modelNameOverride), body.GetModel())
	b.requestModel = internalapi.RequestModel(modelName)
	delete(anthropicReq, "model")

	// AWS Bedrock's count-tokens endpoint wraps InvokeModel, which requires a
	// valid Anthropic Messages API request; max_tokens is mandatory even
	// though counting never generates output, so the minimum valid value (1)
	// is injected when absent.
	if _, ok := anthropicReq["max_tokens"]; !ok {
		anthropicReq["max_tokens"] = 1
	}
	if _, ok := anthropicReq["anthropic_version"]; !ok {
		if b.apiVersion == "" {
			return nil, nil, fmt.Errorf("anthropic_version is required for AWS Bedrock but not provided in backend configuration")
		}
		anthropicReq["anthropic_version"] = b.apiVersion
	}

	innerBody, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal anthropic request: %w", err)
	}

	wrapped := bedrockCountTokensRequest{
		Input: bedrockCountTokensInput{
			InvokeModel: bedrockInvokeModelBody{Body: base64.StdEncoding.EncodeToString(innerBody)},
		},
	}
	mutatedBody, err := json.Marshal(wrapped)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal count-tokens request: %w", err)
	}

	path := fmt.Sprintf("/model/%s/count-tokens", url.PathEscape(modelName))
	headerMutation = &extprocv3.HeaderMutation{
		SetHeaders: []*corev3.HeaderValueOption{
			{Header: &corev3.HeaderValue{Key: ":path", RawValue: []byte(path)}},
		},
	}
	bodyMutation = &extprocv3.BodyMutation{Mutation: &extprocv3.BodyMutation_Body{Body: mutatedBody}}
	setContentLength(headerMutation, mutatedBody)
	return
}

// ResponseHeaders implements [CountTokensTranslator.ResponseHeaders].
func (b *bedrockCountTokensTranslator) ResponseHeaders(map[string]string) (headerMutation *extprocv3.HeaderMutation, err error) {
	return nil, nil
}

// ResponseBody implements [CountTokensTranslator.ResponseBody], translating
// Bedrock's {"inputTokens": N} response into Anthropic's
// {"input_tokens": N} so the caller always sees the Anthropic shape.
func (b *bedrockCountTokensTranslator) ResponseBody(_ map[string]string, body io.Reader) (
	headerMutation *extprocv3.HeaderMutation, bodyMutation *extprocv3.BodyMutation, inputTokens uint32, err error,
) {
	buf, err := io.ReadAll(body)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to read body: %w", err)
	}
	var resp bedrockCountTokensResponse
	if err := json.Unmarshal(buf, &resp); err != nil {
		return nil, nil, 0, fmt.Errorf("failed to unmarshal body: %w", err)
	}
	out, err := json.Marshal(anthropicschema.CountTokensResponse{InputTokens: resp.InputTokens})
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to marshal count-tokens response: %w", err)
	}
	headerMutation = &extprocv3.HeaderMutation{}
	setContentLength(headerMutation, out)
	return headerMutation, &extprocv3.BodyMutation{Mutation: &extprocv3.BodyMutation_Body{Body: out}}, uint32(resp.InputTokens), nil //nolint:gosec
}

// ResponseError implements [CountTokensTranslator.ResponseError].
func (b *bedrockCountTokensTranslator) ResponseError(map[string]string, io.Reader) (
	headerMutation *extprocv3.HeaderMutation, bodyMutation *extprocv3.BodyMutation, err error,
) {
	return nil, nil, nil
}
