// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package llm

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"

	extprocv3 "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"

	anthropicschema "github.com/agentgateway/agentgateway-go/internal/apischema/anthropic"
	"github.com/agentgateway/agentgateway-go/internal/internalapi"
)

// vertexCountTokensTranslator wraps a native Anthropic count_tokens request
// as a Vertex AI Anthropic body, adapted from
// internal/extproc/translator/anthropic_gcpanthropic.go's rawPredict/
// streamRawPredict path-building for the publisher model's "countTokens"
// method — Vertex exposes the same `publishers/anthropic/models/{model}:{method}`
// REST shape for every method name, including the ones Gemini models use
// (generateContent/countTokens), so the method name generalizes directly;
// this is not documented for Claude-on-Vertex in original_source, which
// only covers Bedrock's count-tokens wrap (see DESIGN.md).
type vertexCountTokensTranslator struct {
	apiVersion        string
	modelNameOverride internalapi.ModelNameOverride
	requestModel      internalapi.RequestModel
}

func newVertexCountTokensTranslator(apiVersion string, modelNameOverride internalapi.ModelNameOverride) *vertexCountTokensTranslator {
	return &vertexCountTokensTranslator{apiVersion: apiVersion, modelNameOverride: modelNameOverride}
}

// RequestBody implements [CountTokensTranslator.RequestBody].
func (v *vertexCountTokensTranslator) RequestBody(_ []byte, body *anthropicschema.MessagesRequest, _ bool) (
	headerMutation *extprocv3.HeaderMutation, bodyMutation *extprocv3.BodyMutation, err error,
) {
	anthropicReq := make(map[string]any, len(*body))
	maps.Copy(anthropicReq, *body)

	modelName := body.GetModel()
	v.requestModel = internalapi.RequestModel(modelName)
	if v.modelNameOverride != "" {
		v.requestModel = internalapi.RequestModel(v.modelNameOverride)
	}
	delete(anthropicReq, "model")

	if v.apiVersion == "" {
		return nil, nil, fmt.Errorf("anthropic_version is required for GCP Vertex AI but not provided in backend configuration")
	}
	anthropicReq[anthropicVersionKey] = v.apiVersion

	mutatedBody, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal modified request: %w", err)
	}

	pathSuffix := buildGCPModelPathSuffix(gcpModelPublisherAnthropic, string(v.requestModel), "countTokens")
	headerMutation, bodyMutation = buildRequestMutations(pathSuffix, mutatedBody)
	return
}

// ResponseHeaders implements [CountTokensTranslator.ResponseHeaders].
func (v *vertexCountTokensTranslator) ResponseHeaders(map[string]string) (headerMutation *extprocv3.HeaderMutation, err error) {
	return nil, nil
}

// ResponseBody implements [CountTokensTranslator.ResponseBody]; Vertex's
// Anthropic publisher model is assumed to return the same
// {"input_tokens": N} shape as native Anthropic, so the body passes
// through unchanged.
func (v *vertexCountTokensTranslator) ResponseBody(_ map[string]string, body io.Reader) (
	headerMutation *extprocv3.HeaderMutation, bodyMutation *extprocv3.BodyMutation, inputTokens uint32, err error,
) {
	buf, err := io.ReadAll(body)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to read response body: %w", err)
	}
	var resp anthropicschema.CountTokensResponse
	if err := json.Unmarshal(buf, &resp); err != nil {
		return nil, nil, 0, fmt.Errorf("failed to unmarshal body: %w", err)
	}
	headerMutation = &extprocv3.HeaderMutation{}
	setContentLength(headerMutation, buf)
	return headerMutation, &extprocv3.BodyMutation{Mutation: &extprocv3.BodyMutation_Body{Body: buf}}, uint32(resp.InputTokens), nil //nolint:gosec
}

// ResponseError implements [CountTokensTranslator.ResponseError].
func (v *vertexCountTokensTranslator) ResponseError(map[string]string, io.Reader) (
	headerMutation *extprocv3.HeaderMutation, bodyMutation *extprocv3.BodyMutation, err error,
) {
	return nil, nil, nil
}
