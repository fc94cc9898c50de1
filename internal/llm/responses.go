// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package llm

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strconv"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	extprocv3 "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"github.com/tidwall/sjson"

	"github.com/agentgateway/agentgateway-go/internal/apischema/openai"
	"github.com/agentgateway/agentgateway-go/internal/extproc/translator"
	"github.com/agentgateway/agentgateway-go/internal/filterapi"
	"github.com/agentgateway/agentgateway-go/internal/internalapi"
)

// ResponsesTranslator translates the request and response messages between
// the client and the backend API schemas for OpenAI's /v1/responses
// endpoint, the caller shape internal/extproc/translator never modeled.
//
// This is created per request and is not thread-safe, mirroring
// [translator.OpenAIChatCompletionTranslator].
type ResponsesTranslator interface {
	// RequestBody translates the request body.
	RequestBody(raw []byte, body *openai.ResponsesRequest, forceBodyMutation bool) (
		headerMutation *extprocv3.HeaderMutation,
		bodyMutation *extprocv3.BodyMutation,
		err error,
	)

	// ResponseHeaders translates the response headers.
	ResponseHeaders(headers map[string]string) (headerMutation *extprocv3.HeaderMutation, err error)

	// ResponseBody translates the response body. When stream=true, this is called for each chunk.
	ResponseBody(respHeaders map[string]string, body io.Reader, endOfStream bool) (
		headerMutation *extprocv3.HeaderMutation,
		bodyMutation *extprocv3.BodyMutation,
		tokenUsage translator.LLMTokenUsage,
		responseModel internalapi.ResponseModel,
		err error,
	)

	// ResponseError translates the response error.
	ResponseError(respHeaders map[string]string, body io.Reader) (
		headerMutation *extprocv3.HeaderMutation,
		bodyMutation *extprocv3.BodyMutation,
		err error,
	)
}

// NewResponsesTranslator resolves the [ResponsesTranslator] for the
// ShapeResponses x provider cell of the matrix. Like Completions, OpenAI,
// Azure OpenAI and Gemini are wire-compatible for a passthrough; Bedrock's
// Responses->Converse translation (spec row "Responses | Bedrock") is not
// wired, for the same reasons Completions->Bedrock is not (see DESIGN.md).
func NewResponsesTranslator(provider Provider, apiVersion string, modelNameOverride internalapi.ModelNameOverride) (ResponsesTranslator, error) {
	switch provider {
	case filterapi.APISchemaOpenAI, filterapi.APISchemaAzureOpenAI, filterapi.APISchemaGCPVertexAI:
		return newResponsesOpenAIToOpenAITranslator(apiVersion, modelNameOverride), nil
	default:
		return nil, fmt.Errorf("llm: no Responses translator wired for provider %q", provider)
	}
}

// responsesOpenAIToOpenAITranslator is a passthrough translator for
// OpenAI's Responses API, adapted from
// internal/extproc/translator/openai_openai.go's chat-completions
// passthrough to the Responses endpoint and wire shape.
type responsesOpenAIToOpenAITranslator struct {
	modelNameOverride      internalapi.ModelNameOverride
	requestModel           internalapi.RequestModel
	streamingResponseModel internalapi.ResponseModel
	stream                 bool
	buffered               []byte
	path                   string
}

func newResponsesOpenAIToOpenAITranslator(apiVersion string, modelNameOverride internalapi.ModelNameOverride) *responsesOpenAIToOpenAITranslator {
	return &responsesOpenAIToOpenAITranslator{modelNameOverride: modelNameOverride, path: path.Join("/", apiVersion, "responses")}
}

// RequestBody implements [ResponsesTranslator.RequestBody].
func (o *responsesOpenAIToOpenAITranslator) RequestBody(original []byte, req *openai.ResponsesRequest, forceBodyMutation bool) (
	headerMutation *extprocv3.HeaderMutation, bodyMutation *extprocv3.BodyMutation, err error,
) {
	o.stream = req.GetStream()
	o.requestModel = internalapi.RequestModel(req.GetModel())

	var newBody []byte
	if o.modelNameOverride != "" {
		newBody, err = sjson.SetBytesOptions(original, "model", o.modelNameOverride, sjsonOptions)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to set model name: %w", err)
		}
		o.requestModel = internalapi.RequestModel(o.modelNameOverride)
	}

	headerMutation = &extprocv3.HeaderMutation{
		SetHeaders: []*corev3.HeaderValueOption{
			{Header: &corev3.HeaderValue{Key: ":path", RawValue: []byte(o.path)}},
		},
	}

	if forceBodyMutation && len(newBody) == 0 {
		newBody = original
	}
	if len(newBody) > 0 {
		bodyMutation = &extprocv3.BodyMutation{Mutation: &extprocv3.BodyMutation_Body{Body: newBody}}
		headerMutation.SetHeaders = append(headerMutation.SetHeaders, &corev3.HeaderValueOption{Header: &corev3.HeaderValue{
			Key:      "content-length",
			RawValue: []byte(strconv.Itoa(len(newBody))),
		}})
	}
	return
}

// ResponseError implements [ResponsesTranslator.ResponseError].
func (o *responsesOpenAIToOpenAITranslator) ResponseError(respHeaders map[string]string, body io.Reader) (
	headerMutation *extprocv3.HeaderMutation, bodyMutation *extprocv3.BodyMutation, err error,
) {
	if v, ok := respHeaders["content-type"]; ok && v != "application/json" {
		statusCode := respHeaders[":status"]
		buf, readErr := io.ReadAll(body)
		if readErr != nil {
			return nil, nil, fmt.Errorf("failed to read error body: %w", readErr)
		}
		openaiError := openai.Error{
			Type: "error",
			Error: openai.ErrorType{
				Type:    "OpenAIBackendError",
				Message: string(buf),
				Code:    &statusCode,
			},
		}
		mut := &extprocv3.BodyMutation_Body{}
		mut.Body, err = json.Marshal(openaiError)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal error body: %w", err)
		}
		headerMutation = &extprocv3.HeaderMutation{}
		setContentLength(headerMutation, mut.Body)
		return headerMutation, &extprocv3.BodyMutation{Mutation: mut}, nil
	}
	return nil, nil, nil
}

// ResponseHeaders implements [ResponsesTranslator.ResponseHeaders].
func (o *responsesOpenAIToOpenAITranslator) ResponseHeaders(map[string]string) (headerMutation *extprocv3.HeaderMutation, err error) {
	return nil, nil
}

// ResponseBody implements [ResponsesTranslator.ResponseBody].
func (o *responsesOpenAIToOpenAITranslator) ResponseBody(_ map[string]string, body io.Reader, _ bool) (
	headerMutation *extprocv3.HeaderMutation, bodyMutation *extprocv3.BodyMutation, tokenUsage translator.LLMTokenUsage, responseModel internalapi.ResponseModel, err error,
) {
	if o.stream {
		var buf []byte
		buf, err = io.ReadAll(body)
		if err != nil {
			return nil, nil, tokenUsage, internalapi.ResponseModel(o.requestModel), fmt.Errorf("failed to read body: %w", err)
		}
		o.buffered = append(o.buffered, buf...)
		tokenUsage = o.extractUsageFromBufferedEvents()
		responseModel = cmp.Or(o.streamingResponseModel, internalapi.ResponseModel(o.requestModel))
		return
	}

	resp := &openai.ResponsesResponse{}
	if err := json.NewDecoder(body).Decode(resp); err != nil {
		return nil, nil, tokenUsage, responseModel, fmt.Errorf("failed to unmarshal body: %w", err)
	}
	if resp.Usage != nil {
		tokenUsage = translator.LLMTokenUsage{
			InputTokens:  uint32(resp.Usage.InputTokens),  //nolint:gosec
			OutputTokens: uint32(resp.Usage.OutputTokens), //nolint:gosec
			TotalTokens:  uint32(resp.Usage.TotalTokens),  //nolint:gosec
		}
		if resp.Usage.InputTokensDetails != nil {
			tokenUsage.CachedInputTokens = uint32(resp.Usage.InputTokensDetails.CachedTokens) //nolint:gosec
		}
	}
	responseModel = cmp.Or(internalapi.ResponseModel(resp.Model), internalapi.ResponseModel(o.requestModel))
	return nil, nil, tokenUsage, responseModel, nil
}

var responsesDataPrefix = []byte("data: ")

// extractUsageFromBufferedEvents scans complete SSE lines out of the
// buffered Responses stream and returns the latest usage found in this
// batch, mirroring openAIToOpenAITranslatorV1ChatCompletion's streaming
// usage extraction.
func (o *responsesOpenAIToOpenAITranslator) extractUsageFromBufferedEvents() (tokenUsage translator.LLMTokenUsage) {
	for {
		i := bytes.IndexByte(o.buffered, '\n')
		if i == -1 {
			return
		}
		line := o.buffered[:i]
		o.buffered = o.buffered[i+1:]
		if !bytes.HasPrefix(line, responsesDataPrefix) {
			continue
		}
		event := &openai.ResponsesStreamEvent{}
		if err := json.Unmarshal(bytes.TrimPrefix(line, responsesDataPrefix), event); err != nil {
			continue
		}
		if event.Response == nil {
			continue
		}
		if event.Response.Model != "" {
			o.streamingResponseModel = internalapi.ResponseModel(event.Response.Model)
		}
		if usage := event.Response.Usage; usage != nil {
			tokenUsage.InputTokens = uint32(usage.InputTokens)   //nolint:gosec
			tokenUsage.OutputTokens = uint32(usage.OutputTokens) //nolint:gosec
			tokenUsage.TotalTokens = uint32(usage.TotalTokens)   //nolint:gosec
			if usage.InputTokensDetails != nil {
				tokenUsage.CachedInputTokens = uint32(usage.InputTokensDetails.CachedTokens) //nolint:gosec
			}
		}
	}
}
