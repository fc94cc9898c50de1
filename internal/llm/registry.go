// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package llm

import (
	"fmt"

	"github.com/agentgateway/agentgateway-go/internal/extproc/translator"
	"github.com/agentgateway/agentgateway-go/internal/filterapi"
	"github.com/agentgateway/agentgateway-go/internal/internalapi"
)

// Provider identifies the backend wire format a request is translated to.
// It is exactly filterapi's VersionedAPISchema.Name since the gateway's
// route configuration is the single source of truth for which provider a
// backend speaks.
type Provider = filterapi.APISchemaName

// NewCompletionsTranslator resolves the [translator.OpenAIChatCompletionTranslator]
// for the ShapeCompletions x provider cell of the matrix.
//
// OpenAI, Azure OpenAI and Gemini (via Vertex AI's OpenAI-compatible
// endpoint) are wire-compatible for a Chat Completions passthrough, so all
// three share the same identity translator; Anthropic, AWS Bedrock and the
// GCP Anthropic-on-Vertex cells require translating OpenAI's request shape
// into the target provider's own shape, which is not wired here yet — see
// DESIGN.md ("internal/apischema/openai: schema far short of what
// translator/*.go needs" and "internal/extproc/translator: two incompatible
// header-mutation conventions").
func NewCompletionsTranslator(provider Provider, apiVersion string, modelNameOverride internalapi.ModelNameOverride) (translator.OpenAIChatCompletionTranslator, error) {
	switch provider {
	case filterapi.APISchemaOpenAI, filterapi.APISchemaAzureOpenAI, filterapi.APISchemaGCPVertexAI:
		return translator.NewChatCompletionOpenAIToOpenAITranslator(apiVersion, modelNameOverride), nil
	default:
		return nil, fmt.Errorf("llm: no Completions translator wired for provider %q", provider)
	}
}

// NewMessagesTranslator resolves the [translator.AnthropicMessagesTranslator]
// for the ShapeMessages x provider cell of the matrix: native Anthropic,
// Anthropic-on-Bedrock and Anthropic-on-Vertex are all wired, since all
// three keep the Anthropic Messages wire shape end to end.
func NewMessagesTranslator(provider Provider, apiVersion string, modelNameOverride internalapi.ModelNameOverride) (translator.AnthropicMessagesTranslator, error) {
	switch provider {
	case filterapi.APISchemaAnthropic:
		return translator.NewAnthropicToAnthropicTranslator(apiVersion, modelNameOverride), nil
	case filterapi.APISchemaAWSAnthropic:
		return translator.NewAnthropicToAWSAnthropicTranslator(apiVersion, modelNameOverride), nil
	case filterapi.APISchemaGCPAnthropic:
		return translator.NewAnthropicToGCPAnthropicTranslator(apiVersion, modelNameOverride), nil
	default:
		return nil, fmt.Errorf("llm: no Messages translator wired for provider %q", provider)
	}
}
