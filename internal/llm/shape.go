// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package llm generalizes internal/extproc/translator's one-caller-shape
// to one-provider translators into the full shape x provider matrix: the
// caller can speak OpenAI Chat Completions, OpenAI Responses, Anthropic
// Messages, Anthropic CountTokens or OpenAI Embeddings, and the backend can
// be any of the six supported providers. Callers resolve a translator once
// per request via NewCompletionsTranslator/NewMessagesTranslator/
// NewResponsesTranslator/NewCountTokensTranslator and drive it exactly like
// the single-pair translators in internal/extproc/translator.
package llm

// Shape identifies the wire shape the caller used to reach the gateway,
// independent of which provider the request is ultimately routed to.
type Shape string

const (
	// ShapeCompletions is OpenAI's /v1/chat/completions.
	ShapeCompletions Shape = "Completions"
	// ShapeMessages is Anthropic's /v1/messages.
	ShapeMessages Shape = "Messages"
	// ShapeResponses is OpenAI's /v1/responses.
	ShapeResponses Shape = "Responses"
	// ShapeEmbeddings is OpenAI's /v1/embeddings.
	ShapeEmbeddings Shape = "Embeddings"
	// ShapeCountTokens is Anthropic's /v1/messages/count_tokens.
	ShapeCountTokens Shape = "CountTokens"
	// ShapePassthrough forwards the request body unchanged regardless of
	// provider, used for backends configured without any declared schema.
	ShapePassthrough Shape = "Passthrough"
)
