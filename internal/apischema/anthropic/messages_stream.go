// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package anthropic

import (
	"encoding/json"
	"fmt"
)

// MessageContentArrayElement is one element of a Messages API content block
// array, kept loose since only the translator's own block types are ever
// inspected and everything else is passed through verbatim.
type MessageContentArrayElement struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
}

// MessageContent represents the Messages API "content" field, which the
// API allows to be either a plain string or an array of content blocks.
type MessageContent struct {
	Text  string
	Array []MessageContentArrayElement
}

// UnmarshalJSON accepts either a JSON string (stored in Text) or a JSON
// array of content blocks (stored in Array).
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		return nil
	}
	var arr []MessageContentArrayElement
	if err := json.Unmarshal(data, &arr); err == nil {
		c.Array = arr
		return nil
	}
	return fmt.Errorf("anthropic: content is neither a string nor an array: %s", string(data))
}

// MessagesContentBlock is a content block as it appears in a Messages API
// response or message_start event.
type MessagesContentBlock struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
}

// Usage reports Messages API token accounting.
type Usage struct {
	InputTokens           int `json:"input_tokens,omitempty"`
	OutputTokens          int `json:"output_tokens,omitempty"`
	CacheReadInputTokens  int `json:"cache_read_input_tokens,omitempty"`
	CacheWriteInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}

// MessagesResponse is a non-streaming /v1/messages response, trimmed to
// the fields the translator actually reads off it.
type MessagesResponse struct {
	Model string `json:"model"`
	Usage Usage  `json:"usage"`
}

// MessagesStreamEventMessageStart is the "message" payload of a
// message_start SSE event.
type MessagesStreamEventMessageStart struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	Role         string                 `json:"role"`
	Model        string                 `json:"model"`
	StopSequence *string                `json:"stop_sequence"`
	Usage        *Usage                 `json:"usage"`
	Content      []MessagesContentBlock `json:"content"`
	StopReason   *string                `json:"stop_reason"`
}

// MessagesStreamEventMessageDeltaDelta is the "delta" payload of a
// message_delta SSE event.
type MessagesStreamEventMessageDeltaDelta struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

// MessagesStreamEventMessageDelta is the body of a message_delta SSE
// event: incremental stop info plus the usage seen so far.
type MessagesStreamEventMessageDelta struct {
	Delta MessagesStreamEventMessageDeltaDelta `json:"delta"`
	Usage Usage                                `json:"usage"`
}

// MessagesStreamEvent is one decoded "data: {...}" line of a Messages API
// SSE stream. Only message_start and message_delta carry payloads the
// translator needs; the rest (content_block_*, message_stop) are tracked
// by Type alone.
type MessagesStreamEvent struct {
	Type         string
	MessageStart *MessagesStreamEventMessageStart
	MessageDelta *MessagesStreamEventMessageDelta
}

// UnmarshalJSON dispatches on the event's "type" field, populating
// MessageStart/MessageDelta only for the event types that carry usage or
// model information the translator cares about.
func (e *MessagesStreamEvent) UnmarshalJSON(data []byte) error {
	var envelope struct {
		Type    string                           `json:"type"`
		Message *MessagesStreamEventMessageStart `json:"message"`
		Delta   *MessagesStreamEventMessageDeltaDelta `json:"delta"`
		Usage   *Usage                           `json:"usage"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("anthropic: invalid stream event: %w", err)
	}
	if envelope.Type == "" {
		return fmt.Errorf("anthropic: stream event missing \"type\" field")
	}
	e.Type = envelope.Type
	switch envelope.Type {
	case "message_start":
		e.MessageStart = envelope.Message
	case "message_delta":
		delta := MessagesStreamEventMessageDeltaDelta{}
		if envelope.Delta != nil {
			delta = *envelope.Delta
		}
		usage := Usage{}
		if envelope.Usage != nil {
			usage = *envelope.Usage
		}
		e.MessageDelta = &MessagesStreamEventMessageDelta{Delta: delta, Usage: usage}
	}
	return nil
}
