// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package promptguard

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// ModerationConfig configures the optional OpenAI Moderation call.
// Moderation uses its own API key, independent of any backend auth
// configured for the route, per spec.md §4.3.
type ModerationConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type moderationClient struct {
	client openai.Client
	model  string
}

func newModerationClient(cfg ModerationConfig) (*moderationClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("moderation requires an API key")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = "omni-moderation-latest"
	}
	return &moderationClient{client: openai.NewClient(opts...), model: model}, nil
}

// check runs a single moderation call over all messages joined into
// one input, per spec.md §4.3's "one call per request".
func (m *moderationClient) check(ctx context.Context, messages []string) (flagged bool, err error) {
	input := strings.Join(messages, "\n")
	if input == "" {
		return false, nil
	}

	resp, err := m.client.Moderations.New(ctx, openai.ModerationNewParams{
		Input: openai.ModerationNewParamsInputUnion{OfString: openai.String(input)},
		Model: openai.ModerationNewParamsModel(m.model),
	})
	if err != nil {
		return false, err
	}
	for _, result := range resp.Results {
		if result.Flagged {
			return true, nil
		}
	}
	return false, nil
}
