// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgateway/agentgateway-go/internal/filterapi"
)

func TestNewCompletionsTranslator(t *testing.T) {
	for _, provider := range []Provider{filterapi.APISchemaOpenAI, filterapi.APISchemaAzureOpenAI, filterapi.APISchemaGCPVertexAI} {
		tr, err := NewCompletionsTranslator(provider, "v1", "")
		require.NoError(t, err)
		assert.NotNil(t, tr)
	}

	_, err := NewCompletionsTranslator(filterapi.APISchemaAWSBedrock, "v1", "")
	require.Error(t, err)
}

func TestNewMessagesTranslator(t *testing.T) {
	for _, provider := range []Provider{filterapi.APISchemaAnthropic, filterapi.APISchemaAWSAnthropic, filterapi.APISchemaGCPAnthropic} {
		tr, err := NewMessagesTranslator(provider, "bedrock-2023-05-31", "")
		require.NoError(t, err)
		assert.NotNil(t, tr)
	}

	_, err := NewMessagesTranslator(filterapi.APISchemaOpenAI, "v1", "")
	require.Error(t, err)
}
