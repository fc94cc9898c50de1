// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package backendauth provides the authentication handlers that attach
// credentials to a request before it is sent to an LLM backend.
package backendauth

import (
	"context"
	"fmt"

	"github.com/agentgateway/agentgateway-go/internal/filterapi"
	"github.com/agentgateway/agentgateway-go/internal/internalapi"
)

// Handler authenticates a request against a specific backend.
//
// Do is called once the request body mutation has been finalized and
// must return any additional headers that need to be set on the
// outgoing request (e.g. `Authorization`, AWS SigV4 headers).
type Handler interface {
	Do(ctx context.Context, requestHeaders map[string]string, mutatedBody []byte) ([]internalapi.Header, error)
}

// NewHandler creates a [Handler] for the given backend auth configuration.
func NewHandler(ctx context.Context, auth *filterapi.BackendAuth) (Handler, error) {
	if auth == nil {
		return nil, fmt.Errorf("backend auth configuration is required")
	}
	switch {
	case auth.APIKey != nil:
		return newAPIKeyHandler(auth.APIKey)
	case auth.AWSAuth != nil:
		return newAWSHandler(ctx, auth.AWSAuth)
	case auth.AzureAuth != nil:
		return newAzureHandler(auth.AzureAuth)
	case auth.AzureAPIKey != nil:
		return newAzureAPIKeyHandler(auth.AzureAPIKey)
	case auth.AnthropicAPIKey != nil:
		return newAnthropicAPIKeyHandler(auth.AnthropicAPIKey)
	case auth.GCPAuth != nil:
		return newGCPHandler(auth.GCPAuth)
	default:
		return nil, fmt.Errorf("no backend auth method configured")
	}
}
