// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentgateway/agentgateway-go/internal/filterapi"
)

func Test_parseFlags(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		f, err := parseFlags([]string{"-configPath", "/path/to/config.yaml"})
		require.NoError(t, err)
		require.Equal(t, "/path/to/config.yaml", f.configPath)
		require.Equal(t, ":8080", f.listenAddr)
	})

	t.Run("missing configPath", func(t *testing.T) {
		_, err := parseFlags(nil)
		require.ErrorContains(t, err, "configPath must be provided")
	})

	t.Run("invalid log level", func(t *testing.T) {
		_, err := parseFlags([]string{"-configPath", "x", "-logLevel", "bogus"})
		require.Error(t, err)
	})
}

func TestSchemaToProviderType(t *testing.T) {
	tests := []struct {
		name filterapi.APISchemaName
		ok   bool
	}{
		{filterapi.APISchemaOpenAI, true},
		{filterapi.APISchemaAnthropic, true},
		{filterapi.APISchemaGCPAnthropic, true},
		{filterapi.APISchemaAWSAnthropic, true},
		{filterapi.APISchemaGCPVertexAI, true},
		{filterapi.APISchemaAWSBedrock, true},
		{filterapi.APISchemaAzureOpenAI, true},
		{filterapi.APISchemaName("bogus"), false},
	}
	for _, tt := range tests {
		_, err := schemaToProviderType(tt.name)
		if tt.ok {
			require.NoError(t, err, tt.name)
		} else {
			require.Error(t, err, tt.name)
		}
	}
}

func TestBuildResolver(t *testing.T) {
	cfg := &filterapi.Config{
		Backends: []filterapi.Backend{
			{Name: "openai-primary", RouteName: "chat", BaseURL: "https://api.openai.com", Schema: filterapi.VersionedAPISchema{Name: filterapi.APISchemaOpenAI}},
			{Name: "openai-secondary", RouteName: "chat", BaseURL: "https://api.openai.com", Schema: filterapi.VersionedAPISchema{Name: filterapi.APISchemaOpenAI}},
			{Name: "anthropic", BaseURL: "https://api.anthropic.com", Schema: filterapi.VersionedAPISchema{Name: filterapi.APISchemaAnthropic}},
		},
	}

	resolver, err := buildResolver(cfg)
	require.NoError(t, err)

	listener := resolver.SelectListener(defaultBind, "", "any-host")
	require.NotNil(t, listener)
	require.Len(t, listener.HTTPRoutes, 2)

	var chatRoute, anthropicRoute bool
	for _, rt := range listener.HTTPRoutes {
		switch rt.NamespacedName {
		case "chat":
			chatRoute = true
			require.Len(t, rt.Backends, 2)
		case "anthropic":
			anthropicRoute = true
			require.Len(t, rt.Backends, 1)
		}
	}
	require.True(t, chatRoute)
	require.True(t, anthropicRoute)
}

func TestBuildResolver_UnsupportedSchema(t *testing.T) {
	cfg := &filterapi.Config{
		Backends: []filterapi.Backend{
			{Name: "bad", BaseURL: "https://example.com", Schema: filterapi.VersionedAPISchema{Name: "Unsupported"}},
		},
	}
	_, err := buildResolver(cfg)
	require.ErrorContains(t, err, "unsupported schema")
}

func TestRun_MissingConfigPath(t *testing.T) {
	err := run(context.Background(), nil, &bytes.Buffer{})
	require.ErrorContains(t, err, "configPath must be provided")
}

func TestRun_LoadsConfigAndShutsDownOnCancel(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
backends:
- name: openai
  baseURL: https://api.openai.com
  schema:
    name: OpenAI
`), 0o600))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := run(ctx, []string{"-configPath", configPath, "-listenAddr", "127.0.0.1:0"}, &bytes.Buffer{})
	require.NoError(t, err)
}
