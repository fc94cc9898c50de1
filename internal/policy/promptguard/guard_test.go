// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package promptguard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGuardPassesCleanMessages(t *testing.T) {
	g, err := New(Config{Builtin: &BuiltinConfig{Rules: []BuiltinRule{BuiltinEmail}, Action: ActionMask}})
	require.NoError(t, err)

	result, err := g.ScanRequest(context.Background(), []string{"hello, how are you?"})
	require.NoError(t, err)
	require.Equal(t, VerdictPass, result.Verdict)
}

func TestGuardMasksEmail(t *testing.T) {
	g, err := New(Config{Builtin: &BuiltinConfig{Rules: []BuiltinRule{BuiltinEmail}, Action: ActionMask}})
	require.NoError(t, err)

	result, err := g.ScanRequest(context.Background(), []string{"contact me at foo@example.com please"})
	require.NoError(t, err)
	require.Equal(t, VerdictMask, result.Verdict)
	require.Contains(t, result.Messages[0], "[REDACTED]")
	require.NotContains(t, result.Messages[0], "foo@example.com")
}

func TestGuardRejectsSSN(t *testing.T) {
	g, err := New(Config{Builtin: &BuiltinConfig{Rules: []BuiltinRule{BuiltinSSN}, Action: ActionReject}})
	require.NoError(t, err)

	result, err := g.ScanRequest(context.Background(), []string{"my ssn is 123-45-6789"})
	require.NoError(t, err)
	require.Equal(t, VerdictReject, result.Verdict)
	require.NotEmpty(t, result.RejectMessage)
}

func TestGuardCustomRulePattern(t *testing.T) {
	g, err := New(Config{CustomRules: []RuleConfig{
		{Name: "secret-token", Pattern: `sk-[A-Za-z0-9]{10,}`, Action: ActionReject, RejectMessage: "API key leaked"},
	}})
	require.NoError(t, err)

	result, err := g.ScanRequest(context.Background(), []string{"here is my key sk-abcdefghijklmnop"})
	require.NoError(t, err)
	require.Equal(t, VerdictReject, result.Verdict)
	require.Equal(t, "API key leaked", result.RejectMessage)
}

func TestGuardResponseScanHasNoModerationStep(t *testing.T) {
	g, err := New(Config{Builtin: &BuiltinConfig{Rules: []BuiltinRule{BuiltinEmail}, Action: ActionMask}})
	require.NoError(t, err)

	result, err := g.ScanResponse(context.Background(), []string{"reach out to bar@example.com"})
	require.NoError(t, err)
	require.Equal(t, VerdictMask, result.Verdict)
}

func TestGuardWebhookMaskOverridesMessages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req guardrailsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(guardrailsResponse{Action: "mask", Messages: []string{"masked by webhook"}})
	}))
	defer server.Close()

	g, err := New(Config{Webhook: &WebhookConfig{URL: server.URL}})
	require.NoError(t, err)

	result, err := g.ScanRequest(context.Background(), []string{"original message"})
	require.NoError(t, err)
	require.Equal(t, VerdictMask, result.Verdict)
	require.Equal(t, []string{"masked by webhook"}, result.Messages)
}

func TestGuardWebhookReject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(guardrailsResponse{Action: "reject", RejectMessage: "blocked by webhook"})
	}))
	defer server.Close()

	g, err := New(Config{Webhook: &WebhookConfig{URL: server.URL}})
	require.NoError(t, err)

	result, err := g.ScanRequest(context.Background(), []string{"anything"})
	require.NoError(t, err)
	require.Equal(t, VerdictReject, result.Verdict)
	require.Equal(t, "blocked by webhook", result.RejectMessage)
}

func TestGuardInvalidCustomPatternRejectedAtConstruction(t *testing.T) {
	_, err := New(Config{CustomRules: []RuleConfig{{Name: "bad", Pattern: "("}}})
	require.Error(t, err)
}
