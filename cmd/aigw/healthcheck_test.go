// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_healthcheck(t *testing.T) {
	t.Run("returns error when nothing is listening", func(t *testing.T) {
		t.Setenv("AIGW_ADMIN_PORT", "1")
		ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
		defer cancel()
		var stdout bytes.Buffer
		err := healthcheck(ctx, &stdout, &stdout)
		require.Error(t, err)
	})

	t.Run("returns error on non-200 status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
		}))
		defer server.Close()
		setAdminPortEnv(t, server.URL)

		var stdout bytes.Buffer
		err := healthcheck(t.Context(), &stdout, &stdout)
		require.ErrorContains(t, err, "unhealthy: status 503")
	})

	t.Run("returns nil when healthy", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/health", r.URL.Path)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		}))
		defer server.Close()
		setAdminPortEnv(t, server.URL)

		var stdout bytes.Buffer
		require.NoError(t, healthcheck(t.Context(), &stdout, &stdout))
		require.Equal(t, "OK", stdout.String())
	})

	t.Run("invalid AIGW_ADMIN_PORT", func(t *testing.T) {
		t.Setenv("AIGW_ADMIN_PORT", "not-a-number")
		var stdout bytes.Buffer
		err := healthcheck(t.Context(), &stdout, &stdout)
		require.ErrorContains(t, err, "invalid AIGW_ADMIN_PORT")
	})
}

func setAdminPortEnv(t *testing.T, serverURL string) {
	t.Helper()
	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	_, err = strconv.Atoi(u.Port())
	require.NoError(t, err)
	t.Setenv("AIGW_ADMIN_PORT", u.Port())
}
