// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package gwerrors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindRateLimitExceeded, http.StatusTooManyRequests},
		{KindRateLimitFailed, http.StatusInternalServerError},
		{KindNoValidBackends, http.StatusNotFound},
		{KindBackendDoesNotExist, http.StatusServiceUnavailable},
	}
	for _, c := range cases {
		e := New(c.kind, "x")
		require.Equal(t, c.want, e.HTTPStatus())
	}
}

func TestProviderErrPreservesStatus(t *testing.T) {
	e := &Error{Kind: KindProviderErr, ProviderStatus: 418}
	require.Equal(t, 418, e.HTTPStatus())
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := Wrap(KindInternal, "failed", cause)
	require.ErrorIs(t, e, cause)

	var target *Error
	require.True(t, errors.As(e, &target))
}

func TestJSONRPCCode(t *testing.T) {
	require.Equal(t, -32602, New(KindMCPAuthorization, "").JSONRPCCode())
	require.Equal(t, -32601, New(KindMCPInvalidMethod, "").JSONRPCCode())
	require.Equal(t, -32603, New(KindMCPUpstreamError, "").JSONRPCCode())
}
