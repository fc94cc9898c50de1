// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package llm

import (
	"fmt"
	"strconv"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	extprocv3 "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"github.com/tidwall/sjson"
)

// gcpModelPublisherAnthropic is Vertex AI's publisher id for Claude models,
// mirroring internal/extproc/translator/gemini_helper.go's constant of the
// same name (unexported there, so re-declared here rather than imported).
const gcpModelPublisherAnthropic = "anthropic"

// buildGCPModelPathSuffix mirrors
// internal/extproc/translator/gemini_helper.go's function of the same name.
func buildGCPModelPathSuffix(publisher, model, gcpMethod string) string {
	return fmt.Sprintf("publishers/%s/models/%s:%s", publisher, model, gcpMethod)
}

// buildRequestMutations mirrors internal/extproc/translator/util.go's
// function of the same name: it sets the ":path" header, the
// "content-length" header and the request body for a GCP-bound request.
func buildRequestMutations(path string, reqBody []byte) (*extprocv3.HeaderMutation, *extprocv3.BodyMutation) {
	var bodyMutation *extprocv3.BodyMutation
	var headerMutation *extprocv3.HeaderMutation

	if len(path) != 0 {
		headerMutation = &extprocv3.HeaderMutation{
			SetHeaders: []*corev3.HeaderValueOption{
				{Header: &corev3.HeaderValue{Key: ":path", RawValue: []byte(path)}},
			},
		}
	}
	if len(reqBody) != 0 {
		if headerMutation == nil {
			headerMutation = &extprocv3.HeaderMutation{}
		}
		setContentLength(headerMutation, reqBody)
		bodyMutation = &extprocv3.BodyMutation{Mutation: &extprocv3.BodyMutation_Body{Body: reqBody}}
	}
	return headerMutation, bodyMutation
}

// anthropicVersionKey mirrors internal/extproc/translator/util.go's
// constant of the same name.
const anthropicVersionKey = "anthropic_version"

// sjsonOptions mirrors internal/extproc/translator's own sjsonOptions:
// optimistic in-place-free sets, since a translator may run more than once
// per request across retries and must not mutate the original body.
var sjsonOptions = &sjson.Options{
	Optimistic:     true,
	ReplaceInPlace: false,
}

// sjsonSet sets a single JSON field using sjsonOptions, the same
// idempotent-across-retries semantics internal/extproc/translator's
// translators rely on.
func sjsonSet(original []byte, path string, value any) ([]byte, error) {
	return sjson.SetBytesOptions(original, path, value, sjsonOptions)
}

// setContentLength appends a content-length header mutation for body,
// mirroring internal/extproc/translator.setContentLength.
func setContentLength(headers *extprocv3.HeaderMutation, body []byte) {
	headers.SetHeaders = append(headers.SetHeaders, &corev3.HeaderValueOption{
		Header: &corev3.HeaderValue{
			Key:      "content-length",
			RawValue: []byte(strconv.Itoa(len(body))),
		},
	})
}
