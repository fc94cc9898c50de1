// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package internalapi provides constants and functions used across the boundary
// among controller, extension server and extproc.
package internalapi

import "fmt"

const (
	// InternalEndpointMetadataNamespace is the namespace used for the dynamic metadata for internal use.
	InternalEndpointMetadataNamespace = "aigateway.envoy.io"
	// InternalMetadataBackendNameKey is the key used to store the backend name
	InternalMetadataBackendNameKey = "per_route_rule_backend_name"
	// ModelNameHeaderKeyDefault is the request header carrying the resolved
	// request model name, read by the router filter's header-derived CEL
	// matching and metrics labels.
	ModelNameHeaderKeyDefault = "x-ai-eg-model"
)

// RequestModel is the model name as read from the incoming request body,
// before any backend-specific override is applied.
type RequestModel string

// ResponseModel is the model name as reported back by the backend in the
// response body, which may differ from RequestModel (e.g. a backend that
// resolves an alias to a concrete model version).
type ResponseModel string

// ModelNameOverride replaces the request's model name with a backend-specific
// one before the request is forwarded, e.g. when a route maps a virtual model
// name to a provider's actual model identifier.
type ModelNameOverride string

// PerRouteRuleRefBackendName generates a unique backend name for a per-route rule,
// i.e., the unique identifier for a backend that is associated with a specific
// route rule in a specific AIGatewayRoute.
func PerRouteRuleRefBackendName(namespace, name, routeName string, routeRuleIndex, refIndex int) string {
	return fmt.Sprintf("%s/%s/route/%s/rule/%d/ref/%d", namespace, name, routeName, routeRuleIndex, refIndex)
}
