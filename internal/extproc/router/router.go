// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package router

import (
	"slices"

	"github.com/agentgateway/agentgateway-go/internal/filterapi"
	"github.com/agentgateway/agentgateway-go/internal/filterapi/x"
)

// router implements [x.Router] by matching the configured model-name header
// against each backend's name.
type router struct {
	modelNameHeaderKey string
	backends           []filterapi.Backend
}

// New creates a new [x.Router] implementation for the given config.
func New(config *filterapi.Config, newCustomFn x.NewCustomRouterFn) (x.Router, error) {
	r := &router{modelNameHeaderKey: string(config.ModelNameHeaderKey), backends: config.Backends}
	if newCustomFn != nil {
		customRouter := newCustomFn(r, config)
		return customRouter, nil
	}
	return r, nil
}

// Calculate implements [x.Router.Calculate].
func (r *router) Calculate(headers map[string]string) (name filterapi.RouteRuleName, err error) {
	model, ok := headers[r.modelNameHeaderKey]
	if !ok {
		return "", x.ErrNoMatchingRule
	}
	for i := range r.backends {
		b := &r.backends[i]
		if b.Name == model || string(b.ModelNameOverride) == model || slices.Contains(b.MatchModels, model) {
			if b.RouteName != "" {
				return filterapi.RouteRuleName(b.RouteName), nil
			}
			return filterapi.RouteRuleName(b.Name), nil
		}
	}
	return "", x.ErrNoMatchingRule
}
