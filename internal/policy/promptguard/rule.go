// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package promptguard scans chat message content for regex-matched
// sensitive patterns, an optional OpenAI Moderation call, and an
// optional webhook in the "guardrails" protocol, grounded on spec.md
// §4.3's request/response prompt-guard semantics.
package promptguard

import (
	"fmt"
	"regexp"
)

// Action is what a matching Rule does to the message it matched.
type Action int

const (
	// ActionMask replaces each match with a redaction placeholder.
	ActionMask Action = iota
	// ActionReject terminates the request/response with RejectMessage.
	ActionReject
)

// Rule is one regex pattern and the action taken when it matches.
type Rule struct {
	Name          string
	Pattern       *regexp.Regexp
	Action        Action
	RejectMessage string
}

// RuleConfig is the user-facing configuration for a single rule.
type RuleConfig struct {
	Name          string
	Pattern       string
	Action        Action
	RejectMessage string
}

func (c RuleConfig) build() (Rule, error) {
	re, err := regexp.Compile(c.Pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("promptguard: invalid pattern for rule %q: %w", c.Name, err)
	}
	msg := c.RejectMessage
	if msg == "" {
		msg = "Request blocked by prompt guard"
	}
	return Rule{Name: c.Name, Pattern: re, Action: c.Action, RejectMessage: msg}, nil
}

// Builtin rule patterns. Grounded on spec.md §4.3's named builtins
// (SSN, credit card, phone, email); kept permissive since the prompt
// guard's job is to catch obvious leaks, not to be a validator.
const (
	patternSSN    = `\b\d{3}-\d{2}-\d{4}\b`
	patternCC     = `\b(?:\d[ -]*?){13,16}\b`
	patternPhone  = `\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`
	patternEmail  = `\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`
	maskPlaceholder = "[REDACTED]"
)

// BuiltinRule names one of the built-in detectors.
type BuiltinRule string

const (
	BuiltinSSN   BuiltinRule = "ssn"
	BuiltinCC    BuiltinRule = "credit_card"
	BuiltinPhone BuiltinRule = "phone"
	BuiltinEmail BuiltinRule = "email"
)

func builtinPattern(b BuiltinRule) string {
	switch b {
	case BuiltinSSN:
		return patternSSN
	case BuiltinCC:
		return patternCC
	case BuiltinPhone:
		return patternPhone
	case BuiltinEmail:
		return patternEmail
	default:
		return ""
	}
}

func newBuiltinRule(b BuiltinRule, action Action) (Rule, error) {
	p := builtinPattern(b)
	if p == "" {
		return Rule{}, fmt.Errorf("promptguard: unknown builtin rule %q", b)
	}
	cfg := RuleConfig{Name: string(b), Pattern: p, Action: action, RejectMessage: "Request blocked: " + string(b) + " detected"}
	return cfg.build()
}

// apply runs the rule against message and returns the masked text and
// whether it matched.
func (r Rule) apply(message string) (masked string, matched bool) {
	if !r.Pattern.MatchString(message) {
		return message, false
	}
	return r.Pattern.ReplaceAllString(message, maskPlaceholder), true
}
