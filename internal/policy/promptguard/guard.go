// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package promptguard

import (
	"context"
	"fmt"
)

// Verdict is the outcome of scanning a set of messages.
type Verdict int

const (
	// VerdictPass means no rule matched; messages are unchanged.
	VerdictPass Verdict = iota
	// VerdictMask means one or more Mask rules matched; Messages holds
	// the redacted content.
	VerdictMask
	// VerdictReject means a Reject rule, Moderation, or the webhook
	// flagged the content; RejectMessage explains why.
	VerdictReject
)

// Result is the outcome of Guard.ScanRequest/ScanResponse.
type Result struct {
	Verdict       Verdict
	Messages      []string
	RejectMessage string
}

// BuiltinConfig enables a subset of the built-in regex detectors.
type BuiltinConfig struct {
	Rules  []BuiltinRule
	Action Action
}

// Config is the user-facing configuration for a Guard.
type Config struct {
	Builtin    *BuiltinConfig
	CustomRules []RuleConfig
	Moderation *ModerationConfig
	Webhook    *WebhookConfig
}

// Guard applies regex rules, an optional moderation call, and an
// optional webhook to chat message content.
type Guard struct {
	rules      []Rule
	moderation *moderationClient
	webhook    *webhookClient
}

// New builds a Guard from cfg.
func New(cfg Config) (*Guard, error) {
	g := &Guard{}

	if cfg.Builtin != nil {
		for _, b := range cfg.Builtin.Rules {
			r, err := newBuiltinRule(b, cfg.Builtin.Action)
			if err != nil {
				return nil, err
			}
			g.rules = append(g.rules, r)
		}
	}
	for _, rc := range cfg.CustomRules {
		r, err := rc.build()
		if err != nil {
			return nil, err
		}
		g.rules = append(g.rules, r)
	}

	if cfg.Moderation != nil {
		mc, err := newModerationClient(*cfg.Moderation)
		if err != nil {
			return nil, fmt.Errorf("promptguard: cannot build moderation client: %w", err)
		}
		g.moderation = mc
	}
	if cfg.Webhook != nil {
		g.webhook = newWebhookClient(*cfg.Webhook)
	}

	return g, nil
}

// ScanRequest applies rules, then moderation, then the webhook, to the
// caller's normalized chat messages, per spec.md §4.3's request
// prompt-guard ordering.
func (g *Guard) ScanRequest(ctx context.Context, messages []string) (Result, error) {
	result := g.applyRules(messages)
	if result.Verdict == VerdictReject {
		return result, nil
	}

	if g.moderation != nil {
		flagged, err := g.moderation.check(ctx, result.Messages)
		if err != nil {
			return Result{}, fmt.Errorf("promptguard: moderation check failed: %w", err)
		}
		if flagged {
			return Result{Verdict: VerdictReject, RejectMessage: "Request blocked by content moderation"}, nil
		}
	}

	if g.webhook != nil {
		verdict, err := g.webhook.check(ctx, result.Messages)
		if err != nil {
			return Result{}, fmt.Errorf("promptguard: webhook check failed: %w", err)
		}
		switch verdict.Action {
		case "reject":
			return Result{Verdict: VerdictReject, RejectMessage: verdict.RejectMessage}, nil
		case "mask":
			result.Verdict = VerdictMask
			result.Messages = verdict.Messages
		}
	}

	return result, nil
}

// ScanResponse applies rules only (no moderation step), per spec.md
// §4.3's "same shapes but ... no moderation step" response prompt-guard.
func (g *Guard) ScanResponse(ctx context.Context, messages []string) (Result, error) {
	result := g.applyRules(messages)
	if result.Verdict == VerdictReject {
		return result, nil
	}

	if g.webhook != nil {
		verdict, err := g.webhook.check(ctx, result.Messages)
		if err != nil {
			return Result{}, fmt.Errorf("promptguard: webhook check failed: %w", err)
		}
		switch verdict.Action {
		case "reject":
			return Result{Verdict: VerdictReject, RejectMessage: verdict.RejectMessage}, nil
		case "mask":
			result.Verdict = VerdictMask
			result.Messages = verdict.Messages
		}
	}

	return result, nil
}

func (g *Guard) applyRules(messages []string) Result {
	out := make([]string, len(messages))
	copy(out, messages)
	masked := false

	for _, rule := range g.rules {
		for i, msg := range out {
			newMsg, matched := rule.apply(msg)
			if !matched {
				continue
			}
			if rule.Action == ActionReject {
				return Result{Verdict: VerdictReject, RejectMessage: rule.RejectMessage}
			}
			out[i] = newMsg
			masked = true
		}
	}

	if masked {
		return Result{Verdict: VerdictMask, Messages: out}
	}
	return Result{Verdict: VerdictPass, Messages: out}
}
