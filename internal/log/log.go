// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package log provides the gateway's process-wide structured logger,
// following the same [log/slog] usage as the rest of the repository
// (internal/extproc, internal/mcp, cmd/aigw).
package log

import (
	"log/slog"
	"os"
)

// New builds the default text-handler logger used by the gateway binary.
func New(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Default is the process-wide logger, installed by cmd/agentgateway at
// startup. Packages that cannot take a logger as a constructor argument
// (background singletons such as the CA client's lazy credential caches,
// per §9 "Global mutable state") fall back to this.
var Default = New(slog.LevelInfo)
