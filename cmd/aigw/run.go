// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
)

// errExtProcRun wraps any error returned by the external processor process so that
// callers (and tests) can distinguish a launch/runtime failure from a config error.
var errExtProcRun = errors.New("external processor exited")

// run resolves the AI Gateway configuration, writes it to opts.extprocConfigPath, starts any
// configured stdio MCP server proxies, and launches the external processor that serves it.
// It blocks until ctx is canceled or the external processor exits.
func run(ctx context.Context, c cmdRun, opts *runOpts, _, stderr io.Writer) error {
	level := slog.LevelInfo
	if c.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	if c.mcpConfig != nil && opts.configPath == "" {
		if err := proxyStdioMCPServers(ctx, logger, c.mcpConfig); err != nil {
			return fmt.Errorf("failed to start MCP stdio proxies: %w", err)
		}
	}

	configYAML, err := readConfig(opts.configPath, c.mcpConfig, c.Debug)
	if err != nil {
		return fmt.Errorf("failed to resolve configuration: %w", err)
	}

	if err := os.WriteFile(opts.extprocConfigPath, []byte(configYAML), 0o600); err != nil {
		return fmt.Errorf("failed to write resolved configuration to %s: %w", opts.extprocConfigPath, err)
	}

	metricsPort := c.AdminPort
	if metricsPort == 0 {
		metricsPort = defaultAdminPort
	}
	healthPort := metricsPort + 1

	args := []string{
		"-configPath", opts.extprocConfigPath,
		"-extProcAddr", "unix://" + opts.extprocUDSPath,
		"-metricsPort", strconv.Itoa(metricsPort),
		"-healthPort", strconv.Itoa(healthPort),
		"-logLevel", level.String(),
	}

	logger.Info("starting AI Gateway", "runID", opts.runID, "configPath", opts.extprocConfigPath, "adminPort", metricsPort)

	if err := opts.extProcLauncher(ctx, args, stderr); err != nil {
		return fmt.Errorf("%w: %w", errExtProcRun, err)
	}
	return nil
}
