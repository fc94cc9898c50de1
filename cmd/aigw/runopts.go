// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/agentgateway/agentgateway-go/internal/xdg"
)

// runOpts are the options for the run command.
type runOpts struct {
	xdg.Directories
	// runID is the unique identifier for this run.
	runID string
	// extProcLauncher is the function used to launch the external processor.
	extProcLauncher func(ctx context.Context, args []string, w io.Writer) error

	// Computed paths derived from Directories and runID.
	// configPath is the resolved aigw config file path. Either --path flag, {ConfigHome}/config.yaml if exists, or empty.
	// Empty means auto-generate from OPENAI_API_KEY/AZURE_OPENAI_API_KEY/ANTHROPIC_API_KEY environment variables.
	configPath string
	// logPath is {StateHome}/runs/{runID}/aigw.log
	// Contains: aigw debug/info/error logs.
	logPath string
	// extprocConfigPath is {StateHome}/runs/{runID}/extproc-config.yaml
	// Contains: the resolved filterapi.Config YAML served to the external processor.
	extprocConfigPath string
	// extprocUDSPath is {RuntimeDir}/{runID}/uds.sock, the unix domain socket the
	// external processor listens on.
	extprocUDSPath string
}

// newRunOpts creates runOpts with all paths computed and creates the directories
// that aigw writes to directly. Note: configPath may be empty (will auto-generate
// from env vars).
func newRunOpts(dirs *xdg.Directories, runID, configPath string, extProcLauncher func(context.Context, []string, io.Writer) error) (*runOpts, error) {
	opts := &runOpts{
		Directories:     *dirs,
		runID:           runID,
		configPath:      configPath,
		extProcLauncher: extProcLauncher,
	}

	runDir := filepath.Join(dirs.StateHome, "runs", runID)
	opts.logPath = filepath.Join(runDir, "aigw.log")
	opts.extprocConfigPath = filepath.Join(runDir, "extproc-config.yaml")
	opts.extprocUDSPath = filepath.Join(dirs.RuntimeDir, runID, "uds.sock")

	// runDir: for the log file and the resolved extproc config (0o750 per XDG spec for StateHome).
	if err := os.MkdirAll(runDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create run directory %s: %w", runDir, err)
	}

	// RuntimeDir/{runID}: for the UDS socket (0o700 per XDG spec for RuntimeDir).
	// Remove the socket file if it exists to ensure a clean state.
	if err := os.MkdirAll(filepath.Dir(opts.extprocUDSPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create runtime directory %s: %w", filepath.Dir(opts.extprocUDSPath), err)
	}
	_ = os.Remove(opts.extprocUDSPath)

	return opts, nil
}
