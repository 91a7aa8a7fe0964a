// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewCommandLogger creates a structured logger for CLI command
// operations. When stderr is a terminal, uses slog.TextHandler for
// human-readable output. When stderr is piped or redirected (CI,
// scripts, cron provisioning jobs), uses slog.JSONHandler for
// machine-parseable output. Setting STAGEHAND_DEBUG to any non-empty
// value lowers the level to debug, which includes per-state session
// transitions and per-mount-point detail.
//
// Callers scope the logger with command-specific context via With():
//
//	logger := cli.NewCommandLogger().With("command", "bootstrap")
func NewCommandLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("STAGEHAND_DEBUG") != "" {
		level = slog.LevelDebug
	}
	options := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}
