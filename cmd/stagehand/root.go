// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stagehand-project/stagehand/cmd/stagehand/cli"
	"github.com/stagehand-project/stagehand/lib/version"
)

// rootCommand builds the complete stagehand command tree.
func rootCommand() *cli.Command {
	return &cli.Command{
		Name: "stagehand",
		Description: `Stagehand: verified Gentoo stage3 chroot environments.

Download a stage3 release, verify its published digests against a
clearsigned manifest, extract it into a target tree, and run
commands inside the tree with the session mounts (/proc, /sys,
/dev, ...) established on entry and torn down on exit.`,
		Subcommands: []*cli.Command{
			bootstrapCommand(),
			shellCommand(),
			execCommand(),
			syncCommand(),
			installCommand(),
			upgradeCommand(),
			configureCommand(),
			statusCommand(),
			keysCommand(),
			cleanCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, args []string, _ *slog.Logger) error {
					fmt.Printf("stagehand %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Build the default tree from the latest verified release",
				Command:     "stagehand bootstrap",
			},
			{
				Description: "Open a shell inside the tree",
				Command:     "stagehand shell",
			},
			{
				Description: "Sync the portage tree, then install a package",
				Command:     "stagehand sync && stagehand install app-misc/tmux",
			},
			{
				Description: "Run a one-shot command inside the tree",
				Command:     "stagehand exec -- emerge --info",
			},
			{
				Description: "Set timezone and locales inside the tree",
				Command:     "stagehand configure --timezone Europe/London --locale en_US.utf8",
			},
			{
				Description: "Show tree provenance, staged downloads, and mount state",
				Command:     "stagehand status",
			},
		},
	}
}
