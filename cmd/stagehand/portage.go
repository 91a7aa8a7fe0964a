// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/stagehand-project/stagehand/cmd/stagehand/cli"
	"github.com/stagehand-project/stagehand/lib/portage"
)

// portageSession builds the runtime and portage manager for the
// configured tree, then runs fn inside a single session.
func portageSession(ctx context.Context, flags *commonFlags, kind string, logger *slog.Logger,
	fn func(context.Context, *portage.Manager) error) error {
	cfg, err := flags.loadConfig()
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	manager, err := portage.New(portage.Config{Runner: rt.executor, Logger: logger})
	if err != nil {
		return err
	}
	return rt.controller.Do(ctx, kind, func(ctx context.Context) error {
		return fn(ctx, manager)
	})
}

func syncCommand() *cli.Command {
	flags := &commonFlags{}
	return &cli.Command{
		Name:    "sync",
		Summary: "Bring the portage tree up to date",
		Description: `Sync the portage repository inside the target tree.

A tree that has never been populated gets the full webrsync snapshot
first. After that, a repository timestamp older than 24 hours
triggers emerge --sync; a fresh one makes this a no-op.`,
		Usage: "stagehand sync [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("sync", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			return portageSession(ctx, flags, "sync", logger,
				func(ctx context.Context, manager *portage.Manager) error {
					return manager.Sync(ctx)
				})
		},
	}
}

func installCommand() *cli.Command {
	flags := &commonFlags{}
	return &cli.Command{
		Name:    "install",
		Summary: "Install packages inside the tree",
		Description: `Emerge the given packages inside the target tree, writing
autounmask changes where needed.`,
		Usage: "stagehand install [flags] <package>...",
		Examples: []cli.Example{
			{
				Description: "Install a package by atom",
				Command:     "stagehand install app-misc/tmux",
			},
			{
				Description: "Install several packages in one session",
				Command:     "stagehand install app-editors/vim net-misc/curl",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("install", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) == 0 {
				return cli.Usagef("install: no packages given (usage: stagehand install <package>...)")
			}
			return portageSession(ctx, flags, "install", logger,
				func(ctx context.Context, manager *portage.Manager) error {
					return manager.Install(ctx, args)
				})
		},
	}
}

func upgradeCommand() *cli.Command {
	flags := &commonFlags{}
	var cleanDist bool
	return &cli.Command{
		Name:    "upgrade",
		Summary: "Upgrade the tree's world set",
		Description: `Rebuild the @world set inside the target tree with changed-USE and
deep dependency handling (emerge -NuD @world).`,
		Usage: "stagehand upgrade [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("upgrade", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.BoolVar(&cleanDist, "clean-dist", false,
				"remove downloaded distfiles after a successful upgrade")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			return portageSession(ctx, flags, "upgrade", logger,
				func(ctx context.Context, manager *portage.Manager) error {
					if err := manager.Upgrade(ctx); err != nil {
						return err
					}
					if cleanDist {
						return manager.CleanDist(ctx)
					}
					return nil
				})
		},
	}
}
