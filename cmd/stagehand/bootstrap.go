// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/stagehand-project/stagehand/cmd/stagehand/cli"
	"github.com/stagehand-project/stagehand/lib/config"
	"github.com/stagehand-project/stagehand/lib/keyring"
	"github.com/stagehand-project/stagehand/lib/mirror"
	"github.com/stagehand-project/stagehand/lib/portage"
	"github.com/stagehand-project/stagehand/lib/stage"
)

// savedBundleName is where "keys refresh" persists a fetched bundle
// when the configuration names no explicit path.
const savedBundleName = "keyring.jsonc"

// bundlePath resolves the trust bundle location: the configured path,
// else a previously refreshed bundle under the root directory, else
// empty for the bundle compiled into the binary.
func bundlePath(cfg *config.Config) string {
	if cfg.Keyring.Bundle != "" {
		return cfg.Keyring.Bundle
	}
	saved := filepath.Join(cfg.Paths.Root, savedBundleName)
	if _, err := os.Stat(saved); err == nil {
		return saved
	}
	return ""
}

func loadKeyring(cfg *config.Config, logger *slog.Logger) (*keyring.Keyring, error) {
	return keyring.New(keyring.Config{
		BundlePath: bundlePath(cfg),
		Logger:     logger,
	})
}

func newPipeline(cfg *config.Config, force bool, logger *slog.Logger) (*stage.Pipeline, error) {
	client, err := mirror.New(mirror.Config{
		BaseURL: cfg.Mirror.BaseURL,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	trusted, err := loadKeyring(cfg, logger)
	if err != nil {
		return nil, err
	}
	return stage.NewPipeline(stage.Config{
		Mirror:  client,
		Keyring: trusted,
		WorkDir: cfg.Paths.Work,
		Tree:    cfg.Paths.Tree,
		Channel: cfg.Mirror.Channel,
		Release: cfg.Mirror.Release,
		Force:   force,
		Logger:  logger,
	})
}

func bootstrapCommand() *cli.Command {
	flags := &commonFlags{}
	var channel, release string
	var force bool
	return &cli.Command{
		Name:    "bootstrap",
		Summary: "Download, verify, and extract a stage3 release",
		Description: `Build the target tree from a stage3 release.

The release is resolved from the mirror's pointer file (or pinned
with --release), its digest manifest is verified against the trust
keyring, the artifact is checked against the published digests, and
only then is it extracted. A tree that already carries an extraction
marker is left alone unless --force is given.

After a fresh extraction the basic portage file set (make.conf,
repos.conf, world) is installed into the tree.`,
		Usage: "stagehand bootstrap [flags]",
		Examples: []cli.Example{
			{
				Description: "Bootstrap from the configured channel",
				Command:     "stagehand bootstrap",
			},
			{
				Description: "Pin an exact release",
				Command:     "stagehand bootstrap --release 20260801T164822Z/stage3-amd64-openrc-20260801T164822Z.tar.xz",
			},
			{
				Description: "Rebuild an existing tree from scratch",
				Command:     "stagehand bootstrap --force",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("bootstrap", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.StringVar(&channel, "channel", "",
				"release channel, e.g. stage3-amd64-openrc (overrides mirror.channel)")
			flagSet.StringVar(&release, "release", "",
				"mirror-relative artifact path, bypassing pointer resolution (overrides mirror.release)")
			flagSet.BoolVar(&force, "force", false,
				"wipe a non-empty target tree and re-bootstrap")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if channel != "" {
				cfg.Mirror.Channel = channel
			}
			if release != "" {
				cfg.Mirror.Release = release
			}
			if err := cfg.EnsurePaths(); err != nil {
				return err
			}

			pipeline, err := newPipeline(cfg, force, logger)
			if err != nil {
				return err
			}
			marker, performed, err := pipeline.Bootstrap(ctx)
			if err != nil {
				return err
			}
			if !performed {
				fmt.Printf("already bootstrapped: %s (extracted %s)\n",
					marker.Artifact, marker.ExtractedAt.Format(time.RFC3339))
				return nil
			}

			// Seeding the portage files runs in-tree commands, so it
			// needs a session. A re-run that found the marker skips
			// this: the operator may have edited make.conf since.
			rt, err := newRuntime(cfg, logger)
			if err != nil {
				return err
			}
			manager, err := portage.New(portage.Config{Runner: rt.executor, Logger: logger})
			if err != nil {
				return err
			}
			if err := rt.controller.Do(ctx, "portage-setup", manager.InstallBaseFiles); err != nil {
				return err
			}

			fmt.Printf("bootstrapped %s into %s\n", marker.Artifact, cfg.Paths.Tree)
			return nil
		},
	}
}

func cleanCommand() *cli.Command {
	flags := &commonFlags{}
	return &cli.Command{
		Name:    "clean",
		Summary: "Remove staged downloads",
		Description: `Remove downloaded artifacts, digest manifests, and partial
transfers from the staging directory. The target tree is never
touched.`,
		Usage: "stagehand clean [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("clean", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			pipeline, err := newPipeline(cfg, false, logger)
			if err != nil {
				return err
			}
			removed, err := pipeline.CleanWorkDir()
			if err != nil {
				return err
			}
			if len(removed) == 0 {
				fmt.Println("staging directory already clean")
				return nil
			}
			for _, name := range removed {
				fmt.Printf("removed %s\n", name)
			}
			return nil
		},
	}
}
