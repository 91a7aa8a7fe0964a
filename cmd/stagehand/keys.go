// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/stagehand-project/stagehand/cmd/stagehand/cli"
	"github.com/stagehand-project/stagehand/lib/keyring"
)

func keysCommand() *cli.Command {
	return &cli.Command{
		Name:    "keys",
		Summary: "Inspect and refresh the trust keyring",
		Description: `Manage the trust anchor bundle used to verify release signatures.

The bundle declares which keys may sign digest manifests and when
each is valid. Key material is fetched separately with refresh, so
an expired or missing key never widens trust on its own.`,
		Subcommands: []*cli.Command{
			keysListCommand(),
			keysRefreshCommand(),
		},
	}
}

func keysListCommand() *cli.Command {
	flags := &commonFlags{}
	return &cli.Command{
		Name:    "list",
		Summary: "List declared trust anchors",
		Usage:   "stagehand keys list [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			trusted, err := loadKeyring(cfg, logger)
			if err != nil {
				return err
			}

			now := time.Now()
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "NAME\tFINGERPRINT\tSTATE\tVALID UNTIL")
			for _, key := range trusted.Keys() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					key.Name, key.Fingerprint, keyState(key, now),
					key.NotAfter.UTC().Format("2006-01-02"))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if url := trusted.RefreshURL(); url != "" {
				fmt.Printf("\nrefresh url: %s\n", url)
			}
			if refreshed := trusted.RefreshedAt(); !refreshed.IsZero() {
				fmt.Printf("last refreshed: %s\n", refreshed.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
}

// keyState summarizes one trust anchor: material present or not, and
// where now falls in its declared validity window.
func keyState(key keyring.KeyInfo, now time.Time) string {
	switch {
	case !key.Materialized:
		return "declared (no material)"
	case !key.NotBefore.IsZero() && now.Before(key.NotBefore):
		return "not yet valid"
	case !key.NotAfter.IsZero() && now.After(key.NotAfter):
		return "expired"
	default:
		return "valid"
	}
}

func keysRefreshCommand() *cli.Command {
	flags := &commonFlags{}
	return &cli.Command{
		Name:    "refresh",
		Summary: "Fetch key material for declared anchors",
		Description: `Download the published keyring from the bundle's refresh URL and
materialize every declared entry found in it. Only fingerprints the
bundle already declares are accepted; the download can never add
signers. The updated bundle is written next to the tree (or to the
configured bundle path) so later runs pick it up.`,
		Usage: "stagehand keys refresh [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("refresh", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			trusted, err := loadKeyring(cfg, logger)
			if err != nil {
				return err
			}

			count, err := trusted.Refresh(ctx)
			if err != nil {
				return err
			}

			dest := cfg.Keyring.Bundle
			if dest == "" {
				if err := cfg.EnsurePaths(); err != nil {
					return err
				}
				dest = filepath.Join(cfg.Paths.Root, savedBundleName)
			}
			if err := trusted.Save(dest); err != nil {
				return err
			}
			fmt.Printf("refreshed %d keys into %s\n", count, dest)
			return nil
		},
	}
}
