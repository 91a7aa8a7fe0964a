// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/stagehand-project/stagehand/cmd/stagehand/cli"
)

func statusCommand() *cli.Command {
	flags := &commonFlags{}
	return &cli.Command{
		Name:    "status",
		Summary: "Show tree provenance and mount state",
		Description: `Report the target tree's bootstrap provenance, any staged artifact,
and the bound state of every mount point. Read-only: nothing is
downloaded, mounted, or modified.`,
		Usage: "stagehand status [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
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
			status, err := pipeline.Status()
			if err != nil {
				return err
			}

			fmt.Printf("tree: %s\n", status.Tree)
			switch {
			case status.Marker != nil:
				marker := status.Marker
				fmt.Printf("  artifact:  %s\n", marker.Artifact)
				fmt.Printf("  release:   %s\n", marker.ReleasePath)
				fmt.Printf("  digest:    %s:%s\n", marker.Algorithm, marker.Digest)
				fmt.Printf("  signer:    %s\n", marker.Signer)
				fmt.Printf("  extracted: %s (stagehand %s, %d files)\n",
					marker.ExtractedAt.UTC().Format(time.RFC3339), marker.Version, marker.Files)
			case status.Exists && !status.Empty:
				fmt.Println("  not bootstrapped (directory is not empty and carries no marker)")
			default:
				fmt.Println("  not bootstrapped")
			}

			if status.Artifact != "" {
				fmt.Printf("\nstaged artifact: %s\n", status.Artifact)
			}

			rt, err := newRuntime(cfg, logger)
			if err != nil {
				return err
			}
			points, err := rt.mounts.Status()
			if err != nil {
				return err
			}
			fmt.Println("\nmounts:")
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "  TARGET\tKIND\tSTATE")
			for _, point := range points {
				state := "unbound"
				if point.Bound {
					state = "bound"
				}
				fmt.Fprintf(tw, "  %s\t%s\t%s\n", point.Target, point.Point.Kind, state)
			}
			return tw.Flush()
		},
	}
}
