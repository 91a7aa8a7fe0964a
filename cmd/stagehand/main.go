// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/stagehand-project/stagehand/cmd/stagehand/cli"
	"github.com/stagehand-project/stagehand/lib/chroot"
	"github.com/stagehand-project/stagehand/lib/process"
)

func main() {
	if err := run(); err != nil {
		// In-tree commands propagate their exit status unchanged, and
		// their output already went to the inherited stdio. Don't
		// print a redundant "error:" line for those.
		if code, ok := chroot.IsExitError(err); ok {
			os.Exit(code)
		}
		var usageErr *cli.UsageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(process.CodeUsage)
		}
		process.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCommand().Execute(ctx, os.Args[1:], cli.NewCommandLogger())
}
