// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	"github.com/stagehand-project/stagehand/cmd/stagehand/cli"
	"github.com/stagehand-project/stagehand/lib/chroot"
	"github.com/stagehand-project/stagehand/lib/config"
	"github.com/stagehand-project/stagehand/lib/mount"
	"github.com/stagehand-project/stagehand/lib/session"
)

// commonFlags carries the flags shared by every subcommand that loads
// configuration.
type commonFlags struct {
	configPath string
}

func (f *commonFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.configPath, "config", "",
		"configuration file (default: $STAGEHAND_CONFIG, else built-in defaults)")
}

// loadConfig resolves configuration with --config taking precedence
// over STAGEHAND_CONFIG. Load and validation failures are usage
// errors: the invocation cannot proceed and nothing was attempted.
func (f *commonFlags) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if f.configPath != "" {
		cfg, err = config.LoadFile(f.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, &cli.UsageError{Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &cli.UsageError{Err: fmt.Errorf("config: %w", err)}
	}
	return cfg, nil
}

// runtime bundles the executor, mount manager, and session controller
// for one target tree.
type runtime struct {
	executor   *chroot.Executor
	mounts     *mount.Manager
	controller *session.Controller
}

func newRuntime(cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	executor, err := chroot.New(chroot.Config{
		Tree:   cfg.Paths.Tree,
		Shell:  cfg.Session.Shell,
		Env:    cfg.Session.Env,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	mounts, err := mount.New(mount.Config{Tree: cfg.Paths.Tree, Logger: logger})
	if err != nil {
		return nil, err
	}
	controller, err := session.New(session.Config{
		Mounts: mounts,
		Runner: executor,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return &runtime{executor: executor, mounts: mounts, controller: controller}, nil
}

func shellCommand() *cli.Command {
	flags := &commonFlags{}
	return &cli.Command{
		Name:    "shell",
		Summary: "Open an interactive shell inside the tree",
		Description: `Open an interactive login shell inside the target tree.

The session mounts are established before the shell starts and torn
down after it exits. The shell's exit status becomes stagehand's.`,
		Usage: "stagehand shell [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("shell", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			rt, err := newRuntime(cfg, logger)
			if err != nil {
				return err
			}

			// The terminal delivers SIGINT to the whole foreground
			// group. For the session's duration it belongs to the
			// in-tree shell; reacting here as well would tear the
			// session down on the first Ctrl-C of an in-shell command.
			signal.Ignore(os.Interrupt)
			defer signal.Reset(os.Interrupt)

			return rt.controller.Shell(ctx)
		},
	}
}

func execCommand() *cli.Command {
	flags := &commonFlags{}
	return &cli.Command{
		Name:    "exec",
		Summary: "Run a one-shot command inside the tree",
		Description: `Run a single command inside the target tree.

The command line after -- is quoted and executed through the in-tree
shell with the session environment. The session mounts are
established first and torn down afterwards; the command's exit
status becomes stagehand's.`,
		Usage: "stagehand exec [flags] -- <command> [args...]",
		Examples: []cli.Example{
			{
				Description: "Show the emerge configuration",
				Command:     "stagehand exec -- emerge --info",
			},
			{
				Description: "Arguments are quoted across the chroot boundary",
				Command:     "stagehand exec -- ls -la /var/db/repos",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("exec", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) == 0 {
				return cli.Usagef("exec: no command given (usage: stagehand exec [flags] -- <command> [args...])")
			}
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			rt, err := newRuntime(cfg, logger)
			if err != nil {
				return err
			}
			return rt.controller.Exec(ctx, args)
		},
	}
}
