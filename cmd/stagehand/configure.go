// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/stagehand-project/stagehand/cmd/stagehand/cli"
	"github.com/stagehand-project/stagehand/lib/portage"
	"github.com/stagehand-project/stagehand/lib/sysconfig"
)

func configureCommand() *cli.Command {
	flags := &commonFlags{}
	var (
		profile        string
		locales        []string
		locale         string
		timezone       string
		netSimpleNames bool
	)
	return &cli.Command{
		Name:    "configure",
		Summary: "Apply system settings to the tree",
		Description: `Apply profile, locale, timezone, and network naming settings to the
target tree. Settings come from the portage section of the
configuration file; flags override it for this run. Settings left
empty are skipped.`,
		Usage: "stagehand configure [flags]",
		Examples: []cli.Example{
			{
				Description: "Set the timezone and system locale",
				Command:     "stagehand configure --timezone Europe/London --locale en_US.utf8",
			},
			{
				Description: "Select an eselect profile",
				Command:     "stagehand configure --profile default/linux/amd64/23.0",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("configure", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.StringVar(&profile, "profile", "", "eselect profile to select")
			flagSet.StringSliceVar(&locales, "locales", nil, "locales to generate (e.g. en_US.UTF-8)")
			flagSet.StringVar(&locale, "locale", "", "system locale to select via eselect")
			flagSet.StringVar(&timezone, "timezone", "", "timezone to install (e.g. Europe/London)")
			flagSet.BoolVar(&netSimpleNames, "net-simple-names", false,
				"disable predictable network interface names")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if profile != "" {
				cfg.Portage.Profile = profile
			}
			if len(locales) > 0 {
				cfg.Portage.Locales = locales
			}
			if locale != "" {
				cfg.Portage.Locale = locale
			}
			if timezone != "" {
				cfg.Portage.Timezone = timezone
			}
			if netSimpleNames {
				cfg.Portage.NetSimpleNames = true
			}

			settings := cfg.Portage
			if settings.Profile == "" && len(settings.Locales) == 0 && settings.Locale == "" &&
				settings.Timezone == "" && !settings.NetSimpleNames {
				return cli.Usagef("configure: nothing to apply (set flags or the portage section of the config file)")
			}

			rt, err := newRuntime(cfg, logger)
			if err != nil {
				return err
			}
			manager, err := portage.New(portage.Config{Runner: rt.executor, Logger: logger})
			if err != nil {
				return err
			}
			system, err := sysconfig.New(sysconfig.Config{Runner: rt.executor, Logger: logger})
			if err != nil {
				return err
			}

			return rt.controller.Do(ctx, "configure", func(ctx context.Context) error {
				if settings.Profile != "" {
					if err := manager.SelectProfile(ctx, settings.Profile); err != nil {
						return err
					}
				}
				if len(settings.Locales) > 0 {
					if err := system.GenerateLocales(ctx, settings.Locales); err != nil {
						return err
					}
				}
				if settings.Locale != "" {
					if err := system.SetLocale(ctx, settings.Locale); err != nil {
						return err
					}
				}
				if settings.Timezone != "" {
					if err := system.SetTimezone(ctx, settings.Timezone); err != nil {
						return err
					}
				}
				if settings.NetSimpleNames {
					if err := system.DisablePredictableNames(); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}
