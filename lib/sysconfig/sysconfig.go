// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package sysconfig

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/stagehand-project/stagehand/lib/chroot"
)

// netNameRulesRel is the udev rule masked by DisablePredictableNames.
const netNameRulesRel = "etc/udev/rules.d/80-net-name-slot.rules"

// Runner runs commands inside the target tree. *chroot.Executor
// implements it.
type Runner interface {
	Run(ctx context.Context, script string) error
	Tree() string
}

var _ Runner = (*chroot.Executor)(nil)

// Config configures a [Configurator].
type Config struct {
	// Runner executes in-tree commands. Required.
	Runner Runner

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// Configurator applies system settings to one target tree.
type Configurator struct {
	runner Runner
	logger *slog.Logger
}

// New builds a Configurator, applying defaults for unset fields.
func New(config Config) (*Configurator, error) {
	if config.Runner == nil {
		return nil, fmt.Errorf("sysconfig: Config.Runner is required")
	}
	c := &Configurator{runner: config.Runner, logger: config.Logger}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// SetTimezone writes /etc/timezone inside the tree and reconfigures
// the timezone data package to install the matching /etc/localtime.
func (c *Configurator) SetTimezone(ctx context.Context, timezone string) error {
	if timezone == "" {
		return fmt.Errorf("sysconfig: timezone is required")
	}
	path := filepath.Join(c.runner.Tree(), "etc", "timezone")
	if err := os.WriteFile(path, []byte(timezone+"\n"), 0o644); err != nil {
		return fmt.Errorf("sysconfig: writing %s: %w", path, err)
	}
	c.logger.Info("timezone set", "timezone", timezone)
	if err := c.runner.Run(ctx, "emerge --config sys-libs/timezone-data"); err != nil {
		return fmt.Errorf("sysconfig: applying timezone: %w", err)
	}
	return nil
}

// GenerateLocales enables the given locales in the tree's locale.gen
// and runs locale-gen. Locales already listed (commented or not) are
// uncommented in place; others are appended with the charset recorded
// in the tree's SUPPORTED list. A locale the tree does not support at
// all is an error, found before anything is modified.
func (c *Configurator) GenerateLocales(ctx context.Context, locales []string) error {
	if len(locales) == 0 {
		return fmt.Errorf("sysconfig: no locales given")
	}

	path := filepath.Join(c.runner.Tree(), "etc", "locale.gen")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("sysconfig: reading %s: %w", path, err)
	}

	remaining := make(map[string]bool, len(locales))
	for _, locale := range locales {
		remaining[strings.ToLower(locale)] = true
	}

	var out strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := scanner.Text()
		name, charset, ok := parseLocaleLine(line)
		if ok && remaining[strings.ToLower(name)] {
			fmt.Fprintf(&out, "%s %s\n", name, charset)
			delete(remaining, strings.ToLower(name))
			continue
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}

	// Locales the file has never heard of come from the SUPPORTED
	// list, keeping the requested order.
	for _, locale := range locales {
		if !remaining[strings.ToLower(locale)] {
			continue
		}
		line, err := c.supportedLocaleLine(locale)
		if err != nil {
			return err
		}
		out.WriteString(line)
		out.WriteByte('\n')
		delete(remaining, strings.ToLower(locale))
	}

	if err := os.WriteFile(path, []byte(out.String()), 0o644); err != nil {
		return fmt.Errorf("sysconfig: writing %s: %w", path, err)
	}
	c.logger.Info("locales enabled", "locales", locales)
	if err := c.runner.Run(ctx, "locale-gen"); err != nil {
		return fmt.Errorf("sysconfig: generating locales: %w", err)
	}
	return nil
}

// SetLocale selects the system locale.
func (c *Configurator) SetLocale(ctx context.Context, locale string) error {
	if locale == "" {
		return fmt.Errorf("sysconfig: locale is required")
	}
	c.logger.Info("selecting locale", "locale", locale)
	if err := c.runner.Run(ctx, chroot.Quote("eselect", "locale", "set", locale)); err != nil {
		return fmt.Errorf("sysconfig: selecting locale: %w", err)
	}
	return nil
}

// DisablePredictableNames masks the udev net-name-slot rules so
// interfaces keep kernel names like eth0. Calling it on a tree where
// the mask is already in place is fine.
func (c *Configurator) DisablePredictableNames() error {
	path := filepath.Join(c.runner.Tree(), filepath.FromSlash(netNameRulesRel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("sysconfig: creating %s: %w", filepath.Dir(path), err)
	}
	err := os.Symlink("/dev/null", path)
	if err == nil {
		c.logger.Info("predictable network names disabled")
		return nil
	}
	if os.IsExist(err) {
		if target, readErr := os.Readlink(path); readErr == nil && target == "/dev/null" {
			return nil
		}
		return fmt.Errorf("sysconfig: %s exists and is not the /dev/null mask", path)
	}
	return fmt.Errorf("sysconfig: masking net-name rules: %w", err)
}

// parseLocaleLine splits a locale.gen entry into name and charset,
// looking through a leading comment marker. Lines that are not
// two-field entries report ok=false.
func parseLocaleLine(line string) (name, charset string, ok bool) {
	trimmed := strings.TrimLeft(strings.TrimSpace(line), "#")
	fields := strings.Fields(trimmed)
	if len(fields) != 2 {
		return "", "", false
	}
	return fields[0], fields[1], true
}

// supportedLocaleLine finds the locale's entry in the tree's
// usr/share/i18n/SUPPORTED list.
func (c *Configurator) supportedLocaleLine(locale string) (string, error) {
	path := filepath.Join(c.runner.Tree(), "usr", "share", "i18n", "SUPPORTED")
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("sysconfig: reading SUPPORTED list: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) >= 1 && strings.EqualFold(fields[0], locale) {
			return strings.TrimSpace(line), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("sysconfig: reading SUPPORTED list: %w", err)
	}
	return "", fmt.Errorf("sysconfig: locale %q is not in the tree's SUPPORTED list", locale)
}
