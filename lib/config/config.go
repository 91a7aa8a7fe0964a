// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for stagehand.
type Config struct {
	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Mirror configures release acquisition.
	Mirror MirrorConfig `yaml:"mirror"`

	// Keyring configures manifest signature trust.
	Keyring KeyringConfig `yaml:"keyring"`

	// Session configures commands run inside the tree.
	Session SessionConfig `yaml:"session"`

	// Portage configures the in-tree package manager and the
	// configure subcommand's targets.
	Portage PortageConfig `yaml:"portage"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for stagehand data.
	Root string `yaml:"root"`

	// Work is the staging directory for downloads: artifacts, signed
	// digest manifests, partial transfers. Created mode 0700.
	Work string `yaml:"work"`

	// Tree is the chroot target directory.
	Tree string `yaml:"tree"`
}

// MirrorConfig configures release acquisition.
type MirrorConfig struct {
	// BaseURL is the autobuilds directory of the mirror.
	// Default: https://distfiles.gentoo.org/releases/amd64/autobuilds
	BaseURL string `yaml:"base_url"`

	// Channel selects the release pointer file; channel
	// "stage3-amd64-openrc" reads "latest-stage3-amd64-openrc.txt".
	Channel string `yaml:"channel"`

	// Release optionally pins a mirror-relative artifact path such as
	// "20260801T164822Z/stage3-amd64-openrc-20260801T164822Z.tar.xz",
	// bypassing pointer resolution.
	Release string `yaml:"release"`
}

// KeyringConfig configures manifest signature trust.
type KeyringConfig struct {
	// Bundle is the path of a JSONC trust bundle. Empty means the
	// bundle compiled into the binary.
	Bundle string `yaml:"bundle"`
}

// SessionConfig configures commands run inside the tree.
type SessionConfig struct {
	// Shell is the in-tree shell. Default: /bin/bash
	Shell string `yaml:"shell"`

	// Env adds environment variables to every in-tree command, on top
	// of the built-in minimal set. Typical entries: MAKEOPTS, FEATURES.
	Env map[string]string `yaml:"env"`
}

// PortageConfig configures the in-tree package manager and the targets
// of the configure subcommand. Empty fields are skipped by configure.
type PortageConfig struct {
	// Profile is the eselect profile to select, for example
	// "default/linux/amd64/23.0".
	Profile string `yaml:"profile"`

	// Locales are generated into /etc/locale.gen, for example
	// "en_US.UTF-8".
	Locales []string `yaml:"locales"`

	// Locale is the system locale selected via eselect, for example
	// "en_US.utf8".
	Locale string `yaml:"locale"`

	// Timezone is written to /etc/timezone, for example
	// "Europe/London".
	Timezone string `yaml:"timezone"`

	// NetSimpleNames disables predictable network interface names by
	// masking the udev net-name-slot rules.
	NetSimpleNames bool `yaml:"net_simple_names"`
}

// Default returns the default configuration: a complete single-tree
// setup under ~/.cache/stagehand tracking the current upstream amd64
// openrc channel.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "stagehand")

	return &Config{
		Paths: PathsConfig{
			Root: defaultRoot,
			Work: filepath.Join(defaultRoot, "work"),
			Tree: filepath.Join(defaultRoot, "gentoo"),
		},
		Mirror: MirrorConfig{
			BaseURL: "https://distfiles.gentoo.org/releases/amd64/autobuilds",
			Channel: "stage3-amd64-openrc",
		},
		Session: SessionConfig{
			Shell: "/bin/bash",
		},
	}
}

// Load loads configuration from the STAGEHAND_CONFIG environment
// variable, or returns [Default] when it is unset. An unreadable or
// invalid file named by STAGEHAND_CONFIG is always an error; there is
// no silent fallback.
func Load() (*Config, error) {
	configPath := os.Getenv("STAGEHAND_CONFIG")
	if configPath == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merging it
// over [Default].
//
// The config file is the single source of truth. Environment variables
// do not override config values. The only expansion performed is
// ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in path
// fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"STAGEHAND_ROOT": c.Paths.Root,
		"HOME":           os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["STAGEHAND_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Work = expandVars(c.Paths.Work, vars)
	c.Paths.Tree = expandVars(c.Paths.Tree, vars)
	c.Keyring.Bundle = expandVars(c.Keyring.Bundle, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.Work == "" {
		errs = append(errs, fmt.Errorf("paths.work is required"))
	}
	if c.Paths.Tree == "" {
		errs = append(errs, fmt.Errorf("paths.tree is required"))
	} else if !filepath.IsAbs(c.Paths.Tree) {
		errs = append(errs, fmt.Errorf("paths.tree must be absolute, got %q", c.Paths.Tree))
	}

	if c.Mirror.BaseURL == "" {
		errs = append(errs, fmt.Errorf("mirror.base_url is required"))
	}
	if c.Mirror.Channel == "" && c.Mirror.Release == "" {
		errs = append(errs, fmt.Errorf("one of mirror.channel or mirror.release is required"))
	}

	if c.Session.Shell == "" {
		errs = append(errs, fmt.Errorf("session.shell is required"))
	} else if !strings.HasPrefix(c.Session.Shell, "/") {
		errs = append(errs, fmt.Errorf("session.shell must be an absolute in-tree path, got %q", c.Session.Shell))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the configured directories if they don't exist.
// The work directory holds not-yet-verified downloads and is kept
// private to the owner.
func (c *Config) EnsurePaths() error {
	if err := os.MkdirAll(c.Paths.Root, 0o755); err != nil {
		return fmt.Errorf("config: creating %s: %w", c.Paths.Root, err)
	}
	if err := os.MkdirAll(c.Paths.Work, 0o700); err != nil {
		return fmt.Errorf("config: creating %s: %w", c.Paths.Work, err)
	}
	if err := os.MkdirAll(c.Paths.Tree, 0o755); err != nil {
		return fmt.Errorf("config: creating %s: %w", c.Paths.Tree, err)
	}
	return nil
}
