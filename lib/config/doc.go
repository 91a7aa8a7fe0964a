// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the stagehand
// binary.
//
// Configuration is loaded from a single file specified by either the
// STAGEHAND_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery, and
// no automatic file search. Running without a config file is fine too:
// [Default] alone describes a working single-tree setup under
// ~/.cache/stagehand.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${STAGEHAND_ROOT}, and ${VAR:-default} patterns are
// expanded. No other environment variables override config values; the
// file is the single source of truth.
//
// Key exports:
//
//   - [Config] -- master struct with Paths, Mirror, Keyring, Session, Portage
//   - [Default] -- returns a Config with working defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other stagehand packages.
package config
