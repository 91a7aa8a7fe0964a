// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

// Stagehand bootstraps verified Gentoo stage3 chroot environments and
// runs sessions inside them. It provides subcommands for building the
// target tree (bootstrap, configure), working inside it (shell, exec,
// sync, install, upgrade), and inspecting state (status, keys, clean,
// version).
package main
