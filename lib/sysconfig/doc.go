// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

// Package sysconfig applies system-level settings to the target tree:
// timezone, generated locales, the selected system locale, and the
// predictable-network-names opt-out.
//
// Settings split into two kinds the same way the configure subcommand
// applies them: direct edits of files under the tree (locale.gen,
// /etc/timezone, udev rules) and commands that must run inside the
// tree (locale-gen, eselect, emerge --config). The latter go through a
// [Runner], so the editing logic tests without a prepared chroot.
package sysconfig
