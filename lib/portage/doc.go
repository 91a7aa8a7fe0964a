// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

// Package portage drives the target tree's package manager.
//
// The manager composes emerge, portageq, and eselect invocations and
// hands them to a [Runner] (in production a *chroot.Executor), so the
// decision logic stays testable without a prepared tree. Sync
// freshness is decided host-side from the repository's timestamp.chk
// against a 24 hour window; a tree with no timestamp at all gets the
// full snapshot via emerge-webrsync before the incremental sync.
//
// InstallBaseFiles seeds a just-extracted stage3 with the embedded
// portage file set: make.conf, the repos.conf entries for the gentoo
// and local repositories, the local overlay skeleton, and an empty
// world file.
package portage
