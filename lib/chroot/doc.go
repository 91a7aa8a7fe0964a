// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

// Package chroot runs commands inside a bootstrapped target tree.
//
// [Executor.Run] executes a shell script string through the tree's
// shell with /etc/profile sourced, the way portage invocations expect
// their environment. [Executor.Shell] starts an interactive login
// shell. Both operate via chroot(2), so the caller must be root and
// the tree's mount table should already be established.
//
// The child environment is built from scratch rather than inherited:
// the host environment of a root process routinely carries secrets and
// host-specific paths that have no business inside the tree. PATH,
// HOME, SHELL, TERM, proxy variables, and explicitly configured extras
// are all that cross the boundary.
package chroot
