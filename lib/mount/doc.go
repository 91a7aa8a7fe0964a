// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

// Package mount manages the kernel filesystems a chroot session needs:
// procfs, recursive binds of /sys and /dev, a devpts instance, a
// private /tmp, and a copy of the host's resolv.conf.
//
// The package never trusts its own bookkeeping about what is mounted.
// Mounts outlive processes: a previous session may have crashed after
// binding /proc, or an operator may have unmounted something by hand.
// Every operation re-probes /proc/self/mountinfo first, so
// [Manager.BindAll] is idempotent (already-bound targets are skipped,
// which also means the devpts instance that arrives inside a recursive
// /dev bind is not mounted twice) and [Manager.UnbindAll] unmounts
// exactly what the kernel says is there, in reverse setup order,
// deepest mounts first within a recursive bind.
//
// A failed BindAll unwinds the binds it created in that call, and only
// those: pre-existing mounts it skipped are someone else's to tear
// down.
//
// Syscalls and probing sit behind the [Binder] and [Prober]
// interfaces. The real implementations use unix.Mount/unix.Unmount and
// the mountinfo parser; tests substitute fakes.
package mount
