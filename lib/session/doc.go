// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

// Package session sequences one chroot session over a bootstrapped
// target tree: verify provenance, establish the mount table, run a
// command or interactive shell, tear the mount table down.
//
// The [Controller] is the only place mount state changes from. It
// walks the states Idle, Preparing, Mounted, Running, Unmounting, and
// guarantees the one property everything else depends on: every entry
// that reaches Mounted reaches Unmounting before the process exits,
// whether the command succeeded, failed, or was interrupted. Teardown
// is deferred the moment the mount table is up, so panics and signal
// cancellation unwind the same way a normal return does.
//
// Error precedence follows the run: a failure while mounting is
// reported over any secondary teardown failure, a command failure is
// reported over an incomplete teardown (which is logged for manual
// cleanup), and a teardown failure after an otherwise clean run is the
// session's result, because a leaked mount is a failure even when the
// command inside succeeded.
package session
