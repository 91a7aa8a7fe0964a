// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package mount

import (
	"golang.org/x/sys/unix"
)

// Kind selects how a [Point] is established.
type Kind int

const (
	// KindMount mounts a fresh filesystem instance (proc, devpts,
	// tmpfs).
	KindMount Kind = iota

	// KindRBind recursively bind-mounts a host path and makes the
	// result a recursive slave, so mount events inside the chroot
	// never propagate back to the host.
	KindRBind

	// KindCopy copies a host file into the tree. Used for
	// resolv.conf; refreshed on every setup, never torn down.
	KindCopy
)

func (k Kind) String() string {
	switch k {
	case KindMount:
		return "mount"
	case KindRBind:
		return "rbind"
	case KindCopy:
		return "copy"
	default:
		return "unknown"
	}
}

// Point describes one mount (or file copy) inside the target tree.
type Point struct {
	// Target is the path relative to the tree root.
	Target string

	// Source is the device, host path, or filesystem source.
	Source string

	// FSType is the filesystem type for KindMount.
	FSType string

	// Flags are mount(2) flags for KindMount.
	Flags uintptr

	// Data is the filesystem-specific option string for KindMount.
	Data string

	// Kind selects mount, recursive bind, or file copy.
	Kind Kind
}

// DefaultPoints returns the canonical session mount table, in setup
// order. Teardown runs it in reverse. The devpts entry looks redundant
// next to the recursive /dev bind; it exists for hosts where /dev/pts
// is not itself a mount, and the idempotency probe skips it everywhere
// else.
func DefaultPoints() []Point {
	return []Point{
		{Target: "proc", Source: "proc", FSType: "proc",
			Flags: unix.MS_NOSUID | unix.MS_NOEXEC | unix.MS_NODEV, Kind: KindMount},
		{Target: "sys", Source: "/sys", Kind: KindRBind},
		{Target: "dev", Source: "/dev", Kind: KindRBind},
		{Target: "dev/pts", Source: "devpts", FSType: "devpts",
			Flags: unix.MS_NOSUID | unix.MS_NOEXEC, Data: "gid=5,mode=620", Kind: KindMount},
		{Target: "tmp", Source: "tmpfs", FSType: "tmpfs",
			Flags: unix.MS_NOSUID | unix.MS_NODEV, Data: "mode=1777", Kind: KindMount},
		{Target: "etc/resolv.conf", Source: "/etc/resolv.conf", Kind: KindCopy},
	}
}
