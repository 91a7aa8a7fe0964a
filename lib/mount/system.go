// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package mount

import (
	"errors"
	"os"
	"strings"

	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"
)

// Binder performs mount and unmount syscalls.
type Binder interface {
	Mount(source, target, fstype string, flags uintptr, data string) error
	Unmount(target string, flags int) error
}

// Prober answers questions about current kernel mount state.
type Prober interface {
	// Mounted reports whether path is a mount point. A path that
	// does not exist is not mounted.
	Mounted(path string) (bool, error)

	// MountsUnder returns every mount point at or below prefix.
	MountsUnder(prefix string) ([]string, error)
}

// SystemBinder is the real [Binder].
type SystemBinder struct{}

func (SystemBinder) Mount(source, target, fstype string, flags uintptr, data string) error {
	return unix.Mount(source, target, fstype, flags, data)
}

func (SystemBinder) Unmount(target string, flags int) error {
	return unix.Unmount(target, flags)
}

// SystemProber is the real [Prober], backed by /proc/self/mountinfo.
type SystemProber struct{}

func (SystemProber) Mounted(path string) (bool, error) {
	mounted, err := mountinfo.Mounted(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return mounted, nil
}

func (SystemProber) MountsUnder(prefix string) ([]string, error) {
	infos, err := mountinfo.GetMounts(mountinfo.PrefixFilter(prefix))
	if err != nil {
		return nil, err
	}
	// PrefixFilter is a plain string prefix: asking for /mnt/tree
	// would also match /mnt/tree-old. Keep only the path itself and
	// real descendants.
	var points []string
	for _, info := range infos {
		if info.Mountpoint == prefix || strings.HasPrefix(info.Mountpoint, prefix+"/") {
			points = append(points, info.Mountpoint)
		}
	}
	return points, nil
}
