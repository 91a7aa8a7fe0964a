// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package mount

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/unix"
)

// Config configures a [Manager].
type Config struct {
	// Tree is the chroot root the mount table applies to. Required,
	// absolute.
	Tree string

	// Points is the mount table in setup order. Defaults to
	// [DefaultPoints].
	Points []Point

	// Binder defaults to [SystemBinder].
	Binder Binder

	// Prober defaults to [SystemProber].
	Prober Prober

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// Manager establishes and tears down the mount table of one target
// tree.
type Manager struct {
	tree   string
	points []Point
	binder Binder
	prober Prober
	logger *slog.Logger
}

// BindError reports a failure to establish one mount point. The binds
// established earlier in the same call have already been unwound when
// this is returned (unwind failures are joined alongside).
type BindError struct {
	Target string
	Err    error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("mount: binding %s: %v", e.Target, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// UnbindError reports that teardown left one or more mounts behind.
// The wrapped error joins every individual failure; everything else
// was still unmounted.
type UnbindError struct {
	Err error
}

func (e *UnbindError) Error() string {
	return fmt.Sprintf("mount: teardown incomplete: %v", e.Err)
}

func (e *UnbindError) Unwrap() error { return e.Err }

// New builds a Manager, applying defaults for unset fields.
func New(config Config) (*Manager, error) {
	if config.Tree == "" {
		return nil, fmt.Errorf("mount: Config.Tree is required")
	}
	if !filepath.IsAbs(config.Tree) {
		return nil, fmt.Errorf("mount: Config.Tree must be absolute, got %q", config.Tree)
	}
	m := &Manager{
		tree:   filepath.Clean(config.Tree),
		points: config.Points,
		binder: config.Binder,
		prober: config.Prober,
		logger: config.Logger,
	}
	if m.points == nil {
		m.points = DefaultPoints()
	}
	if m.binder == nil {
		m.binder = SystemBinder{}
	}
	if m.prober == nil {
		m.prober = SystemProber{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m, nil
}

// BindAll establishes the mount table in order. Targets the kernel
// already reports as mounted are skipped, so calling BindAll over a
// half-set-up tree completes it. On failure, the binds established by
// this call (and only those) are unwound before returning.
func (m *Manager) BindAll() error {
	var established []Point
	for _, p := range m.points {
		created, err := m.bind(p)
		if created {
			established = append(established, p)
		}
		if err != nil {
			bindErr := &BindError{Target: m.abs(p.Target), Err: err}
			if unwindErr := m.unwind(established); unwindErr != nil {
				return errors.Join(bindErr, unwindErr)
			}
			return bindErr
		}
	}
	m.logger.Info("session mounts established", "tree", m.tree, "points", len(m.points))
	return nil
}

// UnbindAll tears down the mount table in reverse order, trusting only
// the kernel's view of what is mounted. Failures are collected; every
// remaining point is still attempted.
func (m *Manager) UnbindAll() error {
	var errs []error
	for i := len(m.points) - 1; i >= 0; i-- {
		if err := m.unbind(m.points[i]); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return &UnbindError{Err: err}
	}
	m.logger.Info("session mounts torn down", "tree", m.tree)
	return nil
}

// PointStatus reports the probed state of one table entry.
type PointStatus struct {
	Point  Point
	Target string
	Bound  bool
}

// Status probes every table entry. Copy entries report file presence.
func (m *Manager) Status() ([]PointStatus, error) {
	statuses := make([]PointStatus, 0, len(m.points))
	for _, p := range m.points {
		target := m.abs(p.Target)
		status := PointStatus{Point: p, Target: target}
		if p.Kind == KindCopy {
			_, err := os.Stat(target)
			status.Bound = err == nil
		} else {
			bound, err := m.prober.Mounted(target)
			if err != nil {
				return nil, fmt.Errorf("mount: probing %s: %w", target, err)
			}
			status.Bound = bound
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func (m *Manager) abs(rel string) string {
	return filepath.Join(m.tree, rel)
}

// bind establishes one point. created reports whether this call
// changed kernel state (and thus owns the corresponding teardown on
// failure); a partial recursive bind returns created=true together
// with the error.
func (m *Manager) bind(p Point) (created bool, err error) {
	target := m.abs(p.Target)
	if p.Kind == KindCopy {
		return false, m.copyFile(p.Source, target)
	}

	bound, err := m.prober.Mounted(target)
	if err != nil {
		return false, err
	}
	if bound {
		m.logger.Debug("target already mounted, skipping", "target", target)
		return false, nil
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return false, err
	}

	switch p.Kind {
	case KindMount:
		if err := m.binder.Mount(p.Source, target, p.FSType, p.Flags, p.Data); err != nil {
			return false, err
		}
	case KindRBind:
		if err := m.binder.Mount(p.Source, target, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
			return false, err
		}
		if err := m.binder.Mount("", target, "", unix.MS_SLAVE|unix.MS_REC, ""); err != nil {
			return true, fmt.Errorf("setting slave propagation: %w", err)
		}
	default:
		return false, fmt.Errorf("unknown point kind %d", p.Kind)
	}
	m.logger.Debug("mounted", "target", target, "kind", p.Kind.String(), "source", p.Source)
	return true, nil
}

// unwind tears down points established by a failed BindAll, most
// recent first.
func (m *Manager) unwind(established []Point) error {
	var errs []error
	for i := len(established) - 1; i >= 0; i-- {
		if err := m.unbind(established[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// unbind tears down one point according to probed state. Recursive
// binds unmount everything below the target, deepest first, so a /dev
// bind full of nested pts/shm/mqueue mounts comes apart cleanly.
func (m *Manager) unbind(p Point) error {
	if p.Kind == KindCopy {
		return nil
	}
	target := m.abs(p.Target)

	if p.Kind == KindRBind {
		points, err := m.prober.MountsUnder(target)
		if err != nil {
			return fmt.Errorf("mount: probing %s: %w", target, err)
		}
		sortByDepth(points)
		var errs []error
		for _, point := range points {
			if err := m.binder.Unmount(point, 0); err != nil {
				errs = append(errs, fmt.Errorf("mount: unmounting %s: %w", point, err))
				continue
			}
			m.logger.Debug("unmounted", "target", point)
		}
		return errors.Join(errs...)
	}

	bound, err := m.prober.Mounted(target)
	if err != nil {
		return fmt.Errorf("mount: probing %s: %w", target, err)
	}
	if !bound {
		m.logger.Debug("target not mounted, skipping", "target", target)
		return nil
	}
	if err := m.binder.Unmount(target, 0); err != nil {
		return fmt.Errorf("mount: unmounting %s: %w", target, err)
	}
	m.logger.Debug("unmounted", "target", target)
	return nil
}

// copyFile refreshes a host file inside the tree. resolv.conf is often
// a symlink on the host; the copy always materializes plain file
// content.
func (m *Manager) copyFile(source, target string) error {
	data, err := os.ReadFile(source)
	if err != nil {
		return fmt.Errorf("reading %s: %w", source, err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	// The tree's own resolv.conf may be a dangling symlink into
	// /run; writing through it would fail or escape the tree.
	if fi, err := os.Lstat(target); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(target); err != nil {
			return err
		}
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", target, err)
	}
	m.logger.Debug("copied", "source", source, "target", target)
	return nil
}

// sortByDepth orders mount points deepest first.
func sortByDepth(points []string) {
	sort.Slice(points, func(i, j int) bool {
		di, dj := strings.Count(points[i], "/"), strings.Count(points[j], "/")
		if di != dj {
			return di > dj
		}
		return points[i] > points[j]
	})
}
