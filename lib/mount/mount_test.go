// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package mount

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

// fakeSystem implements Binder and Prober over an in-memory mount
// table. Recursive binds can be configured to bring nested mount
// points along, the way a real rbind of /dev brings pts and shm.
type fakeSystem struct {
	mounts       map[string]bool
	rbindSpawns  map[string][]string
	mountCalls   []string
	unmountCalls []string
	mountErr     map[string]error
	unmountErr   map[string]error
}

func newFakeSystem() *fakeSystem {
	return &fakeSystem{
		mounts:      make(map[string]bool),
		rbindSpawns: make(map[string][]string),
		mountErr:    make(map[string]error),
		unmountErr:  make(map[string]error),
	}
}

func (f *fakeSystem) Mount(source, target, fstype string, flags uintptr, data string) error {
	if flags&unix.MS_SLAVE != 0 {
		f.mountCalls = append(f.mountCalls, "rslave "+target)
		return nil
	}
	if err := f.mountErr[target]; err != nil {
		return err
	}
	f.mounts[target] = true
	if flags&unix.MS_BIND != 0 {
		for _, extra := range f.rbindSpawns[target] {
			f.mounts[extra] = true
		}
		f.mountCalls = append(f.mountCalls, "rbind "+target)
		return nil
	}
	f.mountCalls = append(f.mountCalls, "mount "+fstype+" "+target)
	return nil
}

func (f *fakeSystem) Unmount(target string, flags int) error {
	if err := f.unmountErr[target]; err != nil {
		return err
	}
	if !f.mounts[target] {
		return unix.EINVAL
	}
	delete(f.mounts, target)
	f.unmountCalls = append(f.unmountCalls, target)
	return nil
}

func (f *fakeSystem) Mounted(path string) (bool, error) {
	return f.mounts[path], nil
}

func (f *fakeSystem) MountsUnder(prefix string) ([]string, error) {
	var points []string
	for point := range f.mounts {
		if point == prefix || strings.HasPrefix(point, prefix+"/") {
			points = append(points, point)
		}
	}
	sort.Strings(points)
	return points, nil
}

// harness builds a manager over a temp tree with a fake kernel and a
// real resolv.conf source file.
func newMountHarness(t *testing.T) (*Manager, *fakeSystem, string) {
	t.Helper()
	tree := t.TempDir()
	fake := newFakeSystem()
	fake.rbindSpawns[filepath.Join(tree, "dev")] = []string{
		filepath.Join(tree, "dev/pts"),
		filepath.Join(tree, "dev/shm"),
	}

	resolv := filepath.Join(t.TempDir(), "resolv.conf")
	if err := os.WriteFile(resolv, []byte("nameserver 198.51.100.53\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	points := []Point{
		{Target: "proc", Source: "proc", FSType: "proc", Kind: KindMount},
		{Target: "dev", Source: "/dev", Kind: KindRBind},
		{Target: "dev/pts", Source: "devpts", FSType: "devpts", Kind: KindMount},
		{Target: "tmp", Source: "tmpfs", FSType: "tmpfs", Kind: KindMount},
		{Target: "etc/resolv.conf", Source: resolv, Kind: KindCopy},
	}
	m, err := New(Config{Tree: tree, Points: points, Binder: fake, Prober: fake})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, fake, tree
}

func TestBindAllAndUnbindAll(t *testing.T) {
	m, fake, tree := newMountHarness(t)

	if err := m.BindAll(); err != nil {
		t.Fatalf("BindAll: %v", err)
	}
	for _, target := range []string{"proc", "dev", "dev/pts", "tmp"} {
		if !fake.mounts[filepath.Join(tree, target)] {
			t.Errorf("%s not mounted after BindAll", target)
		}
	}
	// The devpts table entry must have been satisfied by the pts
	// mount the /dev rbind brought along, not mounted again.
	for _, call := range fake.mountCalls {
		if strings.HasPrefix(call, "mount devpts") {
			t.Errorf("devpts mounted despite rbind covering it: %v", fake.mountCalls)
		}
	}
	content, err := os.ReadFile(filepath.Join(tree, "etc/resolv.conf"))
	if err != nil {
		t.Fatalf("resolv.conf not copied: %v", err)
	}
	if !strings.Contains(string(content), "nameserver 198.51.100.53") {
		t.Errorf("resolv.conf content = %q", content)
	}

	if err := m.UnbindAll(); err != nil {
		t.Fatalf("UnbindAll: %v", err)
	}
	if len(fake.mounts) != 0 {
		t.Errorf("mounts left after UnbindAll: %v", fake.mounts)
	}

	// Children of the recursive bind must come down before it.
	index := func(target string) int {
		for i, call := range fake.unmountCalls {
			if call == filepath.Join(tree, target) {
				return i
			}
		}
		return -1
	}
	if index("dev/shm") == -1 || index("dev") == -1 || index("dev/shm") > index("dev") {
		t.Errorf("unmount order wrong: %v", fake.unmountCalls)
	}

	// Teardown of an already-clean tree is a no-op, not an error.
	if err := m.UnbindAll(); err != nil {
		t.Fatalf("second UnbindAll: %v", err)
	}
}

func TestBindAllIdempotent(t *testing.T) {
	m, fake, _ := newMountHarness(t)
	if err := m.BindAll(); err != nil {
		t.Fatalf("BindAll: %v", err)
	}
	calls := len(fake.mountCalls)
	if err := m.BindAll(); err != nil {
		t.Fatalf("second BindAll: %v", err)
	}
	if len(fake.mountCalls) != calls {
		t.Errorf("second BindAll issued syscalls: %v", fake.mountCalls[calls:])
	}
}

func TestBindAllUnwindsOwnBindsOnFailure(t *testing.T) {
	m, fake, tree := newMountHarness(t)

	// proc was mounted by someone else before this call.
	fake.mounts[filepath.Join(tree, "proc")] = true
	fake.mountErr[filepath.Join(tree, "tmp")] = unix.EPERM

	err := m.BindAll()
	var bindErr *BindError
	if !errors.As(err, &bindErr) {
		t.Fatalf("BindAll error = %v, want BindError", err)
	}
	if bindErr.Target != filepath.Join(tree, "tmp") {
		t.Errorf("BindError target = %s", bindErr.Target)
	}

	// The dev bind this call created is gone; the pre-existing proc
	// mount is not ours to touch.
	if fake.mounts[filepath.Join(tree, "dev")] {
		t.Error("failed BindAll left its own dev bind behind")
	}
	if !fake.mounts[filepath.Join(tree, "proc")] {
		t.Error("failed BindAll unwound a mount it did not create")
	}
}

func TestUnbindAllCollectsFailures(t *testing.T) {
	m, fake, tree := newMountHarness(t)
	if err := m.BindAll(); err != nil {
		t.Fatalf("BindAll: %v", err)
	}
	fake.unmountErr[filepath.Join(tree, "proc")] = unix.EBUSY

	err := m.UnbindAll()
	var unbindErr *UnbindError
	if !errors.As(err, &unbindErr) {
		t.Fatalf("UnbindAll error = %v, want UnbindError", err)
	}
	if !errors.Is(err, unix.EBUSY) {
		t.Errorf("UnbindError does not carry the EBUSY cause: %v", err)
	}
	// The busy mount stays; everything else still came down.
	if !fake.mounts[filepath.Join(tree, "proc")] {
		t.Error("busy mount disappeared")
	}
	if fake.mounts[filepath.Join(tree, "dev")] {
		t.Error("teardown stopped at the first failure")
	}
}

func TestStatus(t *testing.T) {
	m, _, _ := newMountHarness(t)

	statuses, err := m.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	for _, s := range statuses {
		if s.Bound {
			t.Errorf("%s reported bound before BindAll", s.Target)
		}
	}

	if err := m.BindAll(); err != nil {
		t.Fatalf("BindAll: %v", err)
	}
	statuses, err = m.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	for _, s := range statuses {
		if !s.Bound {
			t.Errorf("%s reported unbound after BindAll", s.Target)
		}
	}

	if err := m.UnbindAll(); err != nil {
		t.Fatalf("UnbindAll: %v", err)
	}
	statuses, err = m.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	for _, s := range statuses {
		// The copied resolv.conf persists across teardown; mounts
		// must not.
		if s.Point.Kind == KindCopy {
			if !s.Bound {
				t.Errorf("%s copy missing after teardown", s.Target)
			}
			continue
		}
		if s.Bound {
			t.Errorf("%s reported bound after UnbindAll", s.Target)
		}
	}
}

func TestCopyReplacesDanglingSymlink(t *testing.T) {
	m, _, tree := newMountHarness(t)
	if err := os.MkdirAll(filepath.Join(tree, "etc"), 0o755); err != nil {
		t.Fatal(err)
	}
	// Stage trees ship resolv.conf as a symlink into /run on some
	// profiles; the target does not exist inside a fresh tree.
	if err := os.Symlink("/run/missing/resolv.conf", filepath.Join(tree, "etc/resolv.conf")); err != nil {
		t.Fatal(err)
	}

	if err := m.BindAll(); err != nil {
		t.Fatalf("BindAll: %v", err)
	}
	fi, err := os.Lstat(filepath.Join(tree, "etc/resolv.conf"))
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		t.Error("resolv.conf is still a symlink after copy")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New accepted an empty tree")
	}
	if _, err := New(Config{Tree: "relative/path"}); err == nil {
		t.Error("New accepted a relative tree")
	}
}

func TestDefaultPointsOrder(t *testing.T) {
	points := DefaultPoints()
	if len(points) != 6 {
		t.Fatalf("DefaultPoints has %d entries, want 6", len(points))
	}
	if points[0].Target != "proc" || points[0].Kind != KindMount {
		t.Errorf("first point = %+v, want proc mount", points[0])
	}
	last := points[len(points)-1]
	if last.Kind != KindCopy || last.Target != "etc/resolv.conf" {
		t.Errorf("last point = %+v, want resolv.conf copy", last)
	}
}
