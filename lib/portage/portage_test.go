// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package portage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stagehand-project/stagehand/lib/clock"
)

var testNow = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

type fakeRunner struct {
	tree    string
	scripts []string
	outputs map[string]string
	failOn  string
}

func (f *fakeRunner) Run(_ context.Context, script string) error {
	f.scripts = append(f.scripts, script)
	if script == f.failOn {
		return errors.New("command failed")
	}
	return nil
}

func (f *fakeRunner) Output(_ context.Context, script string) (string, error) {
	f.scripts = append(f.scripts, script)
	if script == f.failOn {
		return "", errors.New("command failed")
	}
	return f.outputs[script], nil
}

func (f *fakeRunner) Tree() string { return f.tree }

func newTestManager(t *testing.T) (*Manager, *fakeRunner) {
	t.Helper()
	runner := &fakeRunner{
		tree:    t.TempDir(),
		outputs: map[string]string{},
	}
	m, err := New(Config{
		Runner: runner,
		Clock:  clock.Fake(testNow),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, runner
}

// writeTimestamp plants a repository timestamp inside the tree.
func writeTimestamp(t *testing.T, treeDir string, stamp time.Time) {
	t.Helper()
	dir := filepath.Join(treeDir, "usr/portage/metadata")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := stamp.UTC().Format(timestampLayout) + "\n"
	if err := os.WriteFile(filepath.Join(dir, "timestamp.chk"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNewRequiresRunner(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for missing runner")
	}
}

func TestInstallBaseFiles(t *testing.T) {
	m, runner := newTestManager(t)
	runner.outputs["portageq get_repo_path / gentoo"] = "/usr/portage"

	if err := m.InstallBaseFiles(context.Background()); err != nil {
		t.Fatalf("InstallBaseFiles: %v", err)
	}

	makeConf, err := os.ReadFile(filepath.Join(runner.tree, "etc/portage/make.conf"))
	if err != nil {
		t.Fatalf("make.conf not installed: %v", err)
	}
	if !strings.Contains(string(makeConf), "COMMON_FLAGS") {
		t.Errorf("make.conf content unexpected: %q", makeConf)
	}

	reposConf, err := os.ReadFile(filepath.Join(runner.tree, "etc/portage/repos.conf/gentoo.conf"))
	if err != nil {
		t.Fatalf("gentoo.conf not installed: %v", err)
	}
	if !strings.Contains(string(reposConf), "main-repo = gentoo") {
		t.Errorf("gentoo.conf content unexpected: %q", reposConf)
	}

	world, err := os.Stat(filepath.Join(runner.tree, "var/lib/portage/world"))
	if err != nil {
		t.Fatalf("world not installed: %v", err)
	}
	if world.Size() != 0 {
		t.Errorf("world file should start empty, has %d bytes", world.Size())
	}

	want := []string{
		"portageq get_repo_path / gentoo",
		"mkdir -p /usr/portage",
	}
	if !slices.Equal(runner.scripts, want) {
		t.Errorf("scripts = %q, want %q", runner.scripts, want)
	}
}

func TestNeedsSync(t *testing.T) {
	t.Run("missing timestamp", func(t *testing.T) {
		m, _ := newTestManager(t)
		stale, err := m.NeedsSync()
		if err != nil {
			t.Fatal(err)
		}
		if !stale {
			t.Error("missing timestamp should need sync")
		}
		if m.TreeExists() {
			t.Error("TreeExists should be false without a timestamp")
		}
	})

	t.Run("fresh timestamp", func(t *testing.T) {
		m, runner := newTestManager(t)
		writeTimestamp(t, runner.tree, testNow.Add(-time.Hour))
		stale, err := m.NeedsSync()
		if err != nil {
			t.Fatal(err)
		}
		if stale {
			t.Error("one hour old timestamp should not need sync")
		}
	})

	t.Run("stale timestamp", func(t *testing.T) {
		m, runner := newTestManager(t)
		writeTimestamp(t, runner.tree, testNow.Add(-25*time.Hour))
		stale, err := m.NeedsSync()
		if err != nil {
			t.Fatal(err)
		}
		if !stale {
			t.Error("25 hour old timestamp should need sync")
		}
	})

	t.Run("garbage timestamp", func(t *testing.T) {
		m, runner := newTestManager(t)
		dir := filepath.Join(runner.tree, "usr/portage/metadata")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "timestamp.chk"), []byte("not a date\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := m.NeedsSync(); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestSync(t *testing.T) {
	t.Run("fresh tree does nothing", func(t *testing.T) {
		m, runner := newTestManager(t)
		writeTimestamp(t, runner.tree, testNow.Add(-time.Hour))

		if err := m.Sync(context.Background()); err != nil {
			t.Fatalf("Sync: %v", err)
		}
		if len(runner.scripts) != 0 {
			t.Errorf("expected no commands, got %q", runner.scripts)
		}
	})

	t.Run("stale tree syncs", func(t *testing.T) {
		m, runner := newTestManager(t)
		writeTimestamp(t, runner.tree, testNow.Add(-25*time.Hour))

		if err := m.Sync(context.Background()); err != nil {
			t.Fatalf("Sync: %v", err)
		}
		want := []string{"emerge --sync"}
		if !slices.Equal(runner.scripts, want) {
			t.Errorf("scripts = %q, want %q", runner.scripts, want)
		}
	})

	t.Run("empty tree gets snapshot first", func(t *testing.T) {
		m, runner := newTestManager(t)

		if err := m.Sync(context.Background()); err != nil {
			t.Fatalf("Sync: %v", err)
		}
		want := []string{"emerge-webrsync", "emerge --sync"}
		if !slices.Equal(runner.scripts, want) {
			t.Errorf("scripts = %q, want %q", runner.scripts, want)
		}
	})

	t.Run("webrsync failure stops the flow", func(t *testing.T) {
		m, runner := newTestManager(t)
		runner.failOn = "emerge-webrsync"

		if err := m.Sync(context.Background()); err == nil {
			t.Fatal("expected error")
		}
		if len(runner.scripts) != 1 {
			t.Errorf("expected only webrsync attempted, got %q", runner.scripts)
		}
	})
}

func TestInstallPackages(t *testing.T) {
	m, runner := newTestManager(t)

	err := m.Install(context.Background(), []string{"app-editors/vim", "dev-vcs/git"})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	want := []string{"emerge --autounmask-write --quiet-build=y app-editors/vim dev-vcs/git"}
	if !slices.Equal(runner.scripts, want) {
		t.Errorf("scripts = %q, want %q", runner.scripts, want)
	}
}

func TestInstallRejectsFlagLikePackages(t *testing.T) {
	m, runner := newTestManager(t)

	if err := m.Install(context.Background(), []string{"--unmerge"}); err == nil {
		t.Error("expected error for flag-like package")
	}
	if err := m.Install(context.Background(), nil); err == nil {
		t.Error("expected error for empty package list")
	}
	if len(runner.scripts) != 0 {
		t.Errorf("no commands should have run, got %q", runner.scripts)
	}
}

func TestUpgrade(t *testing.T) {
	m, runner := newTestManager(t)

	if err := m.Upgrade(context.Background()); err != nil {
		t.Fatalf("Upgrade: %v", err)
	}
	want := []string{"emerge --autounmask-write --quiet-build=y -NuD @world"}
	if !slices.Equal(runner.scripts, want) {
		t.Errorf("scripts = %q, want %q", runner.scripts, want)
	}
}

func TestCleanDist(t *testing.T) {
	m, runner := newTestManager(t)
	runner.outputs["portageq distdir"] = "/usr/portage/distfiles"

	if err := m.CleanDist(context.Background()); err != nil {
		t.Fatalf("CleanDist: %v", err)
	}
	want := []string{
		"portageq distdir",
		"find /usr/portage/distfiles -mindepth 1 -delete",
	}
	if !slices.Equal(runner.scripts, want) {
		t.Errorf("scripts = %q, want %q", runner.scripts, want)
	}
}

func TestCleanDistRefusesShallowDir(t *testing.T) {
	for _, dir := range []string{"/", "/usr", "", "relative/path"} {
		m, runner := newTestManager(t)
		runner.outputs["portageq distdir"] = dir

		if err := m.CleanDist(context.Background()); err == nil {
			t.Errorf("expected refusal for distdir %q", dir)
		}
		if len(runner.scripts) != 1 {
			t.Errorf("only the query should have run for %q, got %q", dir, runner.scripts)
		}
	}
}

func TestSelectProfile(t *testing.T) {
	m, runner := newTestManager(t)

	if err := m.SelectProfile(context.Background(), "default/linux/amd64/23.0"); err != nil {
		t.Fatalf("SelectProfile: %v", err)
	}
	want := []string{"eselect profile set default/linux/amd64/23.0"}
	if !slices.Equal(runner.scripts, want) {
		t.Errorf("scripts = %q, want %q", runner.scripts, want)
	}

	if err := m.SelectProfile(context.Background(), ""); err == nil {
		t.Error("expected error for empty profile")
	}
}
