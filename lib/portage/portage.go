// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package portage

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stagehand-project/stagehand/lib/chroot"
	"github.com/stagehand-project/stagehand/lib/clock"
	"github.com/stagehand-project/stagehand/lib/tree"
)

// syncStaleness is how old the repository timestamp may get before
// Sync runs emerge --sync again.
const syncStaleness = 24 * time.Hour

// timestampLayout matches timestamp.chk, e.g.
// "Mon, 04 Aug 2026 16:45:01 +0000".
const timestampLayout = "Mon, 02 Jan 2006 15:04:05 -0700"

// timestampRel locates the repository timestamp inside the tree. The
// path follows the repos.conf this package installs.
const timestampRel = "usr/portage/metadata/timestamp.chk"

//go:embed data/portage-basic
var dataFiles embed.FS

var baseFiles = func() fs.FS {
	sub, err := fs.Sub(dataFiles, "data/portage-basic")
	if err != nil {
		panic("portage: embedded file set: " + err.Error())
	}
	return sub
}()

// baseFileList is installed by InstallBaseFiles, in order.
var baseFileList = []string{
	"etc/portage/make.conf",
	"etc/portage/repos.conf/gentoo.conf",
	"usr/local/portage/metadata/layout.conf",
	"usr/local/portage/profiles/repo_name",
	"var/lib/portage/world",
}

// Runner runs commands inside the target tree. *chroot.Executor
// implements it.
type Runner interface {
	Run(ctx context.Context, script string) error
	Output(ctx context.Context, script string) (string, error)
	Tree() string
}

var _ Runner = (*chroot.Executor)(nil)

// Config configures a [Manager].
type Config struct {
	// Runner executes in-tree commands. Required.
	Runner Runner

	// Clock decides sync staleness. Defaults to [clock.Real].
	Clock clock.Clock

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// Manager drives portage inside one target tree.
type Manager struct {
	runner Runner
	clock  clock.Clock
	logger *slog.Logger
}

// New builds a Manager, applying defaults for unset fields.
func New(config Config) (*Manager, error) {
	if config.Runner == nil {
		return nil, fmt.Errorf("portage: Config.Runner is required")
	}
	m := &Manager{
		runner: config.Runner,
		clock:  config.Clock,
		logger: config.Logger,
	}
	if m.clock == nil {
		m.clock = clock.Real()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m, nil
}

// InstallBaseFiles seeds the tree with the embedded portage file set
// and makes sure the repository directory exists inside the tree.
func (m *Manager) InstallBaseFiles(ctx context.Context) error {
	installer := tree.NewInstaller(baseFiles, m.runner.Tree(), m.logger)
	for _, rel := range baseFileList {
		if _, err := installer.Install(rel, 0o644); err != nil {
			return fmt.Errorf("portage: installing base files: %w", err)
		}
	}

	repoDir, err := m.runner.Output(ctx, "portageq get_repo_path / gentoo")
	if err != nil {
		return fmt.Errorf("portage: locating repository: %w", err)
	}
	if err := m.runner.Run(ctx, "mkdir -p "+chroot.Quote(repoDir)); err != nil {
		return fmt.Errorf("portage: creating repository directory: %w", err)
	}
	m.logger.Info("portage base files installed",
		"tree", m.runner.Tree(), "files", len(baseFileList), "repo", repoDir)
	return nil
}

// TreeExists reports whether the repository has ever been populated.
func (m *Manager) TreeExists() bool {
	_, err := os.Stat(m.timestampPath())
	return err == nil
}

// NeedsSync reports whether the repository timestamp is missing or
// older than the staleness window.
func (m *Manager) NeedsSync() (bool, error) {
	data, err := os.ReadFile(m.timestampPath())
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("portage: reading timestamp: %w", err)
	}
	line, _, _ := strings.Cut(string(data), "\n")
	stamp, err := time.Parse(timestampLayout, strings.TrimSpace(line))
	if err != nil {
		return false, fmt.Errorf("portage: parsing timestamp %q: %w", strings.TrimSpace(line), err)
	}
	return m.clock.Now().UTC().Sub(stamp) >= syncStaleness, nil
}

// Sync brings the repository up to date: a tree that has never been
// populated gets the full webrsync snapshot first, then a stale
// timestamp triggers emerge --sync. A fresh tree does nothing.
func (m *Manager) Sync(ctx context.Context) error {
	if !m.TreeExists() {
		m.logger.Info("downloading portage tree snapshot")
		if err := m.runner.Run(ctx, "emerge-webrsync"); err != nil {
			return fmt.Errorf("portage: webrsync: %w", err)
		}
	}

	stale, err := m.NeedsSync()
	if err != nil {
		return err
	}
	if !stale {
		m.logger.Info("portage tree is in sync")
		return nil
	}
	m.logger.Info("syncing portage tree")
	if err := m.runner.Run(ctx, "emerge --sync"); err != nil {
		return fmt.Errorf("portage: sync: %w", err)
	}
	if stale, err := m.NeedsSync(); err == nil && stale {
		m.logger.Warn("repository timestamp still stale after sync",
			"path", m.timestampPath())
	}
	return nil
}

// Install emerges the given packages. Package atoms must not look like
// emerge flags; the flag set is fixed.
func (m *Manager) Install(ctx context.Context, packages []string) error {
	if len(packages) == 0 {
		return fmt.Errorf("portage: no packages given")
	}
	for _, pkg := range packages {
		if strings.HasPrefix(pkg, "-") {
			return fmt.Errorf("portage: package %q looks like a flag", pkg)
		}
	}
	args := append([]string{"emerge", "--autounmask-write", "--quiet-build=y"}, packages...)
	m.logger.Info("installing packages", "packages", packages)
	if err := m.runner.Run(ctx, chroot.Quote(args...)); err != nil {
		return fmt.Errorf("portage: emerge: %w", err)
	}
	return nil
}

// Upgrade rebuilds the world set with changed-USE and deep dependency
// handling.
func (m *Manager) Upgrade(ctx context.Context) error {
	m.logger.Info("upgrading @world")
	script := chroot.Quote("emerge", "--autounmask-write", "--quiet-build=y", "-NuD", "@world")
	if err := m.runner.Run(ctx, script); err != nil {
		return fmt.Errorf("portage: upgrade: %w", err)
	}
	return nil
}

// CleanDist removes everything under the tree's distfiles directory.
func (m *Manager) CleanDist(ctx context.Context) error {
	distDir, err := m.runner.Output(ctx, "portageq distdir")
	if err != nil {
		return fmt.Errorf("portage: locating distdir: %w", err)
	}
	// A misconfigured portage answering "/" or "/usr" must not turn
	// this into a tree wipe.
	if !strings.HasPrefix(distDir, "/") || strings.Count(filepath.Clean(distDir), "/") < 2 {
		return fmt.Errorf("portage: refusing to clean suspicious distdir %q", distDir)
	}
	m.logger.Info("cleaning distfiles", "dir", distDir)
	script := chroot.Quote("find", distDir, "-mindepth", "1", "-delete")
	if err := m.runner.Run(ctx, script); err != nil {
		return fmt.Errorf("portage: cleaning distdir: %w", err)
	}
	return nil
}

// SelectProfile switches the tree's portage profile.
func (m *Manager) SelectProfile(ctx context.Context, profile string) error {
	if profile == "" {
		return fmt.Errorf("portage: profile is required")
	}
	m.logger.Info("selecting profile", "profile", profile)
	if err := m.runner.Run(ctx, chroot.Quote("eselect", "profile", "set", profile)); err != nil {
		return fmt.Errorf("portage: selecting profile: %w", err)
	}
	return nil
}

func (m *Manager) timestampPath() string {
	return filepath.Join(m.runner.Tree(), filepath.FromSlash(timestampRel))
}
