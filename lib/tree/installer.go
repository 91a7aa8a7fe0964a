// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Installer copies files from a source filesystem into a target tree.
type Installer struct {
	source    fs.FS
	target    string
	installed []string
	logger    *slog.Logger
}

// NewInstaller builds an Installer placing files from source under the
// target directory. A nil logger defaults to [slog.Default].
func NewInstaller(source fs.FS, target string, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{source: source, target: target, logger: logger}
}

// Install copies relPath from the source filesystem to the same path
// under the target tree, creating parent directories as needed. The
// file gets the given mode and, when running as root, root ownership.
// Returns the target path.
func (i *Installer) Install(relPath string, mode fs.FileMode) (string, error) {
	rel := strings.TrimPrefix(relPath, "/")
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("tree: install path %q escapes the tree", relPath)
	}

	src, err := i.source.Open(rel)
	if err != nil {
		return "", fmt.Errorf("tree: opening source %s: %w", rel, err)
	}
	defer src.Close()

	target := filepath.Join(i.target, rel)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("tree: creating %s: %w", filepath.Dir(target), err)
	}
	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return "", fmt.Errorf("tree: creating %s: %w", target, err)
	}
	_, err = io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("tree: writing %s: %w", target, err)
	}
	// O_CREATE honors the umask; the caller asked for this exact mode.
	if err := os.Chmod(target, mode); err != nil {
		return "", fmt.Errorf("tree: setting mode on %s: %w", target, err)
	}
	if os.Geteuid() == 0 {
		if err := os.Chown(target, 0, 0); err != nil {
			return "", fmt.Errorf("tree: setting owner on %s: %w", target, err)
		}
	}

	i.installed = append(i.installed, rel)
	i.logger.Debug("installed file", "path", target, "mode", mode)
	return target, nil
}

// Installed returns the tree-relative paths installed so far, in
// installation order.
func (i *Installer) Installed() []string {
	out := make([]string, len(i.installed))
	copy(out, i.installed)
	return out
}

// Uninstall removes one previously installed file.
func (i *Installer) Uninstall(relPath string) error {
	rel := strings.TrimPrefix(relPath, "/")
	for idx, p := range i.installed {
		if p == rel {
			i.installed = append(i.installed[:idx], i.installed[idx+1:]...)
			return i.remove(rel)
		}
	}
	return fmt.Errorf("tree: %s was not installed by this installer", relPath)
}

// UninstallAll removes every installed file in reverse installation
// order, continuing past failures and returning them joined.
func (i *Installer) UninstallAll() error {
	var errs []error
	for idx := len(i.installed) - 1; idx >= 0; idx-- {
		if err := i.remove(i.installed[idx]); err != nil {
			errs = append(errs, err)
		}
	}
	i.installed = i.installed[:0]
	return errors.Join(errs...)
}

func (i *Installer) remove(rel string) error {
	target := filepath.Join(i.target, rel)
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("tree: removing %s: %w", target, err)
	}
	return nil
}
