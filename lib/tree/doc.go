// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

// Package tree installs files into the target tree.
//
// An [Installer] copies files from a source filesystem (an embedded
// fs.FS or a host directory) to tree-relative paths, creating parent
// directories and applying an explicit mode, and remembers what it
// installed so the whole set can be removed again in reverse order.
// Files land owned by root when the process runs as root, matching
// what the tree's own package manager would do.
package tree
