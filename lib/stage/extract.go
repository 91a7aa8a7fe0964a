// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package stage

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// paxXattrPrefix is the PAX record prefix tar uses for extended
// attributes. Stage tarballs carry file capabilities this way.
const paxXattrPrefix = "SCHILY.xattr."

// ExtractError reports a failure while unpacking one archive entry.
type ExtractError struct {
	Path string
	Err  error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("stage: extracting %s: %v", e.Path, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// ExtractStats summarizes one extraction.
type ExtractStats struct {
	Files    int
	Dirs     int
	Symlinks int
	Links    int
	Devices  int
	Bytes    int64
}

// ExtractorConfig configures an [Extractor].
type ExtractorConfig struct {
	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// Extractor unpacks stage tarballs, preserving numeric ownership,
// modes, device nodes, and extended attributes when running as root.
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor builds an Extractor, applying defaults for unset
// fields.
func NewExtractor(config ExtractorConfig) *Extractor {
	e := &Extractor{logger: config.Logger}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Extract unpacks artifact into tree. The artifact must already be
// verified; Extract trusts its contents except for entry paths, which
// must stay inside the tree. Unprivileged runs skip ownership and
// device nodes so tests can exercise the full path, but a real
// bootstrap needs root.
func (e *Extractor) Extract(ctx context.Context, artifact, tree string) (ExtractStats, error) {
	var stats ExtractStats

	f, err := os.Open(artifact)
	if err != nil {
		return stats, fmt.Errorf("stage: opening artifact: %w", err)
	}
	defer f.Close()

	stream, err := openCompressed(artifact, bufio.NewReaderSize(f, 1<<20))
	if err != nil {
		return stats, err
	}
	defer stream.Close()

	root := os.Geteuid() == 0
	if !root {
		e.logger.Warn("extracting unprivileged: ownership and device nodes will be skipped")
	}

	type dirFixup struct {
		path string
		hdr  *tar.Header
	}
	var dirs []dirFixup

	reader := tar.NewReader(stream)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		hdr, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, &ExtractError{Path: artifact, Err: err}
		}

		name := path.Clean(strings.TrimPrefix(hdr.Name, "./"))
		if name == "." || name == "" {
			continue
		}
		if !filepath.IsLocal(name) {
			return stats, &ExtractError{Path: hdr.Name, Err: errors.New("entry escapes the target tree")}
		}
		target := filepath.Join(tree, filepath.FromSlash(name))

		switch hdr.Typeflag {
		case tar.TypeXGlobalHeader:
			continue

		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return stats, &ExtractError{Path: name, Err: err}
			}
			// Modes and times are fixed up after extraction so
			// children do not clobber them and restrictive modes do
			// not block further writes.
			dirs = append(dirs, dirFixup{path: target, hdr: hdr})
			stats.Dirs++

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return stats, &ExtractError{Path: name, Err: err}
			}
			w, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return stats, &ExtractError{Path: name, Err: err}
			}
			n, err := io.Copy(w, reader)
			if closeErr := w.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				return stats, &ExtractError{Path: name, Err: err}
			}
			stats.Bytes += n
			stats.Files++
			if err := e.applyMeta(target, hdr, root); err != nil {
				return stats, &ExtractError{Path: name, Err: err}
			}

		case tar.TypeSymlink:
			if err := replaceNode(target, func() error {
				return os.Symlink(hdr.Linkname, target)
			}); err != nil {
				return stats, &ExtractError{Path: name, Err: err}
			}
			if root {
				if err := os.Lchown(target, hdr.Uid, hdr.Gid); err != nil {
					return stats, &ExtractError{Path: name, Err: err}
				}
			}
			stats.Symlinks++

		case tar.TypeLink:
			linkname := path.Clean(strings.TrimPrefix(hdr.Linkname, "/"))
			if !filepath.IsLocal(linkname) {
				return stats, &ExtractError{Path: hdr.Name, Err: errors.New("hard link target escapes the target tree")}
			}
			src := filepath.Join(tree, filepath.FromSlash(linkname))
			if err := replaceNode(target, func() error {
				return os.Link(src, target)
			}); err != nil {
				return stats, &ExtractError{Path: name, Err: err}
			}
			stats.Links++

		case tar.TypeChar, tar.TypeBlock:
			if !root {
				continue
			}
			mode := uint32(hdr.Mode & 0o7777)
			if hdr.Typeflag == tar.TypeChar {
				mode |= unix.S_IFCHR
			} else {
				mode |= unix.S_IFBLK
			}
			dev := unix.Mkdev(uint32(hdr.Devmajor), uint32(hdr.Devminor))
			if err := replaceNode(target, func() error {
				return unix.Mknod(target, mode, int(dev))
			}); err != nil {
				return stats, &ExtractError{Path: name, Err: err}
			}
			if err := e.applyMeta(target, hdr, root); err != nil {
				return stats, &ExtractError{Path: name, Err: err}
			}
			stats.Devices++

		case tar.TypeFifo:
			if err := replaceNode(target, func() error {
				return unix.Mkfifo(target, uint32(hdr.Mode&0o7777))
			}); err != nil {
				return stats, &ExtractError{Path: name, Err: err}
			}
			if err := e.applyMeta(target, hdr, root); err != nil {
				return stats, &ExtractError{Path: name, Err: err}
			}

		default:
			e.logger.Warn("skipping unsupported tar entry",
				"name", name, "type", hdr.Typeflag)
		}
	}

	for i := len(dirs) - 1; i >= 0; i-- {
		if err := e.applyMeta(dirs[i].path, dirs[i].hdr, root); err != nil {
			return stats, &ExtractError{Path: dirs[i].path, Err: err}
		}
	}

	e.logger.Info("stage tree extracted",
		"tree", tree, "files", stats.Files, "dirs", stats.Dirs,
		"symlinks", stats.Symlinks, "links", stats.Links,
		"devices", stats.Devices, "bytes", stats.Bytes)
	return stats, nil
}

// applyMeta restores mode, ownership, xattrs, and times on a
// non-symlink node.
func (e *Extractor) applyMeta(target string, hdr *tar.Header, root bool) error {
	if err := os.Chmod(target, hdr.FileInfo().Mode()); err != nil {
		return err
	}
	if root {
		if err := os.Lchown(target, hdr.Uid, hdr.Gid); err != nil {
			return err
		}
	}
	for key, value := range hdr.PAXRecords {
		if !strings.HasPrefix(key, paxXattrPrefix) {
			continue
		}
		attr := strings.TrimPrefix(key, paxXattrPrefix)
		if err := unix.Lsetxattr(target, attr, []byte(value), 0); err != nil {
			// Filesystems without xattr support and unprivileged
			// runs lose capabilities, not correctness.
			if errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EPERM) {
				e.logger.Debug("skipping xattr", "path", target, "attr", attr, "error", err)
				continue
			}
			return fmt.Errorf("setting xattr %s: %w", attr, err)
		}
	}
	if !hdr.ModTime.IsZero() {
		atime := hdr.AccessTime
		if atime.IsZero() {
			atime = hdr.ModTime
		}
		if err := os.Chtimes(target, atime, hdr.ModTime); err != nil {
			return err
		}
	}
	return nil
}

// replaceNode runs create, removing a pre-existing node at target
// first if create fails with EEXIST. Duplicate entries in a tarball
// are last-one-wins.
func replaceNode(target string, create func() error) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	err := create()
	if err != nil && os.IsExist(err) {
		if err := os.RemoveAll(target); err != nil {
			return err
		}
		err = create()
	}
	return err
}
