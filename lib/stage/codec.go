// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package stage

import (
	"compress/bzip2"
	"fmt"
	"io"
	"path"
	"sort"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// decompressors maps artifact extensions to streaming decompressor
// constructors. ".tar" passes through for uncompressed archives.
var decompressors = map[string]func(io.Reader) (io.ReadCloser, error){
	".tar": func(r io.Reader) (io.ReadCloser, error) {
		return io.NopCloser(r), nil
	},
	".xz": func(r io.Reader) (io.ReadCloser, error) {
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	},
	".bz2": func(r io.Reader) (io.ReadCloser, error) {
		return io.NopCloser(bzip2.NewReader(r)), nil
	},
	".gz": func(r io.Reader) (io.ReadCloser, error) {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr, nil
	},
	".zst": func(r io.Reader) (io.ReadCloser, error) {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	},
	".lz4": func(r io.Reader) (io.ReadCloser, error) {
		return io.NopCloser(lz4.NewReader(r)), nil
	},
}

// openCompressed wraps r with the decompressor selected by name's
// extension.
func openCompressed(name string, r io.Reader) (io.ReadCloser, error) {
	ext := path.Ext(name)
	open, ok := decompressors[ext]
	if !ok {
		return nil, fmt.Errorf("stage: unsupported artifact compression %q (supported: %v)",
			ext, supportedExtensions())
	}
	rc, err := open(r)
	if err != nil {
		return nil, fmt.Errorf("stage: opening %s stream: %w", ext, err)
	}
	return rc, nil
}

func supportedExtensions() []string {
	exts := make([]string, 0, len(decompressors))
	for ext := range decompressors {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
