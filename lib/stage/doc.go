// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

// Package stage acquires, authenticates, and extracts stage tarballs.
//
// [Pipeline.Bootstrap] runs the whole sequence: resolve the release
// (channel pointer file, or a pinned release path), fetch the
// clearsigned digest manifest, verify its signature against the trust
// bundle, download the tarball, verify its digest, and unpack it into
// the target tree. Order is load-bearing: nothing is extracted unless
// the signature authenticated the manifest and the manifest
// authenticated the bytes.
//
// A successful extraction writes a provenance marker into the tree
// root recording the artifact name, the digests that authenticated it,
// the signing key, and when it happened. The marker makes Bootstrap
// idempotent: a marked tree is left alone, a non-empty unmarked tree
// is refused, and Force wipes and rebuilds. Corrupt downloads are
// deleted so a re-run fetches fresh bytes; the staging directory
// itself is kept for inspection.
//
// Decompression is chosen by artifact extension. Stage tarballs have
// shipped as .tar.xz and .tar.bz2 over the years; gzip, zstd, and lz4
// cover locally repacked artifacts.
package stage
