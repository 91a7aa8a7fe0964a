// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

// Package mirror fetches release artifacts from a distribution mirror.
//
// A mirror serves an autobuilds directory: pointer files naming the
// current release of each channel ("latest-stage3-amd64-openrc.txt"),
// and per-release directories holding the stage tarball, its digest
// manifest, and a contents listing. [Client.ResolveLatest] reads a
// pointer file; [Client.Download] streams an artifact to disk, writing
// through a .part file so an interrupted download never leaves a
// plausible-looking artifact behind, and skipping files that already
// exist so re-runs are cheap.
//
// Nothing here authenticates anything. Integrity and authenticity come
// from the digest and keyring packages, which is why the mirror URL
// may point at any untrusted HTTP host.
package mirror
