// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

// Package digest verifies downloaded release artifacts against the
// digest manifests published alongside them.
//
// Upstream manifests declare digests under several algorithms at once
// (historically SHA512 and WHIRLPOOL, later BLAKE2B), and not every
// algorithm is computable in every runtime. [Verifier] therefore works
// from an ordered preference list: it computes every algorithm that is
// both published for the file and available here, in a single streaming
// pass, and accepts the artifact when the highest-preference computed
// digest matches. Failure is split into two distinct conditions the
// caller must not conflate: [UnavailableError] when nothing on the list
// could be computed at all, and [MismatchError] when digests were
// computed but none matched. The latter means the artifact is corrupt
// and must never be extracted.
//
// [Manifest] parses the published digest file format: "# <ALGO> HASH"
// section headers followed by "<hex>  <filename>" entries.
//
// Verification never mutates the artifact; deleting a corrupt download
// is the acquisition pipeline's job.
package digest
