// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

// Package keyring authenticates clearsigned digest manifests against a
// declared set of release signing keys.
//
// Trust anchors live in a JSONC bundle: one entry per key with its
// fingerprint, a human name, an explicit validity window, and the
// armored key material. A default bundle is embedded in the binary
// with fingerprints and windows declared but material empty; [Refresh]
// downloads the published keyring and materializes each entry, pinning
// downloaded keys against the declared fingerprints so a compromised
// download cannot smuggle in a new signer.
//
// [Keyring.Verify] checks a clearsigned message and separates two
// failure modes the operator handles very differently:
//
//   - [SignatureInvalidError]: the signature does not verify, or the
//     signer is not in the bundle. The artifact must be treated as
//     hostile.
//   - [KeyExpiredError]: the signature is by a declared key whose
//     validity window has lapsed. The artifact may be fine; the bundle
//     needs a refresh.
//
// Validity windows are enforced from the bundle, not from key
// self-signatures, so an operator can retire a key without re-shipping
// binaries. Expiry decisions use an injected clock.
package keyring
