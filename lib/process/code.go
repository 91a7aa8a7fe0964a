// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"errors"

	"github.com/stagehand-project/stagehand/lib/chroot"
	"github.com/stagehand-project/stagehand/lib/digest"
	"github.com/stagehand-project/stagehand/lib/keyring"
	"github.com/stagehand-project/stagehand/lib/mount"
	"github.com/stagehand-project/stagehand/lib/session"
	"github.com/stagehand-project/stagehand/lib/stage"
)

// Exit codes by failure class. 3-9 and 17-19 are reserved for future
// acquisition and preparation classes; codes above 128 follow the
// shell convention for signal deaths.
const (
	CodeError             = 1   // unclassified failure
	CodeUsage             = 2   // bad command line
	CodeAcquire           = 10  // download or mirror resolution failed
	CodeDigestMismatch    = 11  // artifact hash does not match manifest
	CodeDigestUnavailable = 12  // no published hash algorithm usable
	CodeSignature         = 13  // manifest signature invalid or unknown signer
	CodeKeyValidity       = 14  // signing key outside its validity window
	CodeExtract           = 15  // archive extraction failed
	CodePrepare           = 16  // session entered against an unbootstrapped tree
	CodeMount             = 20  // session mount setup failed
	CodeUnmount           = 21  // session teardown left mounts behind
	CodeSpawn             = 30  // chroot command could not start
	CodeInterrupt         = 130 // cancelled by SIGINT or SIGTERM
)

// ExitCode maps an error to the process exit code for that failure
// class. A command that ran inside the tree and exited non-zero keeps
// its own code. Wrapped errors are classified by the innermost typed
// error, so a digest mismatch inside an acquisition step reports the
// mismatch, not the generic acquisition failure.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if code, ok := chroot.IsExitError(err); ok {
		return code
	}
	if errors.Is(err, context.Canceled) {
		return CodeInterrupt
	}

	var keyErr *keyring.KeyExpiredError
	if errors.As(err, &keyErr) {
		return CodeKeyValidity
	}
	var sigErr *keyring.SignatureInvalidError
	if errors.As(err, &sigErr) {
		return CodeSignature
	}
	var mismatchErr *digest.MismatchError
	if errors.As(err, &mismatchErr) {
		return CodeDigestMismatch
	}
	var unavailErr *digest.UnavailableError
	if errors.As(err, &unavailErr) {
		return CodeDigestUnavailable
	}
	var extractErr *stage.ExtractError
	if errors.As(err, &extractErr) {
		return CodeExtract
	}
	var notBootstrapped *session.NotBootstrappedError
	if errors.As(err, &notBootstrapped) {
		return CodePrepare
	}
	var bindErr *mount.BindError
	if errors.As(err, &bindErr) {
		return CodeMount
	}
	var unbindErr *mount.UnbindError
	if errors.As(err, &unbindErr) {
		return CodeUnmount
	}
	var acquireErr *stage.AcquireError
	if errors.As(err, &acquireErr) {
		return CodeAcquire
	}
	var startErr *chroot.StartError
	if errors.As(err, &startErr) {
		return CodeSpawn
	}
	return CodeError
}
