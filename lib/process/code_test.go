// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stagehand-project/stagehand/lib/chroot"
	"github.com/stagehand-project/stagehand/lib/digest"
	"github.com/stagehand-project/stagehand/lib/keyring"
	"github.com/stagehand-project/stagehand/lib/mount"
	"github.com/stagehand-project/stagehand/lib/session"
	"github.com/stagehand-project/stagehand/lib/stage"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"unclassified", errors.New("boom"), CodeError},
		{"child exit passthrough", &chroot.ExitError{Code: 7}, 7},
		{"child signal death", &chroot.ExitError{Code: 130}, 130},
		{
			"interrupt",
			fmt.Errorf("session: fetching pointer: %w", context.Canceled),
			CodeInterrupt,
		},
		{
			"key validity",
			&keyring.KeyExpiredError{Name: "Gentoo release", Fingerprint: "ABCD"},
			CodeKeyValidity,
		},
		{
			"signature",
			&keyring.SignatureInvalidError{Reason: "no declared key signed this"},
			CodeSignature,
		},
		{
			"digest mismatch",
			&digest.MismatchError{Name: "stage3.tar.xz"},
			CodeDigestMismatch,
		},
		{
			"digest unavailable",
			&digest.UnavailableError{Name: "stage3.tar.xz"},
			CodeDigestUnavailable,
		},
		{
			"extract",
			&stage.ExtractError{Path: "usr/bin/passwd", Err: errors.New("short write")},
			CodeExtract,
		},
		{
			"unbootstrapped tree",
			&session.NotBootstrappedError{Tree: "/mnt/tree"},
			CodePrepare,
		},
		{
			"interrupted session",
			fmt.Errorf("session shell interrupted: %w", context.Canceled),
			CodeInterrupt,
		},
		{
			"mount",
			&mount.BindError{Target: "/mnt/tree/proc", Err: errors.New("EPERM")},
			CodeMount,
		},
		{
			"unmount",
			&mount.UnbindError{Err: errors.New("EBUSY")},
			CodeUnmount,
		},
		{
			"spawn",
			&chroot.StartError{Tree: "/mnt/tree", Err: errors.New("no such file")},
			CodeSpawn,
		},
		{
			"generic acquire",
			&stage.AcquireError{Step: "download", Err: errors.New("connection refused")},
			CodeAcquire,
		},
		{
			"mismatch inside acquire wins over acquire",
			&stage.AcquireError{Step: "verify", Err: &digest.MismatchError{Name: "stage3.tar.xz"}},
			CodeDigestMismatch,
		},
		{
			"expired key inside acquire",
			&stage.AcquireError{Step: "verify", Err: &keyring.KeyExpiredError{Name: "old key"}},
			CodeKeyValidity,
		},
		{
			"wrapped bind error",
			fmt.Errorf("session: preparing mounts: %w", &mount.BindError{Target: "/mnt/tree/dev"}),
			CodeMount,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
