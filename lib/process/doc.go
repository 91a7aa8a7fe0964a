// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers: fatal error
// reporting to stderr before the structured logger exists, and the
// mapping from error classes to process exit codes.
//
// Stagehand reserves distinct exit codes per failure class so that
// provisioning scripts wrapping the binary can react without parsing
// stderr. Commands run inside the target tree propagate the child's
// own exit code unchanged.
package process
