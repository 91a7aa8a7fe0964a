// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the stagehand
// binary.
//
// The central type is [Command], which represents a named subcommand
// with optional nested [Command.Subcommands], a [pflag.FlagSet]
// factory, and a Run function. Commands are assembled into a tree in
// cmd/stagehand and dispatched via [Command.Execute], which handles
// flag parsing, subcommand routing, and structured help output with
// examples. The invocation context and logger are threaded through
// dispatch so every Run function can honor cancellation and log in a
// consistent shape.
//
// When a user types an unknown subcommand or flag, the framework
// computes Levenshtein edit distance against all known names and
// suggests the closest match (threshold: distance <= 3). This is
// implemented in suggest.go.
//
// Errors arising from the invocation itself rather than the requested
// operation are wrapped in [UsageError], which main maps to the usage
// exit code so scripts can tell a mistyped command line apart from a
// failed bootstrap or session.
package cli
