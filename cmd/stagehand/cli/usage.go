// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// UsageError marks an error as an invocation problem: an unknown
// command or flag, a missing argument, or an invalid configuration
// value. main reports these with the usage exit code so scripts can
// tell a mistyped command line apart from a failed operation.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string {
	return e.Err.Error()
}

func (e *UsageError) Unwrap() error { return e.Err }

// Usagef returns a [UsageError] wrapping a formatted message.
func Usagef(format string, args ...any) error {
	return &UsageError{Err: fmt.Errorf(format, args...)}
}
