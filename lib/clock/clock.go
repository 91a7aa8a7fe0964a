// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock provides the time operations stagehand depends on. The
// interface is deliberately small: this codebase only ever reads the
// current time and occasionally pauses between retries.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep pauses the calling goroutine for at least duration d.
	Sleep(d time.Duration)
}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }
