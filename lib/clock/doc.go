// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability.
//
// Production code injects [Real]; tests inject [Fake] and advance it
// manually. Anything that compares against the current time (trust
// keyring validity windows, portage sync staleness) takes a Clock
// instead of calling the time package directly, so tests can pin the
// clock to either side of a boundary without sleeping.
package clock
